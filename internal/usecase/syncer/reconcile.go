package syncer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/folio-cloud/ragdex/internal/domain"
	"github.com/folio-cloud/ragdex/internal/logger"
)

const reconcilePageSize = 200

// Reconcile diffs the index against the live content store and removes
// orphans: documents whose source record no longer exists, or whose type
// is no longer watched. A deleted record whose index cleanup failed
// silently is repaired here without a full re-sync.
func (s *Service) Reconcile(ctx context.Context) (domain.ReconcileReport, error) {
	log := logger.FromContext(ctx)

	live, err := s.liveIDs(ctx)
	if err != nil {
		return domain.ReconcileReport{}, err
	}

	// Collect the full snapshot before deleting anything: removing
	// documents mid-walk would shift the paging offsets under us.
	var report domain.ReconcileReport
	var orphans []string
	offset := 0
	for {
		docs, total, err := s.index.List(ctx, offset, reconcilePageSize)
		if err != nil {
			return report, fmt.Errorf("list indexed documents: %w", err)
		}
		if len(docs) == 0 {
			break
		}

		for _, doc := range docs {
			report.Checked++

			sourceType := doc.Metadata[domain.MetaSourceType]
			sourceID := doc.Metadata[domain.MetaSourceID]
			ids, watched := live[sourceType]
			if watched && ids[sourceID] {
				continue
			}

			report.Orphans++
			log.Info("Found orphaned index document",
				zap.String("document_id", doc.DocumentID),
				zap.String("source_type", sourceType),
			)
			orphans = append(orphans, doc.DocumentID)
		}

		offset += len(docs)
		if offset >= total {
			break
		}
	}

	for _, documentID := range orphans {
		if err := s.index.Delete(ctx, documentID); err != nil {
			report.Failures++
			log.Error("Failed to remove orphan",
				zap.String("document_id", documentID),
				zap.Error(err),
			)
			continue
		}
		report.Removed++
	}

	return report, nil
}

// liveIDs fetches the current record ids per watched type.
func (s *Service) liveIDs(ctx context.Context) (map[string]map[string]bool, error) {
	live := make(map[string]map[string]bool)
	for _, sc := range s.schemas.Watched() {
		records, err := s.content.FindAll(ctx, sc)
		if err != nil {
			return nil, fmt.Errorf("fetch all %s: %w", sc.Type, err)
		}
		ids := make(map[string]bool, len(records))
		for _, rec := range records {
			ids[rec.ID] = true
		}
		live[sc.Type] = ids
	}
	return live, nil
}
