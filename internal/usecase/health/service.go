package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure with the service still usable.
	Degraded Status = "degraded"
	// Unhealthy indicates the service cannot do useful work.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// Service coordinates health checks.
type Service struct {
	db        DBPinger
	embedding EmbeddingChecker
	analyzer  AnalyzerProber
}

// New creates a Service. embedding and analyzer can be nil.
func New(db DBPinger, embedding EmbeddingChecker, analyzer AnalyzerProber) *Service {
	return &Service{db: db, embedding: embedding, analyzer: analyzer}
}

// Check runs health checks against all components. A database failure is
// fatal; an embedding or analyzer failure only degrades the service (the
// analyzer has a deterministic fallback, and reads still work without the
// embedding provider as long as nothing needs embedding).
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	dbDown := false
	if err := s.db.Ping(ctx); err != nil {
		checks["database"] = CheckError
		dbDown = true
	} else {
		checks["database"] = CheckOK
	}

	if s.embedding != nil {
		if err := s.embedding.HealthCheck(ctx); err != nil {
			checks["embedding"] = CheckError
		} else {
			checks["embedding"] = CheckOK
		}
	}

	if s.analyzer != nil {
		if err := s.analyzer.Ping(ctx); err != nil {
			checks["analyzer"] = CheckError
		} else {
			checks["analyzer"] = CheckOK
		}
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}
	if dbDown {
		status = Unhealthy
	}

	return Report{Status: status, Checks: checks}
}
