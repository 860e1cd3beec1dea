package domain

import "fmt"

// ContentRecord is a structured entity owned by the external content store.
// Fields carries the raw attribute map with relations already resolved.
type ContentRecord struct {
	ID     string
	Type   string
	Fields map[string]any
}

// DocumentID derives the deterministic index identifier for a record:
// "<type>:<id>". Globally unique as long as record ids are unique per type.
func DocumentID(recordType, recordID string) string {
	return fmt.Sprintf("%s:%s", recordType, recordID)
}

// LifecycleEvent enumerates content-store lifecycle notifications.
type LifecycleEvent string

// Lifecycle event values as sent by the content store webhook.
const (
	EventCreated LifecycleEvent = "created"
	EventUpdated LifecycleEvent = "updated"
	EventDeleted LifecycleEvent = "deleted"
)
