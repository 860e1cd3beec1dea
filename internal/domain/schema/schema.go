package schema

import (
	"fmt"
	"strings"
)

// FieldFormat declares how a relational metadata field is rendered.
// NameKey selects the display property of each related object; DetailKey,
// when set, is appended in parentheses: "<name> (<detail>)".
type FieldFormat struct {
	NameKey   string
	DetailKey string
}

// Schema is the static per-type indexing configuration: which fields form
// the searchable text, which become metadata, and how relational metadata
// is rendered. Loaded once at startup, read-only afterwards.
type Schema struct {
	Type           string
	APIPath        string
	Label          string
	Watched        bool
	TextFields     []string
	MetadataFields []string
	Formats        map[string]FieldFormat
}

// Validate checks a single schema definition.
func (s Schema) Validate() error {
	if s.Type == "" {
		return fmt.Errorf("schema type is required")
	}
	if len(s.TextFields) == 0 {
		return fmt.Errorf("schema %q declares no text fields", s.Type)
	}
	seen := make(map[string]bool, len(s.TextFields))
	for _, f := range s.TextFields {
		if f == "" {
			return fmt.Errorf("schema %q has an empty text field name", s.Type)
		}
		if seen[f] {
			return fmt.Errorf("schema %q declares text field %q twice", s.Type, f)
		}
		seen[f] = true
	}
	declared := make(map[string]bool, len(s.MetadataFields))
	for _, f := range s.MetadataFields {
		if f == "" {
			return fmt.Errorf("schema %q has an empty metadata field name", s.Type)
		}
		if declared[f] {
			return fmt.Errorf("schema %q declares metadata field %q twice", s.Type, f)
		}
		declared[f] = true
	}
	for field, format := range s.Formats {
		if !declared[field] {
			return fmt.Errorf("schema %q formats undeclared metadata field %q", s.Type, field)
		}
		if format.NameKey == "" {
			return fmt.Errorf("schema %q format for %q requires a name key", s.Type, field)
		}
	}
	return nil
}

// DisplayLabel returns the configured label, falling back to the
// capitalized type name.
func (s Schema) DisplayLabel() string {
	if s.Label != "" {
		return s.Label
	}
	if s.Type == "" {
		return ""
	}
	return strings.ToUpper(s.Type[:1]) + s.Type[1:]
}

// Set is the validated, process-wide collection of type schemas.
// Unknown types are rejected at construction, not at sync time.
type Set struct {
	ordered []Schema
	byType  map[string]Schema
}

// NewSet validates and indexes the given schemas, preserving declaration order.
func NewSet(schemas []Schema) (Set, error) {
	byType := make(map[string]Schema, len(schemas))
	ordered := make([]Schema, 0, len(schemas))
	for _, s := range schemas {
		if err := s.Validate(); err != nil {
			return Set{}, err
		}
		if _, dup := byType[s.Type]; dup {
			return Set{}, fmt.Errorf("duplicate schema for type %q", s.Type)
		}
		byType[s.Type] = s
		ordered = append(ordered, s)
	}
	return Set{ordered: ordered, byType: byType}, nil
}

// Get returns the schema for a type.
func (s Set) Get(contentType string) (Schema, bool) {
	sc, ok := s.byType[contentType]
	return sc, ok
}

// IsWatched reports whether lifecycle events for the type trigger sync.
func (s Set) IsWatched(contentType string) bool {
	sc, ok := s.byType[contentType]
	return ok && sc.Watched
}

// Types returns every configured type in declaration order.
func (s Set) Types() []string {
	out := make([]string, len(s.ordered))
	for i, sc := range s.ordered {
		out[i] = sc.Type
	}
	return out
}

// Watched returns the schemas with automatic synchronization enabled.
func (s Set) Watched() []Schema {
	out := make([]Schema, 0, len(s.ordered))
	for _, sc := range s.ordered {
		if sc.Watched {
			out = append(out, sc)
		}
	}
	return out
}

// All returns every configured schema in declaration order.
func (s Set) All() []Schema {
	out := make([]Schema, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Len returns the number of configured schemas.
func (s Set) Len() int { return len(s.ordered) }
