package formatter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/folio-cloud/ragdex/internal/domain"
	"github.com/folio-cloud/ragdex/internal/domain/schema"
)

// nameKeys are the properties tried, in order, when a relational value has
// no configured format: display-name-like keys first, French variants last
// because the content store mixes both.
var nameKeys = []string{"name", "title", "label", "nom", "titre"}

// Formatter turns a content record into the text blob to embed and the flat
// metadata map, according to the type's schema. Pure: same inputs, same
// outputs (modulo the injected clock).
type Formatter struct {
	logger *zap.Logger
	now    func() time.Time
}

// New creates a formatter.
func New(logger *zap.Logger) *Formatter {
	return &Formatter{logger: logger, now: time.Now}
}

// WithClock overrides the timestamp source (tests).
func (f *Formatter) WithClock(now func() time.Time) *Formatter {
	f.now = now
	return f
}

// Format produces the searchable text and flattened metadata for a record.
// Empty text is a valid result meaning there is nothing to index; the caller
// must skip the record.
func (f *Formatter) Format(rec domain.ContentRecord, sc schema.Schema) (string, map[string]string) {
	var lines []string
	for _, field := range sc.TextFields {
		value, ok := rec.Fields[field]
		if !ok || value == nil {
			continue
		}
		text := flattenValue(value)
		if text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", field, text))
	}

	metadata := map[string]string{
		domain.MetaSourceID:   rec.ID,
		domain.MetaSourceType: rec.Type,
		domain.MetaIndexedAt:  f.now().UTC().Format(time.RFC3339),
	}

	for _, field := range sc.MetadataFields {
		value, ok := rec.Fields[field]
		if !ok || value == nil {
			continue
		}
		if err := f.addMetadataField(metadata, field, value, sc.Formats[field]); err != nil {
			f.logger.Warn("Dropping unserializable metadata field",
				zap.String("type", rec.Type),
				zap.String("id", rec.ID),
				zap.String("field", field),
				zap.Error(err),
			)
		}
	}

	return strings.Join(lines, "\n"), metadata
}

// addMetadataField flattens one declared metadata value into the map.
// Scalars pass through; lists of objects become <field>_ids/<field>_names;
// single objects become <field>_id/<field>_name.
func (f *Formatter) addMetadataField(
	metadata map[string]string, field string, value any, format schema.FieldFormat,
) error {
	switch v := value.(type) {
	case string:
		metadata[field] = v
	case bool:
		metadata[field] = strconv.FormatBool(v)
	case int:
		metadata[field] = strconv.Itoa(v)
	case int64:
		metadata[field] = strconv.FormatInt(v, 10)
	case float64:
		metadata[field] = formatNumber(v)
	case json.Number:
		metadata[field] = v.String()
	case []any:
		ids, names := reduceList(v, format)
		if len(ids) == 0 && len(names) == 0 {
			return fmt.Errorf("list field contains no reducible objects")
		}
		if len(ids) > 0 {
			metadata[field+"_ids"] = strings.Join(ids, ",")
		}
		if len(names) > 0 {
			metadata[field+"_names"] = strings.Join(names, ",")
		}
	case map[string]any:
		id, name := reduceObject(v, format)
		if id == "" && name == "" {
			return fmt.Errorf("object field has no id or display name")
		}
		if id != "" {
			metadata[field+"_id"] = id
		}
		if name != "" {
			metadata[field+"_name"] = name
		}
	default:
		return fmt.Errorf("unsupported value type %T", value)
	}
	return nil
}

func reduceList(items []any, format schema.FieldFormat) (ids, names []string) {
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, name := reduceObject(obj, format)
		if id != "" {
			ids = append(ids, id)
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return ids, names
}

func reduceObject(obj map[string]any, format schema.FieldFormat) (id, name string) {
	if raw, ok := obj["id"]; ok {
		id = scalarString(raw)
	}

	if format.NameKey != "" {
		name = scalarString(obj[format.NameKey])
		if name != "" && format.DetailKey != "" {
			if detail := scalarString(obj[format.DetailKey]); detail != "" {
				name = fmt.Sprintf("%s (%s)", name, detail)
			}
		}
		return id, name
	}

	for _, key := range nameKeys {
		if candidate := scalarString(obj[key]); candidate != "" {
			return id, candidate
		}
	}
	return id, ""
}

// flattenValue renders a field value as plain text. Rich-text block
// structures are reduced to their leaf text nodes joined with spaces.
func flattenValue(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return formatNumber(v)
	case json.Number:
		return v.String()
	case []any:
		var parts []string
		for _, item := range v {
			if text := flattenValue(item); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, " ")
	case map[string]any:
		// Rich-text node: leaf "text", or a container with "children".
		if text, ok := v["text"].(string); ok {
			return strings.TrimSpace(text)
		}
		if children, ok := v["children"].([]any); ok {
			return flattenValue(children)
		}
		return ""
	default:
		return ""
	}
}

// scalarString renders a scalar object property (id, display name, detail)
// as text. Non-scalars collapse to "" so callers can treat them as absent.
func scalarString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return formatNumber(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// formatNumber renders floats without a trailing ".0" for integral values,
// matching how the content store serializes numeric ids.
func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
