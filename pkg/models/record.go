// Package models provides the record and field-mapping types shared by the
// extraction and load layers.
package models

import (
	"strings"
)

// Metadata fields stamped onto every extracted record.
const (
	// IngestionTSField holds the UTC extraction timestamp (RFC 3339)
	IngestionTSField = "ingestion_ts"
	// SourceField holds the provenance tag of the originating dataset
	SourceField = "source"
)

// Record is a flat mapping from field name to scalar value (string, number
// or nil). Records are immutable once extracted; the load layer only reads
// them back from artifacts.
type Record map[string]interface{}

// RecordShape describes how field values are laid out in a raw API record.
type RecordShape string

const (
	// ShapeFlat means field values sit at the root of each record. This is
	// the shape the Explore v2.1 API returns and the common path.
	ShapeFlat RecordShape = "flat"
	// ShapeNested means field values sit under record.record.fields, the
	// legacy Explore shape. Source names may use dot notation.
	ShapeNested RecordShape = "nested"
)

// Valid reports whether the shape is one of the known variants.
func (s RecordShape) Valid() bool {
	return s == ShapeFlat || s == ShapeNested
}

// Apply extracts the fields of fm from a raw API record, honoring the
// record shape. Unknown source fields are dropped; missing source fields
// yield a nil target value, never an error.
func (fm FieldMap) Apply(raw map[string]interface{}, shape RecordShape) Record {
	fields := raw
	if shape == ShapeNested {
		fields = nestedFields(raw)
	}

	out := make(Record, len(fm.pairs)+2)
	for _, p := range fm.pairs {
		if shape == ShapeNested {
			out[p.Target] = nestedLookup(fields, p.Source)
		} else {
			out[p.Target] = fields[p.Source]
		}
	}
	return out
}

// nestedFields unwraps the legacy record.record.fields envelope. A record
// without the envelope yields an empty map, so every target maps to nil.
func nestedFields(raw map[string]interface{}) map[string]interface{} {
	rec, ok := raw["record"].(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	fields, ok := rec["fields"].(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return fields
}

// nestedLookup resolves a dotted source path one map level at a time.
func nestedLookup(data map[string]interface{}, path string) interface{} {
	keys := strings.Split(path, ".")
	var value interface{} = data

	for _, key := range keys {
		m, ok := value.(map[string]interface{})
		if !ok {
			return nil
		}
		value = m[key]
		if value == nil {
			return nil
		}
	}

	return value
}
