package models

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/idfm-analytics/transport-ingest/pkg/errors"
)

// FieldPair maps one stable target field name to the source field name
// returned by the external API.
type FieldPair struct {
	Target string
	Source string
}

// FieldMap is an ordered mapping from target field names to source field
// names. Order follows the configuration document, so select clauses and
// serialized output are deterministic.
type FieldMap struct {
	pairs []FieldPair
}

// NewFieldMap builds a FieldMap from ordered pairs.
func NewFieldMap(pairs ...FieldPair) FieldMap {
	return FieldMap{pairs: pairs}
}

// UnmarshalYAML decodes a YAML mapping node, preserving document order.
// A plain map decode would lose it.
func (fm *FieldMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.New(errors.ErrorTypeConfig, "fields must be a mapping of target to source names")
	}

	pairs := make([]FieldPair, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		pairs = append(pairs, FieldPair{
			Target: node.Content[i].Value,
			Source: node.Content[i+1].Value,
		})
	}
	fm.pairs = pairs
	return nil
}

// Pairs returns the ordered target/source pairs.
func (fm FieldMap) Pairs() []FieldPair {
	return fm.pairs
}

// Len returns the number of mapped fields.
func (fm FieldMap) Len() int {
	return len(fm.pairs)
}

// SelectClause returns the comma-joined source field list for the API
// select parameter.
func (fm FieldMap) SelectClause() string {
	sources := make([]string, len(fm.pairs))
	for i, p := range fm.pairs {
		sources[i] = p.Source
	}
	return strings.Join(sources, ", ")
}

// Validate rejects structurally invalid maps: duplicate target names,
// empty target names, or empty source names.
func (fm FieldMap) Validate() error {
	if len(fm.pairs) == 0 {
		return errors.New(errors.ErrorTypeConfig, "field map is empty")
	}

	seen := make(map[string]struct{}, len(fm.pairs))
	for _, p := range fm.pairs {
		if p.Target == "" {
			return errors.New(errors.ErrorTypeConfig, "field map contains an empty target name")
		}
		if strings.TrimSpace(p.Source) == "" {
			return errors.Newf(errors.ErrorTypeConfig, "field %q maps to an empty source name", p.Target)
		}
		if _, dup := seen[p.Target]; dup {
			return errors.Newf(errors.ErrorTypeConfig, "duplicate target field %q", p.Target)
		}
		seen[p.Target] = struct{}{}
	}
	return nil
}
