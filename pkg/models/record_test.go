package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyFlatShape(t *testing.T) {
	fm := NewFieldMap(
		FieldPair{Target: "date", Source: "jour"},
		FieldPair{Target: "stop_name", Source: "libelle_arret"},
		FieldPair{Target: "validation_count", Source: "nb_vald"},
	)

	raw := map[string]interface{}{
		"jour":          "2024-01-01",
		"libelle_arret": "CHATELET",
		"nb_vald":       1000,
		"extra_field":   "ignored",
	}

	rec := fm.Apply(raw, ShapeFlat)

	assert.Equal(t, Record{
		"date":             "2024-01-01",
		"stop_name":        "CHATELET",
		"validation_count": 1000,
	}, rec)
	assert.NotContains(t, rec, "extra_field")
}

func TestApplyFlatShapeMissingSourceYieldsNil(t *testing.T) {
	fm := NewFieldMap(
		FieldPair{Target: "date", Source: "jour"},
		FieldPair{Target: "town", Source: "nom_commune"},
	)

	rec := fm.Apply(map[string]interface{}{"jour": "2024-01-01"}, ShapeFlat)

	assert.Equal(t, "2024-01-01", rec["date"])
	assert.Contains(t, rec, "town")
	assert.Nil(t, rec["town"])
}

func TestApplyNestedShape(t *testing.T) {
	fm := NewFieldMap(
		FieldPair{Target: "stop_name", Source: "libelle_arret"},
		FieldPair{Target: "latitude", Source: "coord.lat"},
	)

	raw := map[string]interface{}{
		"record": map[string]interface{}{
			"fields": map[string]interface{}{
				"libelle_arret": "CHATELET",
				"coord": map[string]interface{}{
					"lat": 48.858,
					"lon": 2.347,
				},
			},
		},
	}

	rec := fm.Apply(raw, ShapeNested)

	assert.Equal(t, "CHATELET", rec["stop_name"])
	assert.Equal(t, 48.858, rec["latitude"])
}

func TestApplyNestedShapeWithoutEnvelope(t *testing.T) {
	fm := NewFieldMap(FieldPair{Target: "stop_name", Source: "libelle_arret"})

	rec := fm.Apply(map[string]interface{}{"libelle_arret": "CHATELET"}, ShapeNested)

	assert.Contains(t, rec, "stop_name")
	assert.Nil(t, rec["stop_name"])
}

func TestApplyNestedShapeBrokenPath(t *testing.T) {
	fm := NewFieldMap(FieldPair{Target: "latitude", Source: "coord.lat.deep"})

	raw := map[string]interface{}{
		"record": map[string]interface{}{
			"fields": map[string]interface{}{
				"coord": map[string]interface{}{"lat": 48.858},
			},
		},
	}

	rec := fm.Apply(raw, ShapeNested)
	assert.Nil(t, rec["latitude"])
}

func TestRecordShapeValid(t *testing.T) {
	assert.True(t, ShapeFlat.Valid())
	assert.True(t, ShapeNested.Valid())
	assert.False(t, RecordShape("deep").Valid())
	assert.False(t, RecordShape("").Valid())
}
