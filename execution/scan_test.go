package execution

import (
	"testing"

	"github.com/apache/arrow/go/v15/arrow"
)

func wideSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Int64},
		{Name: "b", Type: arrow.BinaryTypes.String},
		{Name: "c", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, nil)
}

func TestResolveProjectionDefaultsToIdentity(t *testing.T) {
	idx, schema, err := resolveProjection(wideSchema(), nil)
	if err != nil {
		t.Fatalf("resolveProjection: %v", err)
	}
	if len(idx) != 3 || idx[0] != 0 || idx[1] != 1 || idx[2] != 2 {
		t.Errorf("idx = %v, want [0 1 2]", idx)
	}
	if schema.NumFields() != 3 {
		t.Errorf("schema = %v, want all 3 fields", schema)
	}
}

func TestResolveProjectionNarrowsColumns(t *testing.T) {
	idx, schema, err := resolveProjection(wideSchema(), []string{"c", "a"})
	if err != nil {
		t.Fatalf("resolveProjection: %v", err)
	}
	if len(idx) != 2 || idx[0] != 2 || idx[1] != 0 {
		t.Errorf("idx = %v, want [2 0]", idx)
	}
	if schema.NumFields() != 2 || schema.Field(0).Name != "c" || schema.Field(1).Name != "a" {
		t.Errorf("schema = %v, want [c a]", schema)
	}
}

func TestResolveProjectionRejectsUnknownColumn(t *testing.T) {
	if _, _, err := resolveProjection(wideSchema(), []string{"nope"}); err == nil {
		t.Errorf("expected an unknown projected column to fail")
	}
}

// TestVerifyFieldsEqualIgnoresMetadata is spec.md §4.3: schema comparison
// checks field names, types and nullability, never schema-level metadata.
func TestVerifyFieldsEqualIgnoresMetadata(t *testing.T) {
	have := arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int64}},
		arrow.NewMetadata([]string{"k"}, []string{"v"}))
	want := arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int64}}, nil)
	if err := verifyFieldsEqual(have, want); err != nil {
		t.Errorf("verifyFieldsEqual should ignore schema metadata: %v", err)
	}
}

func TestVerifyFieldsEqualCatchesTypeMismatch(t *testing.T) {
	have := arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int32}}, nil)
	want := arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int64}}, nil)
	if err := verifyFieldsEqual(have, want); err == nil {
		t.Errorf("expected a field type mismatch to fail")
	}
}

func TestVerifyFieldsEqualCatchesFieldCountMismatch(t *testing.T) {
	have := wideSchema()
	want := arrow.NewSchema(wideSchema().Fields()[:2], nil)
	if err := verifyFieldsEqual(have, want); err == nil {
		t.Errorf("expected a field count mismatch to fail")
	}
}
