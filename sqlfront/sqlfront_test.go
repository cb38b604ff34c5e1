package sqlfront

import (
	"testing"

	"github.com/apache/arrow/go/v15/arrow"

	"github.com/buzzdb/buzz/planplumbing"
)

type fakeTable struct {
	name   string
	schema *arrow.Schema
}

func (t fakeTable) Kind() planplumbing.SourceKind { return planplumbing.KindResult }
func (t fakeTable) Name() string                  { return t.name }
func (t fakeTable) Schema() *arrow.Schema         { return t.schema }

func catalogWith(tables ...fakeTable) MapCatalog {
	cat := MapCatalog{}
	for _, t := range tables {
		cat[t.name] = t
	}
	return cat
}

func ordersSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "amount", Type: arrow.PrimitiveTypes.Float64},
		{Name: "region", Type: arrow.BinaryTypes.String},
	}, nil)
}

func TestParseSelectStar(t *testing.T) {
	cat := catalogWith(fakeTable{name: "orders", schema: ordersSchema()})
	plan, err := Parse("SELECT * FROM orders", cat)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if plan.Schema().NumFields() != 3 {
		t.Errorf("NumFields() = %d, want 3", plan.Schema().NumFields())
	}
}

func TestParseProjectsColumns(t *testing.T) {
	cat := catalogWith(fakeTable{name: "orders", schema: ordersSchema()})
	plan, err := Parse("SELECT region, id FROM orders", cat)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := plan.Schema().FieldNames()
	if len(got) != 2 || got[0] != "region" || got[1] != "id" {
		t.Errorf("FieldNames() = %v, want [region id]", got)
	}
}

func TestParseWhereAndLimit(t *testing.T) {
	cat := catalogWith(fakeTable{name: "orders", schema: ordersSchema()})
	plan, err := Parse("SELECT * FROM orders WHERE amount > 100 AND region = 'east' LIMIT 10", cat)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	limit, ok := plan.(*planplumbing.LimitPlan)
	if !ok {
		t.Fatalf("expected outermost node to be LimitPlan, got %T", plan)
	}
	filter, ok := limit.Inputs()[0].(*planplumbing.FilterPlan)
	if !ok {
		t.Fatalf("expected LimitPlan's input to be FilterPlan, got %T", limit.Inputs()[0])
	}
	if len(filter.Exprs()) != 2 {
		t.Errorf("len(Exprs()) = %d, want 2 (amount>100 AND region='east')", len(filter.Exprs()))
	}
}

func TestParseUnknownTable(t *testing.T) {
	cat := catalogWith(fakeTable{name: "orders", schema: ordersSchema()})
	if _, err := Parse("SELECT * FROM nope", cat); err == nil {
		t.Errorf("expected error for unknown table")
	}
}

func TestParseJoinIsRejected(t *testing.T) {
	cat := catalogWith(
		fakeTable{name: "orders", schema: ordersSchema()},
		fakeTable{name: "customers", schema: ordersSchema()},
	)
	if _, err := Parse("SELECT * FROM orders, customers", cat); err == nil {
		t.Errorf("expected multi-table FROM clause to be rejected")
	}
}
