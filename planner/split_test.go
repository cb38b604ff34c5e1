package planner

import (
	"context"
	"testing"

	"github.com/apache/arrow/go/v15/arrow"

	"github.com/buzzdb/buzz/planplumbing"
)

// multiInputPlan is a minimal Plan stand-in with two inputs, used only to
// exercise split's NotImplemented guard; no real core node ever has more
// than one input.
type multiInputPlan struct {
	inputs []planplumbing.Plan
}

func (m multiInputPlan) Schema() *arrow.Schema { return m.inputs[0].Schema() }
func (m multiInputPlan) Inputs() []planplumbing.Plan { return m.inputs }
func (m multiInputPlan) Exprs() []planplumbing.Expr  { return nil }
func (m multiInputPlan) WithInputs(inputs []planplumbing.Plan) planplumbing.Plan {
	return multiInputPlan{inputs: inputs}
}
func (m multiInputPlan) Execute(ctx context.Context, partition int) (planplumbing.BatchStream, error) {
	return nil, nil
}
func (m multiInputPlan) OutputPartitioning() int { return 1 }
func (m multiInputPlan) String() string          { return "MultiInput" }

func TestSplitRejectsMultiInputPlans(t *testing.T) {
	leaf, err := planplumbing.NewTableScanPlan(fixedResultTableForTest{}, nil)
	if err != nil {
		t.Fatalf("NewTableScanPlan: %v", err)
	}
	plan := multiInputPlan{inputs: []planplumbing.Plan{leaf, leaf}}

	if _, err := split(context.Background(), plan); err == nil {
		t.Errorf("expected NotImplemented error for a multi-input plan")
	}
}

func TestSplitPassesThroughNonCatalogLeaf(t *testing.T) {
	leaf, err := planplumbing.NewTableScanPlan(fixedResultTableForTest{}, nil)
	if err != nil {
		t.Fatalf("NewTableScanPlan: %v", err)
	}
	out, err := split(context.Background(), leaf)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(out) != 1 || out[0] != leaf {
		t.Errorf("split of a non-catalog leaf should return it unchanged as a singleton slice")
	}
}

type fixedResultTableForTest struct{}

func (fixedResultTableForTest) Kind() planplumbing.SourceKind { return planplumbing.KindResult }
func (fixedResultTableForTest) Name() string                  { return "mapper" }
func (fixedResultTableForTest) Schema() *arrow.Schema         { return ordersSchema() }
