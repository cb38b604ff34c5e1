package planner

import (
	"context"
	"testing"

	"github.com/apache/arrow/go/v15/arrow"

	"github.com/buzzdb/buzz/buzzerrors"
	"github.com/buzzdb/buzz/common"
	"github.com/buzzdb/buzz/planplumbing"
)

func ordersSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Int64},
		{Name: "b", Type: arrow.BinaryTypes.String},
	}, nil)
}

type fixedSplitter struct {
	name   string
	schema *arrow.Schema
	nFiles int
}

func (s fixedSplitter) Split(ctx context.Context) ([]*planplumbing.ScanTable, error) {
	out := make([]*planplumbing.ScanTable, s.nFiles)
	for i := range out {
		out[i] = planplumbing.NewScanTable(s.name, s.schema, []common.SizedFile{
			{Key: "file", Length: 100},
		})
	}
	return out, nil
}

func addressN(n int) []common.HCombAddress {
	out := make([]common.HCombAddress, n)
	for i := range out {
		out[i] = common.HCombAddress{Host: "combiner", Port: 9000 + i}
	}
	return out
}

func scanMergeSteps() []common.BuzzStep {
	return []common.BuzzStep{
		{SQL: "SELECT * FROM orders", Name: "mapper", Type: common.StepScan},
		{SQL: "SELECT * FROM mapper", Name: "merge", Type: common.StepMerge},
	}
}

func TestPlanSingleFileSingleZone(t *testing.T) {
	p := New()
	p.AddCatalog(planplumbing.NewCatalogTable("orders", ordersSchema(), fixedSplitter{name: "orders", schema: ordersSchema(), nFiles: 1}))

	dp, err := p.Plan(context.Background(), "q1", scanMergeSteps(), addressN(1))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(dp.Zones) != 1 {
		t.Fatalf("len(Zones) = %d, want 1", len(dp.Zones))
	}
	if len(dp.Zones[0].Scans) != 1 {
		t.Errorf("len(Scans) = %d, want 1", len(dp.Zones[0].Scans))
	}
}

func TestPlanFiveFilesOneCombiner(t *testing.T) {
	p := New()
	p.AddCatalog(planplumbing.NewCatalogTable("orders", ordersSchema(), fixedSplitter{name: "orders", schema: ordersSchema(), nFiles: 5}))

	dp, err := p.Plan(context.Background(), "q1", scanMergeSteps(), addressN(1))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(dp.Zones) != 1 {
		t.Fatalf("len(Zones) = %d, want 1", len(dp.Zones))
	}
	if len(dp.Zones[0].Scans) != 5 {
		t.Errorf("len(Scans) = %d, want 5", len(dp.Zones[0].Scans))
	}
}

func TestPlanDistributesEvenlyAcrossZones(t *testing.T) {
	p := New()
	p.AddCatalog(planplumbing.NewCatalogTable("orders", ordersSchema(), fixedSplitter{name: "orders", schema: ordersSchema(), nFiles: 5}))

	dp, err := p.Plan(context.Background(), "q1", scanMergeSteps(), addressN(3))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(dp.Zones) != 3 {
		t.Fatalf("len(Zones) = %d, want 3 (min(nb_combiners, k))", len(dp.Zones))
	}
	max, min := 0, 1<<30
	total := 0
	for _, z := range dp.Zones {
		n := len(z.Scans)
		total += n
		if n > max {
			max = n
		}
		if n < min {
			min = n
		}
	}
	if total != 5 {
		t.Errorf("total scans = %d, want 5", total)
	}
	if max-min > 1 {
		t.Errorf("max-min = %d, want <= 1 (max=%d min=%d)", max-min, max, min)
	}
}

func TestPlanUnknownTableFailsAsPlanError(t *testing.T) {
	p := New()
	steps := []common.BuzzStep{
		{SQL: "SELECT * FROM test", Name: "mapper", Type: common.StepScan},
		{SQL: "SELECT * FROM mapper", Name: "merge", Type: common.StepMerge},
	}
	_, err := p.Plan(context.Background(), "q1", steps, addressN(1))
	if err == nil {
		t.Fatalf("expected error for unregistered table")
	}
	if !buzzerrors.IsPlan(err) {
		t.Errorf("Classify(err) = %v, want Plan", buzzerrors.Classify(err))
	}
}

func TestPlanRejectsWrongStepSequence(t *testing.T) {
	p := New()
	steps := []common.BuzzStep{
		{SQL: "SELECT * FROM orders", Name: "mapper", Type: common.StepScan},
	}
	if _, err := p.Plan(context.Background(), "q1", steps, addressN(1)); err == nil {
		t.Errorf("expected error for a non-[Scan,Merge] step sequence")
	}
}
