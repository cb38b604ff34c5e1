package scanner

import (
	"context"
	"testing"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"

	"github.com/buzzdb/buzz/planplumbing"
)

func testSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int64}}, nil)
}

func testRecord(v int64) arrow.Record {
	bldr := array.NewRecordBuilder(memory.DefaultAllocator, testSchema())
	defer bldr.Release()
	bldr.Field(0).(*array.Int64Builder).Append(v)
	return bldr.NewRecord()
}

// fakePartitionedPlan hands back one fixed record per partition, mimicking
// the shape ColumnarScanExec presents once wrapped in physicalLeaf.
type fakePartitionedPlan struct {
	n int
}

func (p *fakePartitionedPlan) Schema() *arrow.Schema       { return testSchema() }
func (p *fakePartitionedPlan) Inputs() []planplumbing.Plan { return nil }
func (p *fakePartitionedPlan) Exprs() []planplumbing.Expr  { return nil }
func (p *fakePartitionedPlan) String() string              { return "fakePartitionedPlan" }
func (p *fakePartitionedPlan) OutputPartitioning() int     { return p.n }
func (p *fakePartitionedPlan) WithInputs(inputs []planplumbing.Plan) planplumbing.Plan {
	panic("unused")
}

func (p *fakePartitionedPlan) Execute(ctx context.Context, partition int) (planplumbing.BatchStream, error) {
	return planplumbing.NewSliceStream([]arrow.Record{testRecord(int64(partition))}), nil
}

// TestMergeInMemoryConcatenatesInPartitionOrder is spec.md §8 scenario 6: a
// physical plan with multiple partitions, wrapped by the in-memory merge
// operator, must still stream as one deterministic, partition-ordered
// sequence.
func TestMergeInMemoryConcatenatesInPartitionOrder(t *testing.T) {
	plan := &fakePartitionedPlan{n: 4}
	stream, err := mergeInMemory(context.Background(), plan, 4)
	if err != nil {
		t.Fatalf("mergeInMemory: %v", err)
	}
	recs, err := planplumbing.Collect(context.Background(), stream)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("got %d records, want 4", len(recs))
	}
	for i, rec := range recs {
		got := rec.Column(0).(*array.Int64).Value(0)
		if got != int64(i) {
			t.Errorf("record %d carries value %d, want %d (partition order not preserved)", i, got, i)
		}
	}
}

type failingPlan struct{ fakePartitionedPlan }

func (p *failingPlan) Execute(ctx context.Context, partition int) (planplumbing.BatchStream, error) {
	if partition == 2 {
		return nil, errTest("boom")
	}
	return p.fakePartitionedPlan.Execute(ctx, partition)
}

func TestMergeInMemoryPropagatesPartitionError(t *testing.T) {
	plan := &failingPlan{fakePartitionedPlan{n: 4}}
	if _, err := mergeInMemory(context.Background(), plan, 4); err == nil {
		t.Errorf("expected a failing partition to fail the whole merge")
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
