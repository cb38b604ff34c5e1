package planplumbing

import (
	"context"
	"io"
	"testing"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"
)

func testSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Int64},
		{Name: "b", Type: arrow.BinaryTypes.String},
	}, nil)
}

func testRecord(a []int64, b []string) arrow.Record {
	bldr := array.NewRecordBuilder(memory.DefaultAllocator, testSchema())
	defer bldr.Release()
	bldr.Field(0).(*array.Int64Builder).AppendValues(a, nil)
	bldr.Field(1).(*array.StringBuilder).AppendValues(b, nil)
	return bldr.NewRecord()
}

type fixedSourceTable struct {
	name    string
	schema  *arrow.Schema
	batches []arrow.Record
}

func (t *fixedSourceTable) Kind() SourceKind      { return KindResult }
func (t *fixedSourceTable) Name() string          { return t.name }
func (t *fixedSourceTable) Schema() *arrow.Schema { return t.schema }
func (t *fixedSourceTable) Scan(partition int) (BatchStream, error) {
	return NewSliceStream(t.batches), nil
}

func TestProjectionPlanReordersColumns(t *testing.T) {
	rec := testRecord([]int64{1, 2}, []string{"x", "y"})
	src := &fixedSourceTable{name: "t", schema: testSchema(), batches: []arrow.Record{rec}}
	scan, err := NewTableScanPlan(src, nil)
	if err != nil {
		t.Fatalf("NewTableScanPlan: %v", err)
	}
	proj, err := NewProjectionPlan(scan, []string{"b"})
	if err != nil {
		t.Fatalf("NewProjectionPlan: %v", err)
	}
	stream, err := proj.Execute(context.Background(), 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out, err := stream.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if out.ColumnName(0) != "b" {
		t.Errorf("projected schema = %v, want [b]", out.Schema())
	}
	if out.Column(0).(*array.String).Value(0) != "x" {
		t.Errorf("projected value = %q, want x", out.Column(0).(*array.String).Value(0))
	}
}

func TestFilterPlanKeepsMatchingRows(t *testing.T) {
	rec := testRecord([]int64{1, 2, 3}, []string{"a", "b", "c"})
	src := &fixedSourceTable{name: "t", schema: testSchema(), batches: []arrow.Record{rec}}
	scan, err := NewTableScanPlan(src, nil)
	if err != nil {
		t.Fatalf("NewTableScanPlan: %v", err)
	}
	filter := NewFilterPlan(scan, []Comparison{{
		Column: ColRef{Name: "a", Index: 0},
		Op:     OpGt,
		Value:  Literal{Value: int64(1)},
	}})
	stream, err := filter.Execute(context.Background(), 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out, err := stream.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if out.NumRows() != 2 {
		t.Errorf("NumRows() = %d, want 2", out.NumRows())
	}
	if out.Column(0).(*array.Int64).Value(0) != 2 {
		t.Errorf("first surviving row a = %d, want 2", out.Column(0).(*array.Int64).Value(0))
	}
}

func TestLimitPlanCapsTotalRowsAcrossBatches(t *testing.T) {
	rec1 := testRecord([]int64{1, 2, 3}, []string{"a", "b", "c"})
	rec2 := testRecord([]int64{4, 5}, []string{"d", "e"})
	src := &fixedSourceTable{name: "t", schema: testSchema(), batches: []arrow.Record{rec1, rec2}}
	scan, err := NewTableScanPlan(src, nil)
	if err != nil {
		t.Fatalf("NewTableScanPlan: %v", err)
	}
	limit := NewLimitPlan(scan, 4)
	stream, err := limit.Execute(context.Background(), 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var total int64
	for {
		rec, err := stream.Next(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		total += rec.NumRows()
	}
	if total != 4 {
		t.Errorf("total rows = %d, want 4", total)
	}
}

func TestEmptyTableScanAlwaysFails(t *testing.T) {
	tbl := NewEmptyTable("placeholder", testSchema())
	if _, err := tbl.Scan(0); err == nil {
		t.Errorf("expected EmptyTable.Scan to fail")
	}
}

func TestResultTablePartitionBounds(t *testing.T) {
	tbl := NewResultTable("q1", "mapper", testSchema(), 2, fakeResultStream{})
	if _, err := tbl.Scan(2); err == nil {
		t.Errorf("expected out-of-range partition to fail")
	}
	if _, err := tbl.Scan(0); err != nil {
		t.Errorf("Scan(0): %v", err)
	}
}

type fakeResultStream struct{}

func (fakeResultStream) Partition(i int) BatchStream { return NewSliceStream(nil) }

func TestTableScanOverUnlowerableSourceFails(t *testing.T) {
	src := NewScanTable("t", testSchema(), nil)
	scan, err := NewTableScanPlan(src, nil)
	if err != nil {
		t.Fatalf("NewTableScanPlan: %v", err)
	}
	if _, err := scan.Execute(context.Background(), 0); err == nil {
		t.Errorf("expected Execute over an un-lowered ScanTable to fail")
	}
}
