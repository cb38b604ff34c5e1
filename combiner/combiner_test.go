package combiner

import (
	"context"
	"testing"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"

	"github.com/buzzdb/buzz/common"
	"github.com/buzzdb/buzz/planplumbing"
)

func testSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
}

func testRecord(vals ...int64) arrow.Record {
	bldr := array.NewRecordBuilder(memory.DefaultAllocator, testSchema())
	defer bldr.Release()
	bldr.Field(0).(*array.Int64Builder).AppendValues(vals, nil)
	return bldr.NewRecord()
}

// TestExecuteQueryCompletesOnceAllScannersReport is spec.md §8's "completes
// iff exactly expected_partition_count scanner uploads finished cleanly"
// side of the property (no FAIL involved).
func TestExecuteQueryCompletesOnceAllScannersReport(t *testing.T) {
	svc := New(nil)
	ctx := context.Background()

	out, schema, err := svc.ExecuteQuery(ctx, "q1", "SELECT * FROM mapper", QuerySource{Name: "mapper", NbScanners: 2}, testSchema())
	if err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}
	if schema.NumFields() != 1 {
		t.Fatalf("schema = %v, want 1 field", schema)
	}

	done := make(chan struct{})
	var rows []int64
	go func() {
		defer close(done)
		for {
			rec, err := out.Next(ctx)
			if err == planplumbing.ErrStreamDone {
				return
			}
			if err != nil {
				t.Errorf("Next: %v", err)
				return
			}
			col := rec.Column(0).(*array.Int64)
			for i := 0; i < col.Len(); i++ {
				rows = append(rows, col.Value(i))
			}
		}
	}()

	if err := svc.AddResults(ctx, "q1", planplumbing.NewSliceStream([]arrow.Record{testRecord(1, 2)})); err != nil {
		t.Fatalf("AddResults scanner 1: %v", err)
	}
	if err := svc.AddResults(ctx, "q1", planplumbing.NewSliceStream([]arrow.Record{testRecord(3)})); err != nil {
		t.Fatalf("AddResults scanner 2: %v", err)
	}

	<-done
	if len(rows) != 3 {
		t.Errorf("collected %d rows, want 3: %v", len(rows), rows)
	}
}

// TestDuplicateExecuteQueryIsRejected is spec.md §4.5's rx_taken invariant:
// at most one execute_query per query id.
func TestDuplicateExecuteQueryIsRejected(t *testing.T) {
	svc := New(nil)
	ctx := context.Background()
	if _, _, err := svc.ExecuteQuery(ctx, "q1", "SELECT * FROM mapper", QuerySource{Name: "mapper", NbScanners: 1}, testSchema()); err != nil {
		t.Fatalf("first ExecuteQuery: %v", err)
	}
	if _, _, err := svc.ExecuteQuery(ctx, "q1", "SELECT * FROM mapper", QuerySource{Name: "mapper", NbScanners: 1}, testSchema()); err == nil {
		t.Errorf("expected duplicate ExecuteQuery for the same query id to fail")
	}
}

// TestFailTerminatesStreamWithRemoteFail is spec.md §4.5 fail: the merge
// plan surfaces the error on its next poll.
func TestFailTerminatesStreamWithRemoteFail(t *testing.T) {
	svc := New(nil)
	ctx := context.Background()
	out, _, err := svc.ExecuteQuery(ctx, "q1", "SELECT * FROM mapper", QuerySource{Name: "mapper", NbScanners: 2}, testSchema())
	if err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}

	svc.Fail(common.QueryId("q1"), errTest("scanner blew up"))

	if _, err := out.Next(ctx); err == nil {
		t.Errorf("expected Next to surface the FAIL error")
	}
}

// TestFailIsIdempotent is spec.md §8: calling Fail twice for the same
// query_id produces the same user-visible outcome as calling it once.
func TestFailIsIdempotent(t *testing.T) {
	svc := New(nil)
	ctx := context.Background()
	if _, _, err := svc.ExecuteQuery(ctx, "q1", "SELECT * FROM mapper", QuerySource{Name: "mapper", NbScanners: 1}, testSchema()); err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}

	svc.Fail("q1", errTest("first"))
	svc.Fail("q1", errTest("second"))
}

type errTest string

func (e errTest) Error() string { return string(e) }
