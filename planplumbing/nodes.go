package planplumbing

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"

	"github.com/buzzdb/buzz/buzzerrors"
)

// TableScanPlan is the universal leaf: a schema, a TableSource, and an
// optional projection of column indices into the source's schema. It is
// the node split() downcasts by type-asserting Source() and the node the scanner
// replaces with execution.ColumnarScanExec once a CatalogTable has been
// split and its per-file caches injected.
type TableScanPlan struct {
	schema     *arrow.Schema
	source     TableSource
	colIdx     []int    // projection into source.Schema(); nil means identity
	projection []string // the projection as originally given, for split() to replay against a different source
}

// NewTableScanPlan returns a scan of source, projected to the columns named
// in projection (nil or empty means the identity projection).
func NewTableScanPlan(source TableSource, projection []string) (*TableScanPlan, error) {
	full := source.Schema()
	if len(projection) == 0 {
		return &TableScanPlan{schema: full, source: source}, nil
	}
	fields := make([]arrow.Field, 0, len(projection))
	idx := make([]int, 0, len(projection))
	for _, name := range projection {
		i := full.FieldIndices(name)
		if len(i) == 0 {
			return nil, buzzerrors.Plan("table %q has no column %q", source.Name(), name)
		}
		fields = append(fields, full.Field(i[0]))
		idx = append(idx, i[0])
	}
	return &TableScanPlan{
		schema:     arrow.NewSchema(fields, nil),
		source:     source,
		colIdx:     idx,
		projection: projection,
	}, nil
}

func (p *TableScanPlan) Schema() *arrow.Schema { return p.schema }
func (p *TableScanPlan) Inputs() []Plan        { return nil }
func (p *TableScanPlan) Exprs() []Expr         { return nil }
func (p *TableScanPlan) Source() TableSource   { return p.source }
func (p *TableScanPlan) Projection() []string  { return p.projection }

func (p *TableScanPlan) WithInputs(inputs []Plan) Plan {
	if len(inputs) != 0 {
		panic("planplumbing: TableScanPlan is a leaf, got non-empty inputs")
	}
	return p
}

func (p *TableScanPlan) String() string {
	return fmt.Sprintf("TableScan(%s, source=%s)", p.source.Name(), p.source.Kind())
}

// OutputPartitioning reports one partition per file for a ScanTable, the
// expected partition count for a ResultTable, and 1 for anything else.
func (p *TableScanPlan) OutputPartitioning() int {
	switch src := p.source.(type) {
	case *ScanTable:
		return len(src.Files())
	case *ResultTable:
		return src.ExpectedPartitions()
	default:
		return 1
	}
}

// scannable is satisfied by every TableSource kind that can actually
// stream data directly (ResultTable, EmptyTable); CatalogTable and
// ScanTable deliberately do not implement it, since they must be lowered
// to a physical node first.
type scannable interface {
	Scan(partition int) (BatchStream, error)
}

func (p *TableScanPlan) Execute(ctx context.Context, partition int) (BatchStream, error) {
	src, ok := p.source.(scannable)
	if !ok {
		return nil, buzzerrors.Internal(
			"table scan over %q (%s) has no direct execution; it must be lowered to a physical plan first",
			p.source.Name(), p.source.Kind())
	}
	inner, err := src.Scan(partition)
	if err != nil {
		return nil, err
	}
	if len(p.colIdx) == 0 {
		return inner, nil
	}
	return &projectingStream{inner: inner, schema: p.schema, colIdx: p.colIdx}, nil
}

type projectingStream struct {
	inner  BatchStream
	schema *arrow.Schema
	colIdx []int
}

func (s *projectingStream) Next(ctx context.Context) (arrow.Record, error) {
	rec, err := s.inner.Next(ctx)
	if err != nil {
		return nil, err
	}
	return projectRecord(rec, s.schema, s.colIdx), nil
}

func projectRecord(rec arrow.Record, schema *arrow.Schema, colIdx []int) arrow.Record {
	cols := make([]arrow.Array, len(colIdx))
	for i, ci := range colIdx {
		cols[i] = rec.Column(ci)
	}
	return array.NewRecord(schema, cols, rec.NumRows())
}

// ProjectionPlan re-orders or drops columns from its single input.
type ProjectionPlan struct {
	schema *arrow.Schema
	input  Plan
	colIdx []int
}

// NewProjectionPlan projects input down to the columns named in columns,
// in the given order.
func NewProjectionPlan(input Plan, columns []string) (*ProjectionPlan, error) {
	full := input.Schema()
	fields := make([]arrow.Field, 0, len(columns))
	idx := make([]int, 0, len(columns))
	for _, name := range columns {
		i := full.FieldIndices(name)
		if len(i) == 0 {
			return nil, buzzerrors.Plan("projection references unknown column %q", name)
		}
		fields = append(fields, full.Field(i[0]))
		idx = append(idx, i[0])
	}
	return &ProjectionPlan{schema: arrow.NewSchema(fields, nil), input: input, colIdx: idx}, nil
}

func (p *ProjectionPlan) Schema() *arrow.Schema { return p.schema }
func (p *ProjectionPlan) Inputs() []Plan        { return []Plan{p.input} }
func (p *ProjectionPlan) Exprs() []Expr         { return nil }
func (p *ProjectionPlan) String() string        { return fmt.Sprintf("Projection(%v)", p.schema.FieldNames()) }

func (p *ProjectionPlan) WithInputs(inputs []Plan) Plan {
	if len(inputs) != 1 {
		panic("planplumbing: ProjectionPlan takes exactly one input")
	}
	return &ProjectionPlan{schema: p.schema, input: inputs[0], colIdx: p.colIdx}
}

func (p *ProjectionPlan) OutputPartitioning() int { return p.input.OutputPartitioning() }

func (p *ProjectionPlan) Execute(ctx context.Context, partition int) (BatchStream, error) {
	inner, err := p.input.Execute(ctx, partition)
	if err != nil {
		return nil, err
	}
	return &projectingStream{inner: inner, schema: p.schema, colIdx: p.colIdx}, nil
}

// FilterPlan evaluates a conjunction of column/literal comparisons against
// its single input, the only WHERE-clause shape the core supports.
type FilterPlan struct {
	input       Plan
	predicates  []Comparison
}

// NewFilterPlan returns a FilterPlan over input evaluating the AND of
// predicates.
func NewFilterPlan(input Plan, predicates []Comparison) *FilterPlan {
	return &FilterPlan{input: input, predicates: predicates}
}

func (p *FilterPlan) Schema() *arrow.Schema { return p.input.Schema() }
func (p *FilterPlan) Inputs() []Plan        { return []Plan{p.input} }

func (p *FilterPlan) Exprs() []Expr {
	exprs := make([]Expr, len(p.predicates))
	for i, c := range p.predicates {
		exprs[i] = c
	}
	return exprs
}

func (p *FilterPlan) String() string { return fmt.Sprintf("Filter(%v)", p.predicates) }

func (p *FilterPlan) WithInputs(inputs []Plan) Plan {
	if len(inputs) != 1 {
		panic("planplumbing: FilterPlan takes exactly one input")
	}
	return &FilterPlan{input: inputs[0], predicates: p.predicates}
}

func (p *FilterPlan) OutputPartitioning() int { return p.input.OutputPartitioning() }

func (p *FilterPlan) Execute(ctx context.Context, partition int) (BatchStream, error) {
	inner, err := p.input.Execute(ctx, partition)
	if err != nil {
		return nil, err
	}
	return &filteringStream{inner: inner, schema: p.Schema(), predicates: p.predicates}, nil
}

type filteringStream struct {
	inner      BatchStream
	schema     *arrow.Schema
	predicates []Comparison
}

func (s *filteringStream) Next(ctx context.Context) (arrow.Record, error) {
	for {
		rec, err := s.inner.Next(ctx)
		if err != nil {
			return nil, err
		}
		out, err := filterRecord(rec, s.schema, s.predicates)
		if err != nil {
			return nil, err
		}
		if out.NumRows() == 0 {
			continue
		}
		return out, nil
	}
}

func filterRecord(rec arrow.Record, schema *arrow.Schema, predicates []Comparison) (arrow.Record, error) {
	n := int(rec.NumRows())
	mask := make([]bool, n)
	for i := range mask {
		mask[i] = true
	}
	for _, cmp := range predicates {
		col := rec.Column(cmp.Column.Index)
		for row := 0; row < n; row++ {
			if !mask[row] {
				continue
			}
			ok, err := evalComparison(col, row, cmp)
			if err != nil {
				return nil, err
			}
			mask[row] = ok
		}
	}

	bldr := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer bldr.Release()
	for row := 0; row < n; row++ {
		if !mask[row] {
			continue
		}
		for col := 0; col < int(rec.NumCols()); col++ {
			if err := appendValue(bldr.Field(col), rec.Column(col), row); err != nil {
				return nil, err
			}
		}
	}
	return bldr.NewRecord(), nil
}

func evalComparison(col arrow.Array, row int, cmp Comparison) (bool, error) {
	switch a := col.(type) {
	case *array.Int64:
		if a.IsNull(row) {
			return false, nil
		}
		want, ok := toInt64(cmp.Value.Value)
		if !ok {
			return false, buzzerrors.Execution("filter literal %v is not comparable to int64 column %q", cmp.Value.Value, cmp.Column.Name)
		}
		return compareOrdered(a.Value(row), want, cmp.Op), nil
	case *array.Float64:
		if a.IsNull(row) {
			return false, nil
		}
		want, ok := toFloat64(cmp.Value.Value)
		if !ok {
			return false, buzzerrors.Execution("filter literal %v is not comparable to float64 column %q", cmp.Value.Value, cmp.Column.Name)
		}
		return compareOrdered(a.Value(row), want, cmp.Op), nil
	case *array.String:
		if a.IsNull(row) {
			return false, nil
		}
		want, ok := cmp.Value.Value.(string)
		if !ok {
			return false, buzzerrors.Execution("filter literal %v is not comparable to utf8 column %q", cmp.Value.Value, cmp.Column.Name)
		}
		return compareOrdered(a.Value(row), want, cmp.Op), nil
	case *array.Boolean:
		if a.IsNull(row) {
			return false, nil
		}
		want, ok := cmp.Value.Value.(bool)
		if !ok {
			return false, buzzerrors.Execution("filter literal %v is not comparable to bool column %q", cmp.Value.Value, cmp.Column.Name)
		}
		if cmp.Op != OpEq && cmp.Op != OpNeq {
			return false, buzzerrors.Execution("ordered comparison on bool column %q", cmp.Column.Name)
		}
		eq := a.Value(row) == want
		if cmp.Op == OpNeq {
			return !eq, nil
		}
		return eq, nil
	default:
		return false, buzzerrors.Execution("unsupported column type %s for filtering", col.DataType())
	}
}

func compareOrdered[T int64 | float64 | string](have, want T, op CompareOp) bool {
	switch op {
	case OpEq:
		return have == want
	case OpNeq:
		return have != want
	case OpLt:
		return have < want
	case OpLte:
		return have <= want
	case OpGt:
		return have > want
	case OpGte:
		return have >= want
	default:
		return false
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func appendValue(b array.Builder, col arrow.Array, row int) error {
	if col.IsNull(row) {
		b.AppendNull()
		return nil
	}
	switch bld := b.(type) {
	case *array.Int64Builder:
		bld.Append(col.(*array.Int64).Value(row))
	case *array.Float64Builder:
		bld.Append(col.(*array.Float64).Value(row))
	case *array.StringBuilder:
		bld.Append(col.(*array.String).Value(row))
	case *array.BooleanBuilder:
		bld.Append(col.(*array.Boolean).Value(row))
	default:
		return buzzerrors.Execution("unsupported column type %s for filtering", col.DataType())
	}
	return nil
}

// LimitPlan caps the total number of rows its single input yields across
// the whole stream.
type LimitPlan struct {
	input Plan
	limit int64
}

// NewLimitPlan returns a LimitPlan capping input at n total rows.
func NewLimitPlan(input Plan, n int64) *LimitPlan {
	return &LimitPlan{input: input, limit: n}
}

func (p *LimitPlan) Schema() *arrow.Schema { return p.input.Schema() }
func (p *LimitPlan) Inputs() []Plan        { return []Plan{p.input} }
func (p *LimitPlan) Exprs() []Expr         { return []Expr{Literal{Value: p.limit}} }
func (p *LimitPlan) String() string        { return fmt.Sprintf("Limit(%d)", p.limit) }

func (p *LimitPlan) WithInputs(inputs []Plan) Plan {
	if len(inputs) != 1 {
		panic("planplumbing: LimitPlan takes exactly one input")
	}
	return &LimitPlan{input: inputs[0], limit: p.limit}
}

func (p *LimitPlan) OutputPartitioning() int { return p.input.OutputPartitioning() }

func (p *LimitPlan) Execute(ctx context.Context, partition int) (BatchStream, error) {
	inner, err := p.input.Execute(ctx, partition)
	if err != nil {
		return nil, err
	}
	return &limitingStream{inner: inner, remaining: p.limit}, nil
}

type limitingStream struct {
	inner     BatchStream
	remaining int64
}

func (s *limitingStream) Next(ctx context.Context) (arrow.Record, error) {
	if s.remaining <= 0 {
		return nil, io.EOF
	}
	rec, err := s.inner.Next(ctx)
	if err != nil {
		return nil, err
	}
	if rec.NumRows() > s.remaining {
		rec = rec.NewSlice(0, s.remaining)
	}
	s.remaining -= rec.NumRows()
	return rec, nil
}
