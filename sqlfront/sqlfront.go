// Package sqlfront compiles one SELECT statement into a planplumbing.Plan.
// It is the library boundary spec.md §1 calls out as external ("the SQL
// parser and logical optimizer are assumed available as library
// components"): parsing itself is real, via pingcap/parser, but no
// optimizer runs here — split() in the planner package is the only
// rewrite the core performs.
package sqlfront

import (
	"github.com/apache/arrow/go/v15/arrow"
	"github.com/pingcap/parser"
	"github.com/pingcap/parser/ast"
	"github.com/pingcap/parser/opcode"
	driver "github.com/pingcap/parser/test_driver"

	"github.com/buzzdb/buzz/buzzerrors"
	"github.com/buzzdb/buzz/planplumbing"
)

// Catalog resolves a table name to its TableSource — spec.md §4.6 step 1,
// "register each catalog under its name as a SQL table".
type Catalog interface {
	Lookup(name string) (planplumbing.TableSource, bool)
}

// MapCatalog is the trivial map-backed Catalog used by the planner and by
// tests.
type MapCatalog map[string]planplumbing.TableSource

func (c MapCatalog) Lookup(name string) (planplumbing.TableSource, bool) {
	t, ok := c[name]
	return t, ok
}

// Parse compiles sql against catalog. Only `SELECT [cols|*] FROM <table>
// [WHERE <conjunction of column-literal comparisons>] [LIMIT n]` is
// supported: joins are a multi-leaf plan, explicitly out of scope
// (spec.md §1 Non-goals).
func Parse(sql string, catalog Catalog) (planplumbing.Plan, error) {
	p := parser.New()
	stmtNodes, _, err := p.Parse(sql, "", "")
	if err != nil {
		return nil, buzzerrors.Plan("sql parse error: %v", err)
	}
	if len(stmtNodes) != 1 {
		return nil, buzzerrors.Plan("expected exactly one statement, got %d", len(stmtNodes))
	}
	sel, ok := stmtNodes[0].(*ast.SelectStmt)
	if !ok {
		return nil, buzzerrors.Plan("only SELECT statements are supported")
	}
	return planSelect(sel, catalog)
}

func planSelect(sel *ast.SelectStmt, catalog Catalog) (planplumbing.Plan, error) {
	if sel.From == nil {
		return nil, buzzerrors.Plan("SELECT with no FROM clause is not supported")
	}
	tableName, err := singleTableName(sel.From)
	if err != nil {
		return nil, err
	}
	source, ok := catalog.Lookup(tableName)
	if !ok {
		return nil, buzzerrors.Plan("unknown table %q", tableName)
	}

	projection, err := projectionColumns(sel.Fields)
	if err != nil {
		return nil, err
	}
	scan, err := planplumbing.NewTableScanPlan(source, projection)
	if err != nil {
		return nil, err
	}
	var result planplumbing.Plan = scan

	if sel.Where != nil {
		preds, err := whereComparisons(sel.Where, result.Schema())
		if err != nil {
			return nil, err
		}
		result = planplumbing.NewFilterPlan(result, preds)
	}

	if sel.Limit != nil {
		n, err := limitCount(sel.Limit)
		if err != nil {
			return nil, err
		}
		result = planplumbing.NewLimitPlan(result, n)
	}
	return result, nil
}

func singleTableName(from *ast.TableRefsClause) (string, error) {
	join, ok := from.TableRefs.(*ast.Join)
	if !ok {
		return "", buzzerrors.Plan("unsupported FROM clause")
	}
	if join.Right != nil {
		return "", buzzerrors.Plan("multi-table FROM clauses (joins) are not supported")
	}
	ts, ok := join.Left.(*ast.TableSource)
	if !ok {
		return "", buzzerrors.Plan("unsupported FROM clause")
	}
	tn, ok := ts.Source.(*ast.TableName)
	if !ok {
		return "", buzzerrors.Plan("unsupported FROM clause")
	}
	return tn.Name.L, nil
}

func projectionColumns(fields *ast.FieldList) ([]string, error) {
	if fields == nil || len(fields.Fields) == 0 {
		return nil, nil
	}
	if len(fields.Fields) == 1 && fields.Fields[0].WildCard != nil {
		return nil, nil
	}
	cols := make([]string, 0, len(fields.Fields))
	for _, f := range fields.Fields {
		if f.WildCard != nil {
			return nil, buzzerrors.Plan("mixing * with explicit columns is not supported")
		}
		col, ok := f.Expr.(*ast.ColumnNameExpr)
		if !ok {
			return nil, buzzerrors.Plan("only plain column references are supported in the SELECT list")
		}
		cols = append(cols, col.Name.Name.L)
	}
	return cols, nil
}

func whereComparisons(expr ast.ExprNode, schema *arrow.Schema) ([]planplumbing.Comparison, error) {
	if bin, ok := expr.(*ast.BinaryOperationExpr); ok && bin.Op == opcode.LogicAnd {
		left, err := whereComparisons(bin.L, schema)
		if err != nil {
			return nil, err
		}
		right, err := whereComparisons(bin.R, schema)
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil
	}
	bin, ok := expr.(*ast.BinaryOperationExpr)
	if !ok {
		return nil, buzzerrors.Plan("unsupported WHERE expression; only column/literal comparisons joined by AND are supported")
	}
	cmp, err := toComparison(bin, schema)
	if err != nil {
		return nil, err
	}
	return []planplumbing.Comparison{cmp}, nil
}

func toComparison(e *ast.BinaryOperationExpr, schema *arrow.Schema) (planplumbing.Comparison, error) {
	col, colOK := e.L.(*ast.ColumnNameExpr)
	val, valOK := e.R.(*driver.ValueExpr)
	if !colOK || !valOK {
		return planplumbing.Comparison{}, buzzerrors.Plan("unsupported WHERE predicate shape; expected column OP literal")
	}
	op, err := compareOp(e.Op)
	if err != nil {
		return planplumbing.Comparison{}, err
	}
	name := col.Name.Name.L
	idx := schema.FieldIndices(name)
	if len(idx) == 0 {
		return planplumbing.Comparison{}, buzzerrors.Plan("WHERE references unknown column %q", name)
	}
	return planplumbing.Comparison{
		Column: planplumbing.ColRef{Name: name, Index: idx[0]},
		Op:     op,
		Value:  planplumbing.Literal{Value: val.GetValue()},
	}, nil
}

func compareOp(op opcode.Op) (planplumbing.CompareOp, error) {
	switch op {
	case opcode.EQ:
		return planplumbing.OpEq, nil
	case opcode.NE:
		return planplumbing.OpNeq, nil
	case opcode.LT:
		return planplumbing.OpLt, nil
	case opcode.LE:
		return planplumbing.OpLte, nil
	case opcode.GT:
		return planplumbing.OpGt, nil
	case opcode.GE:
		return planplumbing.OpGte, nil
	default:
		return 0, buzzerrors.Plan("unsupported comparison operator %v", op)
	}
}

func limitCount(lim *ast.Limit) (int64, error) {
	val, ok := lim.Count.(*driver.ValueExpr)
	if !ok {
		return 0, buzzerrors.Plan("unsupported LIMIT expression")
	}
	switch n := val.GetValue().(type) {
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	default:
		return 0, buzzerrors.Plan("unsupported LIMIT literal type %T", n)
	}
}
