package planplumbing

import "fmt"

// Expr is the opaque scalar expression spec.md §3 leaves unspecified beyond
// "a list of expressions". The core only ever needs to name a column
// (projection), compare a column to a literal (a WHERE clause), or carry a
// literal row cap (LIMIT), so those are the only three shapes implemented.
type Expr interface {
	String() string
}

// ColRef names one input column by its position in the child schema.
type ColRef struct {
	Name  string
	Index int
}

func (c ColRef) String() string { return c.Name }

// Literal is a constant scalar operand of a comparison.
type Literal struct {
	Value any
}

func (l Literal) String() string { return fmt.Sprintf("%v", l.Value) }

// CompareOp is the set of binary comparisons FilterPlan evaluates.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
)

func (op CompareOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNeq:
		return "!="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	default:
		return "?"
	}
}

// Comparison is a single `column OP literal` predicate, the only WHERE
// clause shape the core evaluates (conjunctions of these are represented
// as a slice on FilterPlan, implicitly AND-ed).
type Comparison struct {
	Column ColRef
	Op     CompareOp
	Value  Literal
}

func (c Comparison) String() string { return fmt.Sprintf("%s %s %s", c.Column, c.Op, c.Value) }
