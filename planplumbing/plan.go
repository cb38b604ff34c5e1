// Package planplumbing models the plan tree shared by every tier: the
// planner builds logical plans out of it, the scanner lowers a logical
// plan's single ScanTable leaf into a physical ColumnarScanExec node built
// from the same interface, and the combiner executes a merge plan directly
// over a ResultTable leaf. spec.md keeps LogicalPlan and PhysicalPlan as two
// opaque types; this repository unifies them into one Plan interface whose
// nodes double as their own executor once every leaf resolves to something
// that can actually stream batches (see SPEC_FULL.md §3 for the rationale).
package planplumbing

import (
	"context"
	"io"

	"github.com/apache/arrow/go/v15/arrow"
)

// Plan is a node with zero or more input subplans and a list of
// expressions, reconstructible from (self, expressions, new inputs) per
// spec.md §3. Every concrete node type in this package also implements
// Execute, so planner rewrites and scanner/combiner execution share one
// tree shape.
type Plan interface {
	Schema() *arrow.Schema
	Inputs() []Plan
	Exprs() []Expr
	// WithInputs reconstructs this node with the same expressions over a
	// new set of inputs. len(inputs) must equal len(Inputs()).
	WithInputs(inputs []Plan) Plan
	// Execute runs one partition of this node, pulling from its inputs as
	// needed. partition must be in [0, OutputPartitioning()).
	Execute(ctx context.Context, partition int) (BatchStream, error)
	OutputPartitioning() int
	String() string
}

// BatchStream is a pull-based source of record batches. Next returns
// io.EOF once exhausted.
type BatchStream interface {
	Next(ctx context.Context) (arrow.Record, error)
}

// ErrStreamDone is returned by BatchStream implementations to mean
// end-of-stream; callers compare with errors.Is against io.EOF.
var ErrStreamDone = io.EOF

// sliceStream is a BatchStream over a pre-materialized slice of batches,
// used wherever a plan node needs to hand back a fixed set of records (the
// scanner's Collect step, tests, empty results).
type sliceStream struct {
	batches []arrow.Record
	pos     int
}

// NewSliceStream returns a BatchStream over an already-materialized slice
// of batches, in order.
func NewSliceStream(batches []arrow.Record) BatchStream {
	return &sliceStream{batches: batches}
}

func (s *sliceStream) Next(ctx context.Context) (arrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.batches) {
		return nil, io.EOF
	}
	rec := s.batches[s.pos]
	s.pos++
	return rec, nil
}

// Collect drains a BatchStream into a slice, the materialization step
// spec.md §4.4 requires of the scanner before it opens the upload RPC.
func Collect(ctx context.Context, s BatchStream) ([]arrow.Record, error) {
	var out []arrow.Record
	for {
		rec, err := s.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}
