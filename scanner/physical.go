package scanner

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v15/arrow"
	"golang.org/x/sync/errgroup"

	"github.com/buzzdb/buzz/buzzerrors"
	"github.com/buzzdb/buzz/execution"
	"github.com/buzzdb/buzz/planplumbing"
)

// physicalLeaf adapts a ColumnarScanExec to planplumbing.Plan so it can
// stand in for the logical TableScanPlan leaf once lowered (spec.md §4.4
// step 3).
type physicalLeaf struct {
	exec *execution.ColumnarScanExec
}

func (p *physicalLeaf) Schema() *arrow.Schema { return p.exec.Schema() }
func (p *physicalLeaf) Inputs() []planplumbing.Plan { return nil }
func (p *physicalLeaf) Exprs() []planplumbing.Expr  { return nil }
func (p *physicalLeaf) String() string              { return "ColumnarScanExec" }
func (p *physicalLeaf) OutputPartitioning() int      { return p.exec.OutputPartitioning() }

func (p *physicalLeaf) WithInputs(inputs []planplumbing.Plan) planplumbing.Plan {
	if len(inputs) != 0 {
		panic("scanner: physicalLeaf is a leaf, got non-empty inputs")
	}
	return p
}

func (p *physicalLeaf) Execute(ctx context.Context, partition int) (planplumbing.BatchStream, error) {
	return p.exec.Execute(ctx, partition)
}

// mergeInMemory wraps a multi-partition physical plan with the merge
// operator spec.md §4.4 step 3 requires before collection: every partition
// is executed and drained concurrently, then their batches are
// concatenated in partition order so the scanner still streams them as one
// deterministic sequence (spec.md §8 scenario 6).
func mergeInMemory(ctx context.Context, plan planplumbing.Plan, n int) (planplumbing.BatchStream, error) {
	perPartition := make([][]arrow.Record, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		partition := i
		g.Go(func() error {
			s, err := plan.Execute(gctx, partition)
			if err != nil {
				return fmt.Errorf("partition %d: %w", partition, err)
			}
			batches, err := planplumbing.Collect(gctx, s)
			if err != nil {
				return fmt.Errorf("partition %d: %w", partition, err)
			}
			perPartition[partition] = batches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, buzzerrors.WrapExecution(err)
	}

	var all []arrow.Record
	for _, batches := range perPartition {
		all = append(all, batches...)
	}
	return planplumbing.NewSliceStream(all), nil
}
