package combiner

import (
	"context"

	"github.com/apache/arrow/go/v15/arrow"
	"golang.org/x/sync/errgroup"

	"github.com/buzzdb/buzz/buzzerrors"
	"github.com/buzzdb/buzz/planplumbing"
)

// mergePartitions fans in every partition of plan into one BatchStream,
// mirroring the in-memory merge operator ScannerService wraps a
// multi-partition physical plan in (spec.md §4.4 step 3) but streaming
// rather than materializing: the combiner must start forwarding rows to
// the planner as they arrive, not after every scanner has finished
// (spec.md §1: "feeding the merger's pull-based stream as data arrives").
func mergePartitions(ctx context.Context, plan planplumbing.Plan) (planplumbing.BatchStream, error) {
	n := plan.OutputPartitioning()
	if n <= 0 {
		return nil, buzzerrors.Internal("merge plan has zero output partitions")
	}
	if n == 1 {
		return plan.Execute(ctx, 0)
	}

	out := make(chan mergeMsg, n)
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < n; i++ {
		partition := i
		g.Go(func() error {
			s, err := plan.Execute(gctx, partition)
			if err != nil {
				return err
			}
			for {
				rec, err := s.Next(gctx)
				if err == planplumbing.ErrStreamDone {
					return nil
				}
				if err != nil {
					return err
				}
				select {
				case out <- mergeMsg{rec: rec}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		})
	}

	go func() {
		err := g.Wait()
		if err != nil {
			select {
			case out <- mergeMsg{err: err}:
			case <-ctx.Done():
			}
		}
		close(out)
		cancel()
	}()

	return &mergeStream{out: out, cancel: cancel}, nil
}

type mergeMsg struct {
	rec arrow.Record
	err error
}

type mergeStream struct {
	out    chan mergeMsg
	cancel context.CancelFunc
}

func (s *mergeStream) Next(ctx context.Context) (arrow.Record, error) {
	select {
	case msg, ok := <-s.out:
		if !ok {
			return nil, planplumbing.ErrStreamDone
		}
		if msg.err != nil {
			return nil, msg.err
		}
		return msg.rec, nil
	case <-ctx.Done():
		s.cancel()
		return nil, ctx.Err()
	}
}
