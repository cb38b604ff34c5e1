package planner

import (
	"context"

	"github.com/apache/arrow/go/v15/arrow"
	"golang.org/x/sync/errgroup"

	"github.com/buzzdb/buzz/buzzerrors"
	"github.com/buzzdb/buzz/common"
	"github.com/buzzdb/buzz/planplumbing"
	"github.com/buzzdb/buzz/rpcflight"
)

// ScannerDialer resolves a scanner address to a client able to accept an
// ExecuteQuery dispatch.
type ScannerDialer func(common.HCombAddress) (*rpcflight.ScannerClient, error)

// CombinerDialer resolves a combiner address to a client able to serve a
// DoGet pull.
type CombinerDialer func(common.HCombAddress) (*rpcflight.CombinerClient, error)

// Dispatch implements spec.md §4.6 step 5-6: round-robin each zone's scan
// dispatches across the given scanner pool, fire each ExecuteQuery action,
// then pull every zone's merged result over DoGet and concatenate the
// streams in zone order (zones partition the scan files disjointly, so
// concatenation — not a further merge — is the correct way to recombine
// them into the query's final output).
func Dispatch(ctx context.Context, plan *DistributedPlan, scanners []common.HCombAddress, dialScanner ScannerDialer, dialCombiner CombinerDialer) (planplumbing.BatchStream, error) {
	if len(scanners) == 0 {
		return nil, buzzerrors.Plan("at least one scanner is required")
	}

	g, gctx := errgroup.WithContext(ctx)
	next := 0
	for _, zone := range plan.Zones {
		for _, dispatch := range zone.Scans {
			addr := scanners[next%len(scanners)]
			next++
			d := dispatch
			g.Go(func() error {
				client, err := dialScanner(addr)
				if err != nil {
					return buzzerrors.WrapIO(err)
				}
				schemaBytes, err := rpcflight.EncodeSchema(d.Table.Schema())
				if err != nil {
					return err
				}
				body := rpcflight.ExecuteQueryBody{
					QueryID:     d.QueryID,
					ScanSQL:     d.ScanSQL,
					TableName:   d.Table.Name(),
					SchemaBytes: schemaBytes,
					Files:       d.Table.Files(),
					Combiner:    d.Combiner,
					BatchSize:   2048,
				}
				return client.ExecuteQuery(gctx, body)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, buzzerrors.WrapIO(err)
	}

	zoneStreams := make([]planplumbing.BatchStream, len(plan.Zones))
	gg, ggctx := errgroup.WithContext(ctx)
	for i, zone := range plan.Zones {
		i, zone := i, zone
		gg.Go(func() error {
			client, err := dialCombiner(zone.Combiner)
			if err != nil {
				return buzzerrors.WrapIO(err)
			}
			node := rpcflight.HCombScanNode{
				QueryID:    plan.QueryID,
				NbScanners: zone.NbScanners,
				Schema:     zone.Schema,
				SQL:        zone.MergeSQL,
				MergeName:  zone.MergeName,
			}
			stream, err := client.DoGet(ggctx, node)
			if err != nil {
				return err
			}
			zoneStreams[i] = stream
			return nil
		})
	}
	if err := gg.Wait(); err != nil {
		return nil, err
	}

	return &concatStream{streams: zoneStreams}, nil
}

// concatStream drains its streams one at a time, in order.
type concatStream struct {
	streams []planplumbing.BatchStream
	idx     int
}

func (c *concatStream) Next(ctx context.Context) (arrow.Record, error) {
	for c.idx < len(c.streams) {
		rec, err := c.streams[c.idx].Next(ctx)
		if err == planplumbing.ErrStreamDone {
			c.idx++
			continue
		}
		return rec, err
	}
	return nil, planplumbing.ErrStreamDone
}
