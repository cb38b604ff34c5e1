// Package scanner implements the "hbee" tier (spec.md §4.4): one-shot
// execution of one zone's scan plan, streaming results to the zone's
// combiner, or reporting a FAIL if anything goes wrong before the upload
// opens.
package scanner

import (
	"context"
	"time"

	"github.com/apache/arrow/go/v15/arrow"

	"github.com/buzzdb/buzz/buzzerrors"
	"github.com/buzzdb/buzz/common"
	"github.com/buzzdb/buzz/execution"
	"github.com/buzzdb/buzz/log"
	"github.com/buzzdb/buzz/metrics"
	"github.com/buzzdb/buzz/objectstore"
	"github.com/buzzdb/buzz/planplumbing"
	"github.com/buzzdb/buzz/rangecache"
	"github.com/buzzdb/buzz/sqlfront"
)

// Request is everything one invocation of execute_query needs: the query
// id, the scan SQL, the single ScanTable this scanner is responsible for,
// the combiner to upload to, and the batch size to decode at.
type Request struct {
	QueryID   common.QueryId
	ScanSQL   string
	Table     *planplumbing.ScanTable
	Combiner  common.HCombAddress
	BatchSize int64
}

// Uploader is the scanner's outbound collaborator: on success it opens a
// streaming upload carrying (schema, batches); on failure along the way it
// sends a FAIL control message instead (spec.md §4.4 steps 5-6). Kept as an
// interface so scanner logic is testable without a live gRPC connection;
// rpcflight provides the production implementation.
type Uploader interface {
	Upload(ctx context.Context, queryID common.QueryId, schema *arrow.Schema, batches planplumbing.BatchStream) error
	Fail(ctx context.Context, queryID common.QueryId, reason string) error
}

// Result carries the Observables of spec.md §4.4: none of it is part of
// the correctness contract, but it is logged and exported as metrics.
type Result struct {
	QueryDuration  time.Duration
	UploadDuration time.Duration
	CacheStats     rangecache.Statistics
}

// Service is the "hbee" tier.
type Service struct {
	store     objectstore.Store
	bucket    string
	uploaders func(common.HCombAddress) Uploader
	log       log.Logger
	metrics   *metrics.Registry
}

// New returns a Service reading from store/bucket, dialing combiners via
// dial.
func New(store objectstore.Store, bucket string, dial func(common.HCombAddress) Uploader, reg *metrics.Registry) *Service {
	return &Service{
		store:     store,
		bucket:    bucket,
		uploaders: dial,
		log:       log.New("component", "scanner_service"),
		metrics:   reg,
	}
}

// ExecuteQuery runs spec.md §4.4's five-step contract: re-derive the
// per-file plan (step "optimize" is this parse, since no separate
// optimizer runs in this core), inject the RangeCache, lower multi-
// partition output to one via an in-memory merge, collect, and upload —
// or FAIL on any error along the way.
func (s *Service) ExecuteQuery(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	up := s.uploaders(req.Combiner)

	batches, schema, stats, err := s.query(ctx, req)
	queryDuration := time.Since(start)

	if err != nil {
		reason := err.Error()
		if ferr := up.Fail(ctx, req.QueryID, reason); ferr != nil {
			s.log.Error("FAIL upload itself failed", "query_id", req.QueryID, "query_err", err, "fail_err", ferr)
			return Result{QueryDuration: queryDuration}, ferr
		}
		s.log.Warn("query failed, sent FAIL", "query_id", req.QueryID, "err", err)
		return Result{QueryDuration: queryDuration}, nil
	}

	uploadStart := time.Now()
	uploadErr := up.Upload(ctx, req.QueryID, schema, batches)
	uploadDuration := time.Since(uploadStart)

	result := Result{QueryDuration: queryDuration, UploadDuration: uploadDuration, CacheStats: stats}
	s.observe(req.QueryID, result)

	if uploadErr != nil {
		return result, buzzerrors.WrapIO(uploadErr)
	}
	return result, nil
}

// query implements spec.md §4.4 steps 1-4: parse (the "optimize" step, in
// lieu of a separate logical optimizer, per spec.md §1's framing of the
// optimizer as an assumed external component with no rewrite of its own
// this core performs), inject cache, lower to one partition, collect.
func (s *Service) query(ctx context.Context, req Request) (planplumbing.BatchStream, *arrow.Schema, rangecache.Statistics, error) {
	table := req.Table
	reg := metrics.NewRegistry()
	caches := make(map[string]*rangecache.RangeCache, len(table.Files()))
	files := make([]execution.File, 0, len(table.Files()))
	for _, f := range table.Files() {
		cache := rangecache.New(s.store, s.bucket, f.Key, reg)
		caches[f.Key] = cache
		files = append(files, execution.File{Sized: f, Cache: cache})
	}
	if err := table.SetCaches(caches); err != nil {
		return nil, nil, rangecache.Statistics{}, err
	}

	catalog := sqlfront.MapCatalog{table.Name(): table}
	plan, err := sqlfront.Parse(req.ScanSQL, catalog)
	if err != nil {
		return nil, nil, rangecache.Statistics{}, err
	}

	leaf, err := findScanTableLeaf(plan)
	if err != nil {
		return nil, nil, rangecache.Statistics{}, err
	}

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = 2048
	}
	scanExec, err := execution.TryNew(ctx, files, leaf.Projection(), batchSize, table.Schema())
	if err != nil {
		return nil, nil, rangecache.Statistics{}, buzzerrors.WrapExecution(err)
	}

	physicalPlan := replaceLeafWithExec(plan, leaf, scanExec)

	n := physicalPlan.OutputPartitioning()
	if n == 0 {
		return nil, nil, rangecache.Statistics{}, buzzerrors.Internal("physical plan produced zero partitions")
	}

	var merged planplumbing.BatchStream
	if n == 1 {
		merged, err = physicalPlan.Execute(ctx, 0)
	} else {
		merged, err = mergeInMemory(ctx, physicalPlan, n)
	}
	if err != nil {
		return nil, nil, rangecache.Statistics{}, buzzerrors.WrapExecution(err)
	}

	collected, err := planplumbing.Collect(ctx, merged)
	if err != nil {
		return nil, nil, rangecache.Statistics{}, buzzerrors.WrapExecution(err)
	}

	stats := aggregateStats(caches)
	return planplumbing.NewSliceStream(collected), physicalPlan.Schema(), stats, nil
}

func aggregateStats(caches map[string]*rangecache.RangeCache) rangecache.Statistics {
	var total rangecache.Statistics
	for _, c := range caches {
		st := c.Statistics()
		total.DownloadCount += st.DownloadCount
		total.DownloadedBytes += st.DownloadedBytes
		total.ProcessedBytes += st.ProcessedBytes
		total.WaitingDownloadMs += st.WaitingDownloadMs
	}
	return total
}

func (s *Service) observe(queryID common.QueryId, r Result) {
	s.log.Info("query complete",
		"query_id", queryID,
		"query_duration_ms", r.QueryDuration.Milliseconds(),
		"upload_duration_ms", r.UploadDuration.Milliseconds(),
		"waiting_download_ms", r.CacheStats.WaitingDownloadMs,
		"downloaded_bytes", r.CacheStats.DownloadedBytes,
		"processed_bytes", r.CacheStats.ProcessedBytes,
		"download_count", r.CacheStats.DownloadCount,
	)
	if s.metrics == nil {
		return
	}
	s.metrics.GetOrRegisterTimer("scanner_query_duration").Update(r.QueryDuration)
	s.metrics.GetOrRegisterTimer("scanner_upload_duration").Update(r.UploadDuration)
	s.metrics.GetOrRegisterCounter("scanner_downloaded_bytes").Inc(r.CacheStats.DownloadedBytes)
	s.metrics.GetOrRegisterCounter("scanner_processed_bytes").Inc(r.CacheStats.ProcessedBytes)
	s.metrics.GetOrRegisterCounter("scanner_download_count").Inc(r.CacheStats.DownloadCount)
}

// findScanTableLeaf walks down to plan's single leaf and requires it to be
// a TableScanPlan over a ScanTable — the invariant spec.md §4.4 step 2
// states ("it is an invariant that exactly one exists").
func findScanTableLeaf(plan planplumbing.Plan) (*planplumbing.TableScanPlan, error) {
	cur := plan
	for {
		inputs := cur.Inputs()
		if len(inputs) == 0 {
			break
		}
		cur = inputs[0]
	}
	leaf, ok := cur.(*planplumbing.TableScanPlan)
	if !ok {
		return nil, buzzerrors.Internal("scan plan has no TableScanPlan leaf (%T)", cur)
	}
	if _, ok := leaf.Source().(*planplumbing.ScanTable); !ok {
		return nil, buzzerrors.Internal("scan plan leaf is not a ScanTable (%T)", leaf.Source())
	}
	return leaf, nil
}

// replaceLeafWithExec rebuilds plan's ancestor chain over scanExec instead
// of its original TableScanPlan leaf, the scanner-side analogue of
// planner.split's rebuildAncestors: the logical leaf is lowered to a
// physical node, everything above it (projection/filter/limit) is replayed
// unchanged.
func replaceLeafWithExec(plan planplumbing.Plan, leaf *planplumbing.TableScanPlan, scanExec *execution.ColumnarScanExec) planplumbing.Plan {
	var ancestors []planplumbing.Plan
	cur := plan
	for cur != planplumbing.Plan(leaf) {
		ancestors = append(ancestors, cur)
		cur = cur.Inputs()[0]
	}
	physLeaf := &physicalLeaf{exec: scanExec}
	out := planplumbing.Plan(physLeaf)
	for i := len(ancestors) - 1; i >= 0; i-- {
		out = ancestors[i].WithInputs([]planplumbing.Plan{out})
	}
	return out
}
