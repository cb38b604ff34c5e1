package combiner

import (
	"context"

	"github.com/apache/arrow/go/v15/arrow"

	"github.com/buzzdb/buzz/buzzerrors"
	"github.com/buzzdb/buzz/common"
	"github.com/buzzdb/buzz/log"
	"github.com/buzzdb/buzz/metrics"
	"github.com/buzzdb/buzz/planplumbing"
	"github.com/buzzdb/buzz/sqlfront"
)

// QuerySource describes the virtual table a merge plan reads from: its
// name (the planner's steps[0].Name) and how many scanners will feed it
// (the planner's steps[0] split count, a.k.a. "nb_hbee" in the original
// Rust naming).
type QuerySource struct {
	Name       string
	NbScanners int
}

// Service is the "hcomb" tier of spec.md §4.5.
type Service struct {
	registry *Registry
	log      log.Logger
	metrics  *metrics.Registry
}

// New returns a Service with an empty query registry.
func New(reg *metrics.Registry) *Service {
	return &Service{
		registry: NewRegistry(reg),
		log:      log.New("component", "combiner_service"),
		metrics:  reg,
	}
}

// ExecuteQuery registers a ResultTable virtual provider named source.Name
// with expected_partition_count = source.NbScanners, parses sql against a
// catalog containing only that table, executes the resulting merge plan,
// and returns its merged output stream together with its schema (spec.md
// §4.5 execute_query).
func (s *Service) ExecuteQuery(ctx context.Context, queryID common.QueryId, sql string, source QuerySource, schema *arrow.Schema) (planplumbing.BatchStream, *arrow.Schema, error) {
	entry := s.registry.getOrCreate(queryID, schema, source.NbScanners)
	stream, err := entry.takeResultStream()
	if err != nil {
		return nil, nil, err
	}

	resultTable := planplumbing.NewResultTable(queryID, source.Name, schema, source.NbScanners, stream)
	catalog := sqlfront.MapCatalog{source.Name: resultTable}
	plan, err := sqlfront.Parse(sql, catalog)
	if err != nil {
		return nil, nil, err
	}

	merged, err := mergePartitions(ctx, plan)
	if err != nil {
		return nil, nil, err
	}
	return merged, plan.Schema(), nil
}

// AddResults appends the batches in batchStream into query's shared
// channel; once every expected scanner has reported completion, it closes
// the channel (spec.md §4.5 add_results). Any number of add_results calls
// for the same query may run concurrently, one per uploading scanner.
func (s *Service) AddResults(ctx context.Context, queryID common.QueryId, batchStream planplumbing.BatchStream) error {
	entry, ok := s.registry.lookup(queryID)
	if !ok {
		return buzzerrors.Internal("add_results for unknown query %s", queryID)
	}

	for {
		rec, err := batchStream.Next(ctx)
		if err == planplumbing.ErrStreamDone {
			break
		}
		if err != nil {
			return buzzerrors.WrapIO(err)
		}
		select {
		case entry.ch <- entryMsg{rec: rec}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	entry.mu.Lock()
	entry.remaining--
	done := entry.remaining <= 0
	entry.mu.Unlock()
	if s.metrics != nil {
		s.metrics.GetOrRegisterCounter("combiner_scanner_completions").Inc(1)
	}
	if done {
		entry.close()
		s.registry.remove(queryID)
	}
	return nil
}

// Fail poisons query's channel so the merge plan surfaces err on its next
// poll, and drops the registry entry. Idempotent: a second Fail (or a Fail
// racing the last add_results) for the same query id is a no-op beyond the
// first (spec.md §4.5 fail; §8 "FAIL is idempotent").
func (s *Service) Fail(queryID common.QueryId, cause error) {
	entry, ok := s.registry.lookup(queryID)
	if !ok {
		// Nothing registered yet (e.g. FAIL arrives before any DoGet) -
		// the registry is still the source of truth for future DoGet
		// calls, so record a pre-failed entry lazily would need a schema
		// we don't have; the fabric's producers always register the query
		// via DoGet before any scanner uploads, so this path only matters
		// for genuinely out-of-order RPC delivery and is logged, not
		// retried (spec.md §7: "nothing is retried inside the core").
		s.log.Warn("FAIL for unregistered query", "query_id", queryID, "reason", cause)
		return
	}
	entry.mu.Lock()
	alreadyDone := entry.failErr != nil
	if !alreadyDone {
		entry.failErr = buzzerrors.RemoteFail("%v", cause)
	}
	entry.mu.Unlock()
	entry.close()
	s.registry.remove(queryID)
	if s.metrics != nil {
		s.metrics.GetOrRegisterCounter("combiner_query_failures").Inc(1)
	}
}
