// Package combiner implements the "hcomb" tier (spec.md §4.5): for each
// query it receives batches from N scanners over parallel RPCs, feeds them
// into a merge plan, and streams the merge plan's output back to the
// planner.
package combiner

import (
	"context"
	"sync"

	"github.com/apache/arrow/go/v15/arrow"
	"golang.org/x/sync/singleflight"

	"github.com/buzzdb/buzz/buzzerrors"
	"github.com/buzzdb/buzz/common"
	"github.com/buzzdb/buzz/log"
	"github.com/buzzdb/buzz/metrics"
	"github.com/buzzdb/buzz/planplumbing"
)

// entryMsg is one item on a query's shared channel.
type entryMsg struct {
	rec arrow.Record
}

// queryEntry is the registry's per-query state (spec.md §4.5): schema,
// remaining scanner count, the shared inbound channel, and whether its
// result stream has already been handed to a merge plan.
type queryEntry struct {
	queryID            common.QueryId
	schema             *arrow.Schema
	expectedPartitions int

	mu        sync.Mutex
	remaining int
	rxTaken   bool
	closeOnce sync.Once
	failErr   error

	ch chan entryMsg
}

func newQueryEntry(queryID common.QueryId, schema *arrow.Schema, expectedPartitions int) *queryEntry {
	return &queryEntry{
		queryID:            queryID,
		schema:             schema,
		expectedPartitions: expectedPartitions,
		remaining:          expectedPartitions,
		ch:                 make(chan entryMsg, expectedPartitions),
	}
}

// close closes the channel exactly once, whether triggered by the last
// scanner finishing cleanly or by Fail.
func (e *queryEntry) close() {
	e.closeOnce.Do(func() { close(e.ch) })
}

// Partition implements planplumbing.ResultStream. Every partition index
// hands back a view over the SAME shared channel: Go's channel already
// supports any number of concurrent receivers, so "the i-th partition is a
// handle to the shared channel" (spec.md §3) needs no extra bookkeeping —
// whichever partition goroutine is ready next receives the next item, and
// the channel's close is itself the one end-of-stream marker every
// partition observes (spec.md §9: "the merge operator owns the only
// consumer and re-partitions internally if needed").
func (e *queryEntry) Partition(i int) planplumbing.BatchStream {
	return &channelStream{entry: e}
}

type channelStream struct {
	entry *queryEntry
}

func (s *channelStream) Next(ctx context.Context) (arrow.Record, error) {
	select {
	case msg, ok := <-s.entry.ch:
		if !ok {
			s.entry.mu.Lock()
			err := s.entry.failErr
			s.entry.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return nil, planplumbing.ErrStreamDone
		}
		return msg.rec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// takeResultStream marks the entry's channel as claimed by a merge plan.
// Calling execute_query twice for the same query id is a violated
// invariant (spec.md §4.5: "at most one execute_query per id, enforced by
// rx_taken").
func (e *queryEntry) takeResultStream() (planplumbing.ResultStream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rxTaken {
		return nil, buzzerrors.Internal("duplicate execute_query for query %s", e.queryID)
	}
	e.rxTaken = true
	return e, nil
}

// Registry is the keyed map of in-flight queries spec.md §4.5 describes.
// Insert/decrement/remove are brief, lock-held critical sections; no
// channel handle is ever cloned or read while holding the lock, so no I/O
// happens under it (spec.md §5, §9).
type Registry struct {
	mu      sync.Mutex
	entries map[common.QueryId]*queryEntry
	create  singleflight.Group
	log     log.Logger
	metrics *metrics.Registry
}

// NewRegistry returns an empty Registry. reg may be nil.
func NewRegistry(reg *metrics.Registry) *Registry {
	return &Registry{
		entries: make(map[common.QueryId]*queryEntry),
		log:     log.New("component", "combiner_registry"),
		metrics: reg,
	}
}

// getOrCreate returns the entry for queryID, creating it on first sight
// (lazy creation per spec.md §4.5). Only ExecuteQuery (the DoGet path)
// creates entries; AddResults looks them up and fails on an unknown query.
// Concurrent DoGets for the same query are collapsed by singleflight onto
// one newQueryEntry call instead of letting the loser of a bare
// double-checked lock construct and discard a throwaway entry.
func (r *Registry) getOrCreate(queryID common.QueryId, schema *arrow.Schema, expectedPartitions int) *queryEntry {
	v, _, _ := r.create.Do(string(queryID), func() (interface{}, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if e, ok := r.entries[queryID]; ok {
			return e, nil
		}
		e := newQueryEntry(queryID, schema, expectedPartitions)
		r.entries[queryID] = e
		if r.metrics != nil {
			r.metrics.GetOrRegisterGauge("combiner_active_queries").Update(int64(len(r.entries)))
		}
		return e, nil
	})
	return v.(*queryEntry)
}

func (r *Registry) lookup(queryID common.QueryId) (*queryEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[queryID]
	return e, ok
}

func (r *Registry) remove(queryID common.QueryId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, queryID)
	if r.metrics != nil {
		r.metrics.GetOrRegisterGauge("combiner_active_queries").Update(int64(len(r.entries)))
	}
}
