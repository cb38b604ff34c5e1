// Package rangecache implements the per-scanner asynchronous byte-range
// cache of spec.md §4.1: it accepts non-blocking prefetch hints and
// synchronous reads that block the caller until every byte range they cover
// has resolved, overlapping network download with columnar decode.
//
// A request never triggers a download by itself. Prefetch only grows a
// coalesced "queued" region; the actual download is issued — for every
// queued region at once, maximally coalesced — only when Flush is called
// explicitly, or implicitly by Read (which must guarantee its bytes
// eventually arrive). This two-phase queued/dispatched split is what makes
// spec.md §8 scenario 5 deterministic: prefetch(0,100) then prefetch(50,100)
// extend one queued region to [0,150) without starting any network call;
// read(0,200) extends it once more to [0,200) and only then dispatches,
// producing exactly one download of [0,200).
package rangecache

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/buzzdb/buzz/buzzerrors"
	"github.com/buzzdb/buzz/log"
	"github.com/buzzdb/buzz/metrics"
	"github.com/buzzdb/buzz/objectstore"
)

type entryState int

const (
	stateQueued entryState = iota
	stateDownloading
	stateReady
	stateFailed
)

type rangeEntry struct {
	start, length uint64
	state         entryState
	bytes         []byte
	err           error
	// done is closed exactly once, when state transitions to Ready or
	// Failed. It is the cross-goroutine wake primitive design notes §9
	// calls for: both the async dispatcher (on download completion) and
	// any number of blocked Read callers synchronize on it.
	done chan struct{}
}

func (e *rangeEntry) end() uint64 { return e.start + e.length }

// Statistics are the best-effort monotone counters of spec.md §4.1.
type Statistics struct {
	DownloadCount     int64
	DownloadedBytes   int64
	ProcessedBytes    int64
	WaitingDownloadMs int64
}

// RangeCache is uniquely owned by one scanner query invocation; ObjectFile
// handles share it through a plain pointer (see objectfile.go).
type RangeCache struct {
	store        objectstore.Store
	bucket, key  string
	log          log.Logger
	metrics      *metrics.Registry

	mu      sync.Mutex
	entries []*rangeEntry // sorted by start; mutually non-overlapping across all states

	downloadCount     atomic.Int64
	downloadedBytes   atomic.Int64
	processedBytes    atomic.Int64
	waitingDownloadMs atomic.Int64
}

// New returns a RangeCache over one object-store key. reg may be nil.
func New(store objectstore.Store, bucket, key string, reg *metrics.Registry) *RangeCache {
	return &RangeCache{
		store:   store,
		bucket:  bucket,
		key:     key,
		log:     log.New("component", "rangecache", "key", key),
		metrics: reg,
	}
}

// Prefetch is a non-blocking hint: idempotent, and a no-op for any byte
// already covered by a queued, in-flight, ready or poisoned range.
func (c *RangeCache) Prefetch(offset, length uint64) {
	if length == 0 {
		return
	}
	c.mu.Lock()
	c.ensureQueuedLocked(offset, offset+length)
	c.mu.Unlock()
}

// Flush dispatches every currently queued range as one download task each,
// maximally coalesced. Callers that issue a batch of Prefetch calls for one
// file (as ColumnarScanExec does for a footer plus every column chunk) call
// Flush once at the end so the downloads start overlapping with decode
// immediately, rather than waiting for the first Read.
func (c *RangeCache) Flush() {
	c.mu.Lock()
	var toDispatch []*rangeEntry
	for _, e := range c.entries {
		if e.state == stateQueued {
			e.state = stateDownloading
			toDispatch = append(toDispatch, e)
		}
	}
	if len(toDispatch) > 0 {
		c.downloadCount.Add(int64(len(toDispatch)))
		if c.metrics != nil {
			c.metrics.GetOrRegisterCounter("rangecache_download_count").Inc(int64(len(toDispatch)))
		}
	}
	c.mu.Unlock()

	for _, e := range toDispatch {
		go c.download(e)
	}
}

// Read blocks until every byte in [offset, offset+length) is Ready, and
// returns those bytes, or the first Failed range's error. It is safe to
// call from a goroutine that is not the caller's main scheduling loop (the
// dedicated worker goroutine of ColumnarScanExec calls it directly).
func (c *RangeCache) Read(ctx context.Context, offset, length uint64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	end := offset + length

	c.mu.Lock()
	c.ensureQueuedLocked(offset, end)
	c.mu.Unlock()
	c.Flush()

	overlapping := c.overlapping(offset, end)

	waitStart := time.Now()
	for _, e := range overlapping {
		select {
		case <-e.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	waited := time.Since(waitStart).Milliseconds()
	c.waitingDownloadMs.Add(waited)
	if c.metrics != nil {
		c.metrics.GetOrRegisterTimer("rangecache_wait").Update(time.Since(waitStart))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range overlapping {
		if e.state == stateFailed {
			return nil, buzzerrors.WrapIO(e.err)
		}
	}
	out := make([]byte, length)
	for _, e := range overlapping {
		copyOverlap(out, offset, length, e)
	}
	c.processedBytes.Add(int64(length))
	return out, nil
}

// Statistics returns a point-in-time snapshot of the monotone counters.
func (c *RangeCache) Statistics() Statistics {
	return Statistics{
		DownloadCount:     c.downloadCount.Load(),
		DownloadedBytes:   c.downloadedBytes.Load(),
		ProcessedBytes:    c.processedBytes.Load(),
		WaitingDownloadMs: c.waitingDownloadMs.Load(),
	}
}

// ensureQueuedLocked grows the queued region to cover [start,end), merging
// with any queued range that overlaps or touches it, then subtracts
// whatever is already covered by a non-queued (downloading/ready/failed)
// range before inserting the remainder as new queued entries. Caller holds
// c.mu.
func (c *RangeCache) ensureQueuedLocked(start, end uint64) {
	lo, hi, absorbed := c.mergeQueuedBoundsLocked(start, end)
	if len(absorbed) > 0 {
		c.removeLocked(absorbed)
	}
	for _, g := range gapsAgainstDispatched(c.entries, lo, hi) {
		c.insertLocked(&rangeEntry{
			start:  g[0],
			length: g[1] - g[0],
			state:  stateQueued,
			done:   make(chan struct{}),
		})
	}
}

// mergeQueuedBoundsLocked expands [start,end) to include every queued entry
// that overlaps or is adjacent to it, transitively, and returns the queued
// entries absorbed into the expanded bound.
func (c *RangeCache) mergeQueuedBoundsLocked(start, end uint64) (lo, hi uint64, absorbed []*rangeEntry) {
	lo, hi = start, end
	used := make(map[*rangeEntry]bool)
	for {
		grew := false
		for _, e := range c.entries {
			if e.state != stateQueued || used[e] {
				continue
			}
			if e.start <= hi && e.end() >= lo {
				if e.start < lo {
					lo = e.start
				}
				if e.end() > hi {
					hi = e.end()
				}
				used[e] = true
				absorbed = append(absorbed, e)
				grew = true
			}
		}
		if !grew {
			return lo, hi, absorbed
		}
	}
}

// gapsAgainstDispatched returns the sub-ranges of [lo,hi) not covered by any
// downloading/ready/failed entry (queued entries are ignored — the caller
// has already absorbed and removed the relevant ones).
func gapsAgainstDispatched(entries []*rangeEntry, lo, hi uint64) [][2]uint64 {
	type iv struct{ start, end uint64 }
	var covering []iv
	for _, e := range entries {
		if e.state == stateQueued {
			continue
		}
		if e.end() <= lo || e.start >= hi {
			continue
		}
		covering = append(covering, iv{max(e.start, lo), min(e.end(), hi)})
	}
	sort.Slice(covering, func(i, j int) bool { return covering[i].start < covering[j].start })

	var gaps [][2]uint64
	cursor := lo
	for _, c := range covering {
		if c.start > cursor {
			gaps = append(gaps, [2]uint64{cursor, c.start})
		}
		if c.end > cursor {
			cursor = c.end
		}
	}
	if cursor < hi {
		gaps = append(gaps, [2]uint64{cursor, hi})
	}
	return gaps
}

// insertLocked inserts e keeping c.entries sorted by start. Caller holds c.mu.
func (c *RangeCache) insertLocked(e *rangeEntry) {
	i := sort.Search(len(c.entries), func(i int) bool { return c.entries[i].start >= e.start })
	c.entries = append(c.entries, nil)
	copy(c.entries[i+1:], c.entries[i:])
	c.entries[i] = e
}

// removeLocked removes the given entries (by pointer identity) from
// c.entries. Caller holds c.mu.
func (c *RangeCache) removeLocked(remove []*rangeEntry) {
	drop := make(map[*rangeEntry]bool, len(remove))
	for _, e := range remove {
		drop[e] = true
	}
	kept := c.entries[:0]
	for _, e := range c.entries {
		if !drop[e] {
			kept = append(kept, e)
		}
	}
	c.entries = kept
}

// overlapping returns, sorted by start, every entry currently overlapping
// [start,end).
func (c *RangeCache) overlapping(start, end uint64) []*rangeEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*rangeEntry
	for _, e := range c.entries {
		if e.start < end && e.end() > start {
			out = append(out, e)
		}
	}
	return out
}

func (c *RangeCache) download(e *rangeEntry) {
	// Downloads are never cancelled once issued: a dropped ObjectFile
	// orphans them until completion rather than racing a context
	// cancellation against an in-flight HTTP request.
	data, err := c.store.GetRange(context.Background(), c.bucket, c.key, e.start, e.length)

	c.mu.Lock()
	if err != nil {
		e.state = stateFailed
		e.err = err
		c.log.Warn("range download failed", "start", e.start, "length", e.length, "err", err)
	} else {
		e.state = stateReady
		e.bytes = data
		c.downloadedBytes.Add(int64(e.length))
		if c.metrics != nil {
			c.metrics.GetOrRegisterCounter("rangecache_downloaded_bytes").Inc(int64(e.length))
		}
	}
	close(e.done)
	c.mu.Unlock()
}

func copyOverlap(dst []byte, reqStart, reqLen uint64, e *rangeEntry) {
	reqEnd := reqStart + reqLen
	s := max(e.start, reqStart)
	en := min(e.end(), reqEnd)
	if s >= en {
		return
	}
	srcOff := s - e.start
	dstOff := s - reqStart
	copy(dst[dstOff:dstOff+(en-s)], e.bytes[srcOff:srcOff+(en-s)])
}
