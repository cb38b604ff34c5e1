package rangecache

import (
	"context"
	"testing"
	"time"

	"github.com/buzzdb/buzz/objectstore"
)

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestReadReturnsExactBytes(t *testing.T) {
	data := payload(1000)
	store := objectstore.NewMemStore(map[string][]byte{"b/k": data})
	c := New(store, "b", "k", nil)

	got, err := c.Read(context.Background(), 100, 50)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(data[100:150]) {
		t.Errorf("Read returned wrong bytes")
	}
	stats := c.Statistics()
	if stats.DownloadCount != 1 {
		t.Errorf("DownloadCount = %d, want 1", stats.DownloadCount)
	}
	if stats.ProcessedBytes != 50 {
		t.Errorf("ProcessedBytes = %d, want 50", stats.ProcessedBytes)
	}
}

// TestPrefetchCoalescing is spec.md §8 scenario 5: two overlapping prefetch
// hints followed by a read spanning both must produce exactly one download
// covering the full read, not three separate ones.
func TestPrefetchCoalescing(t *testing.T) {
	data := payload(200)
	store := objectstore.NewMemStore(map[string][]byte{"b/k": data})
	c := New(store, "b", "k", nil)

	c.Prefetch(0, 100)
	c.Prefetch(50, 100)
	got, err := c.Read(context.Background(), 0, 200)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Read returned wrong bytes")
	}
	stats := c.Statistics()
	if stats.DownloadCount != 1 {
		t.Errorf("DownloadCount = %d, want 1", stats.DownloadCount)
	}
	if stats.DownloadedBytes != 200 {
		t.Errorf("DownloadedBytes = %d, want 200", stats.DownloadedBytes)
	}
}

func TestPrefetchIsIdempotentForCoveredRange(t *testing.T) {
	data := payload(100)
	store := objectstore.NewMemStore(map[string][]byte{"b/k": data})
	c := New(store, "b", "k", nil)

	c.Prefetch(0, 100)
	c.Flush()
	// Wait for the first download to land before re-prefetching the same range.
	if _, err := c.Read(context.Background(), 0, 100); err != nil {
		t.Fatalf("Read: %v", err)
	}
	c.Prefetch(0, 100)
	c.Flush()
	if got := c.Statistics().DownloadCount; got != 1 {
		t.Errorf("DownloadCount = %d, want 1 (re-prefetch of a ready range must be a no-op)", got)
	}
}

func TestFailedRangePoisonsFutureReads(t *testing.T) {
	store := objectstore.NewMemStore(map[string][]byte{"b/k": payload(100)})
	store.FailKeys = map[string]bool{"k": true}
	c := New(store, "b", "k", nil)

	if _, err := c.Read(context.Background(), 0, 50); err == nil {
		t.Fatalf("expected Read to fail")
	}
	if _, err := c.Read(context.Background(), 0, 50); err == nil {
		t.Errorf("expected the poisoned range to fail again without re-downloading")
	}
	if got := c.Statistics().DownloadCount; got != 1 {
		t.Errorf("DownloadCount = %d, want 1 (failed range must not be retried)", got)
	}
}

func TestReadRespectsContextCancellation(t *testing.T) {
	store := &blockingStore{unblock: make(chan struct{})}
	c := New(store, "b", "k", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Read(ctx, 0, 10); err == nil {
		t.Errorf("expected context deadline error")
	}
	close(store.unblock)
}

func TestConcurrentReadsOfOverlappingRangesShareOneDownload(t *testing.T) {
	data := payload(500)
	store := objectstore.NewMemStore(map[string][]byte{"b/k": data})
	c := New(store, "b", "k", nil)

	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := c.Read(context.Background(), 0, 500)
			done <- err
		}()
	}
	for i := 0; i < 4; i++ {
		if err := <-done; err != nil {
			t.Errorf("Read: %v", err)
		}
	}
	if got := c.Statistics().DownloadCount; got != 1 {
		t.Errorf("DownloadCount = %d, want 1", got)
	}
}

type blockingStore struct {
	unblock chan struct{}
}

func (s *blockingStore) Head(context.Context, string, string) (uint64, error) { return 0, nil }

func (s *blockingStore) GetRange(ctx context.Context, bucket, key string, offset, length uint64) ([]byte, error) {
	<-s.unblock
	return make([]byte, length), nil
}
