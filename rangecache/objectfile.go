package rangecache

import (
	"context"
	"io"

	"github.com/buzzdb/buzz/buzzerrors"
	"github.com/buzzdb/buzz/common"
)

// ObjectFile adapts a RangeCache to the random-access reader shape the
// columnar reader needs (spec.md §4.2): a fixed-size file whose bytes are
// read through prefetch-then-block semantics instead of a direct object
// store round trip per read.
type ObjectFile struct {
	file  common.SizedFile
	cache *RangeCache
	pos   int64
}

// NewObjectFile returns an ObjectFile over file, backed by cache. cache is
// expected to already be scoped to file.Key.
func NewObjectFile(file common.SizedFile, cache *RangeCache) *ObjectFile {
	return &ObjectFile{file: file, cache: cache}
}

// Size returns the total length of the underlying file.
func (f *ObjectFile) Size() int64 { return int64(f.file.Length) }

// Prefetch is a passthrough hint to the underlying RangeCache.
func (f *ObjectFile) Prefetch(offset, length uint64) { f.cache.Prefetch(offset, length) }

// Flush dispatches every range queued by Prefetch so far.
func (f *ObjectFile) Flush() { f.cache.Flush() }

// Statistics returns the underlying RangeCache's counters.
func (f *ObjectFile) Statistics() Statistics { return f.cache.Statistics() }

// ReadRange blocks until [offset, offset+length) is available and returns
// it, honoring ctx cancellation on the waiting side (the download itself is
// never cancelled, see RangeCache.download).
func (f *ObjectFile) ReadRange(ctx context.Context, offset, length uint64) ([]byte, error) {
	if offset+length > f.file.Length {
		return nil, buzzerrors.IO("read [%d,%d) exceeds %d-byte file %s", offset, offset+length, f.file.Length, f.file.Key)
	}
	return f.cache.Read(ctx, offset, length)
}

// ReadAt implements io.ReaderAt so ObjectFile can be handed directly to the
// Arrow/Parquet file reader, which only knows about plain random access.
func (f *ObjectFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, buzzerrors.IO("negative offset %d", off)
	}
	if uint64(off) >= f.file.Length {
		return 0, io.EOF
	}
	want := uint64(len(p))
	avail := f.file.Length - uint64(off)
	truncated := want > avail
	if truncated {
		want = avail
	}
	data, err := f.cache.Read(context.Background(), uint64(off), want)
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if truncated {
		return n, io.EOF
	}
	return n, nil
}

// Seek implements io.Seeker, completing parquet.ReaderAtSeeker. It only
// tracks a position; ReadAt does not consult it.
func (f *ObjectFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekCurrent:
		offset += f.pos
	case io.SeekEnd:
		offset += f.Size()
	}
	if offset < 0 {
		return 0, buzzerrors.IO("negative seek position %d", offset)
	}
	f.pos = offset
	return offset, nil
}
