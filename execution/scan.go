// Package execution implements the scanner tier's leaf execution node:
// ColumnarScanExec (spec.md §4.3) turns a list of object files, a
// projection and a batch size into one stream of record batches per file,
// driving the Parquet reader — which is not safe to call concurrently from
// the async scheduler — on a dedicated worker goroutine per partition.
package execution

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/apache/arrow/go/v15/parquet"
	"github.com/apache/arrow/go/v15/parquet/file"
	"github.com/apache/arrow/go/v15/parquet/metadata"
	"github.com/apache/arrow/go/v15/parquet/pqarrow"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/buzzdb/buzz/buzzerrors"
	"github.com/buzzdb/buzz/common"
	"github.com/buzzdb/buzz/log"
	"github.com/buzzdb/buzz/planplumbing"
	"github.com/buzzdb/buzz/rangecache"
)

// footerPrefetchBytes is the clamp spec.md §4.3 and the Rust original's
// download_footer both specify: the last 1 MiB of the file, or the whole
// file if it is shorter.
const footerPrefetchBytes = 1 << 20

// resultChanCapacity is the two-in-flight-batches backpressure bound spec.md
// §4.3 calls for: one batch in flight to the consumer while another is
// being decoded.
const resultChanCapacity = 2

// File is one object file this node scans.
type File struct {
	Sized common.SizedFile
	Cache *rangecache.RangeCache
}

// ColumnarScanExec is the leaf node of spec.md §4.3: one input partition per
// file, each producing record batches of at most batchSize rows, projected
// to the requested columns.
type ColumnarScanExec struct {
	files      []File
	projection []string
	colIdx     []int
	batchSize  int64
	schema     *arrow.Schema
	log        log.Logger

	footers *lru.Cache[string, *file.Reader]
}

// TryNew constructs a ColumnarScanExec over files. Construction eagerly (a)
// downloads each file's footer region, (b) opens the Parquet footer and
// verifies its fields equal schema's fields (metadata ignored), and (c)
// issues one prefetch per row group x selected column (spec.md §4.3).
func TryNew(ctx context.Context, files []File, projection []string, batchSize int64, schema *arrow.Schema) (*ColumnarScanExec, error) {
	if batchSize <= 0 {
		return nil, buzzerrors.Internal("batch size must be positive, got %d", batchSize)
	}
	colIdx, projSchema, err := resolveProjection(schema, projection)
	if err != nil {
		return nil, err
	}

	footers, err := lru.New[string, *file.Reader](len(files) + 1)
	if err != nil {
		return nil, buzzerrors.Internal("footer cache: %v", err)
	}

	e := &ColumnarScanExec{
		files:      files,
		projection: projection,
		colIdx:     colIdx,
		batchSize:  batchSize,
		schema:     projSchema,
		log:        log.New("component", "columnar_scan"),
		footers:    footers,
	}

	for _, f := range files {
		if err := e.openAndVerify(ctx, f, schema); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func resolveProjection(schema *arrow.Schema, projection []string) ([]int, *arrow.Schema, error) {
	if len(projection) == 0 {
		idx := make([]int, schema.NumFields())
		for i := range idx {
			idx[i] = i
		}
		return idx, schema, nil
	}
	fields := make([]arrow.Field, 0, len(projection))
	idx := make([]int, 0, len(projection))
	for _, name := range projection {
		i := schema.FieldIndices(name)
		if len(i) == 0 {
			return nil, nil, buzzerrors.Plan("projection references unknown column %q", name)
		}
		fields = append(fields, schema.Field(i[0]))
		idx = append(idx, i[0])
	}
	return idx, arrow.NewSchema(fields, nil), nil
}

// openAndVerify downloads f's footer, opens it, checks the field list
// against schema (names, types, nullability -- metadata ignored), and
// prefetches every row-group x selected-column byte range.
func (e *ColumnarScanExec) openAndVerify(ctx context.Context, f File, schema *arrow.Schema) error {
	size := int64(f.Sized.Length)
	footerStart := size - footerPrefetchBytes
	if footerStart < 0 {
		footerStart = 0
	}
	objFile := rangecache.NewObjectFile(f.Sized, f.Cache)
	objFile.Prefetch(uint64(footerStart), uint64(size-footerStart))
	objFile.Flush()

	rdr, err := file.NewParquetReader(objFile, file.WithReadProps(parquet.NewReaderProperties(memory.DefaultAllocator)))
	if err != nil {
		return buzzerrors.WrapExecution(fmt.Errorf("opening parquet footer for %s: %w", f.Sized.Key, err))
	}
	e.footers.Add(f.Sized.Key, rdr)

	arrowSchema, err := pqarrow.FromParquet(rdr.MetaData().Schema, nil, nil)
	if err != nil {
		return buzzerrors.WrapExecution(fmt.Errorf("deriving arrow schema for %s: %w", f.Sized.Key, err))
	}
	if err := verifyFieldsEqual(arrowSchema, schema); err != nil {
		return buzzerrors.Execution("schema mismatch in %s: %v", f.Sized.Key, err)
	}

	for rg := 0; rg < rdr.NumRowGroups(); rg++ {
		rgReader := rdr.RowGroup(rg)
		md := rgReader.MetaData()
		for _, ci := range e.colIdx {
			colChunk, err := md.ColumnChunk(ci)
			if err != nil {
				return buzzerrors.WrapExecution(err)
			}
			start, length := columnChunkRange(colChunk)
			objFile.Prefetch(start, length)
		}
	}
	objFile.Flush()
	return nil
}

// columnChunkRange returns the byte range of one column chunk within the
// file: from its first page (the dictionary page if present, else the
// first data page) through its total compressed size.
func columnChunkRange(c metadata.ColumnChunkMetaData) (uint64, uint64) {
	start := c.DataPageOffset()
	if c.HasDictionaryPage() && c.DictionaryPageOffset() > 0 && c.DictionaryPageOffset() < start {
		start = c.DictionaryPageOffset()
	}
	return uint64(start), uint64(c.TotalCompressedSize())
}

func verifyFieldsEqual(have, want *arrow.Schema) error {
	if have.NumFields() != want.NumFields() {
		return fmt.Errorf("field count: have %d, want %d", have.NumFields(), want.NumFields())
	}
	for i := 0; i < have.NumFields(); i++ {
		hf, wf := have.Field(i), want.Field(i)
		if hf.Name != wf.Name || !arrow.TypeEqual(hf.Type, wf.Type) || hf.Nullable != wf.Nullable {
			return fmt.Errorf("field %d: have %s, want %s", i, hf, wf)
		}
	}
	return nil
}

// OutputPartitioning reports one partition per input file.
func (e *ColumnarScanExec) OutputPartitioning() int { return len(e.files) }

// Schema is the (possibly projected) output schema common to every
// partition.
func (e *ColumnarScanExec) Schema() *arrow.Schema { return e.schema }

// Execute starts partition's dedicated worker goroutine and returns a
// BatchStream reading from its bounded channel. The worker is bound to one
// file because the Parquet reader is not safe to drive concurrently with
// the async scheduler (spec.md §5). Cancelling ctx makes the worker exit at
// its next send, closing the channel and orphaning any in-flight RangeCache
// downloads; a stream that is abandoned while ctx stays live leaves the
// worker blocked on that send.
func (e *ColumnarScanExec) Execute(ctx context.Context, partition int) (planplumbing.BatchStream, error) {
	if partition < 0 || partition >= len(e.files) {
		return nil, buzzerrors.Internal("partition %d out of range [0,%d)", partition, len(e.files))
	}
	f := e.files[partition]
	rdr, ok := e.footers.Get(f.Sized.Key)
	if !ok {
		return nil, buzzerrors.Internal("no footer cached for %s; TryNew must run before Execute", f.Sized.Key)
	}

	ch := make(chan workerMsg, resultChanCapacity)
	w := &worker{
		ctx:       ctx,
		reader:    rdr,
		schema:    e.schema,
		colIdx:    e.colIdx,
		batchSize: e.batchSize,
		out:       ch,
		log:       e.log.With("file", f.Sized.Key, "partition", partition),
	}
	go w.run()
	return &workerStream{ch: ch}, nil
}

type workerMsg struct {
	rec arrow.Record
	err error
}

// worker decodes one file on a dedicated OS-schedulable goroutine,
// communicating back over a bounded channel (spec.md §4.3's rationale: the
// channel decouples the thread-bound reader from async pollers, and its
// capacity of 2 lets one batch be in flight to the consumer while the next
// is being produced).
type worker struct {
	ctx       context.Context
	reader    *file.Reader
	schema    *arrow.Schema
	colIdx    []int
	batchSize int64
	out       chan workerMsg
	log       log.Logger
}

func (w *worker) run() {
	defer close(w.out)

	fileReader, err := pqarrow.NewFileReader(w.reader, pqarrow.ArrowReadProperties{BatchSize: w.batchSize}, memory.DefaultAllocator)
	if err != nil {
		w.send(workerMsg{err: buzzerrors.WrapExecution(err)})
		return
	}

	rowGroups := make([]int, w.reader.NumRowGroups())
	for i := range rowGroups {
		rowGroups[i] = i
	}

	recordReader, err := fileReader.GetRecordReader(w.ctx, w.colIdx, rowGroups)
	if err != nil {
		w.send(workerMsg{err: buzzerrors.WrapExecution(err)})
		return
	}
	defer recordReader.Release()

	for {
		rec, err := recordReader.Read()
		if err != nil {
			if isEOF(err) {
				return
			}
			w.send(workerMsg{err: buzzerrors.WrapExecution(err)})
			return
		}
		rec.Retain()
		if !w.send(workerMsg{rec: rec}) {
			// The stream was abandoned (its context was cancelled) before
			// the consumer drained this batch; exit without decoding more.
			rec.Release()
			return
		}
	}
}

// send delivers msg to the bounded channel, exerting backpressure on this
// goroutine while it is full, and reports whether the worker should keep
// decoding. A cancelled context plays the role spec.md §4.3 assigns to
// "dropping the stream": the consumer is gone, so the worker stops rather
// than blocking forever on a send nobody will receive.
func (w *worker) send(msg workerMsg) bool {
	select {
	case w.out <- msg:
		return true
	case <-w.ctx.Done():
		return false
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

// workerStream adapts a worker's channel to planplumbing.BatchStream.
type workerStream struct {
	ch chan workerMsg
}

func (s *workerStream) Next(ctx context.Context) (arrow.Record, error) {
	select {
	case msg, ok := <-s.ch:
		if !ok {
			return nil, planplumbing.ErrStreamDone
		}
		if msg.err != nil {
			return nil, msg.err
		}
		return msg.rec, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
