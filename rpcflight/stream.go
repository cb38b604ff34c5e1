package rpcflight

import (
	"context"
	"io"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/flight"
	"github.com/apache/arrow/go/v15/arrow/ipc"

	"github.com/buzzdb/buzz/buzzerrors"
	"github.com/buzzdb/buzz/planplumbing"
)

// WriteBatches drains every batch from s over a Flight data-stream writer,
// framed per the standard Flight IPC encoding (a schema frame followed by
// batch frames, spec.md §6). Used by the combiner's DoGet response; the
// scanner's DoPut upload (Client.Upload) builds its own record writer.
func WriteBatches(ctx context.Context, schema *arrow.Schema, s planplumbing.BatchStream, w flight.DataStreamWriter) error {
	fw := flight.NewRecordWriter(w, ipc.WithSchema(schema))
	defer fw.Close()
	for {
		rec, err := s.Next(ctx)
		if err == io.EOF || err == planplumbing.ErrStreamDone {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fw.Write(rec); err != nil {
			return buzzerrors.WrapIO(err)
		}
	}
}

// RecordStreamReader adapts a Flight data-stream reader to
// planplumbing.BatchStream, so inbound DoGet/DoPut frames can be pulled by
// a merge plan exactly like any other node's output.
type RecordStreamReader struct {
	fr *flight.Reader
}

// NewRecordStreamReader wraps r (a DoGet or DoPut server/client stream) as a
// BatchStream.
func NewRecordStreamReader(r flight.DataStreamReader) (*RecordStreamReader, error) {
	fr, err := flight.NewRecordReader(r)
	if err != nil {
		return nil, buzzerrors.WrapIO(err)
	}
	return &RecordStreamReader{fr: fr}, nil
}

// Schema returns the schema carried by the stream's leading frame.
func (r *RecordStreamReader) Schema() *arrow.Schema { return r.fr.Schema() }

func (r *RecordStreamReader) Next(ctx context.Context) (arrow.Record, error) {
	if !r.fr.Next() {
		if err := r.fr.Err(); err != nil && err != io.EOF {
			return nil, buzzerrors.WrapIO(err)
		}
		return nil, planplumbing.ErrStreamDone
	}
	rec := r.fr.Record()
	rec.Retain()
	return rec, nil
}

// Release frees the underlying Flight reader's resources.
func (r *RecordStreamReader) Release() { r.fr.Release() }
