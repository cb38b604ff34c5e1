package rpcflight

import (
	"context"
	"encoding/json"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/flight"
	"github.com/apache/arrow/go/v15/arrow/ipc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/buzzdb/buzz/buzzerrors"
	"github.com/buzzdb/buzz/common"
	"github.com/buzzdb/buzz/planplumbing"
)

// Dial opens an insecure gRPC connection to addr, suitable for the
// loopback/private-network deployment this fabric assumes (spec.md never
// specifies transport security; TLS wiring is left to the host per §1's
// framing of process launch/CLI wiring as out of scope).
func Dial(addr common.HCombAddress) (*grpc.ClientConn, error) {
	conn, err := grpc.Dial(addr.String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, buzzerrors.IO("dialing %s: %v", addr, err)
	}
	return conn, nil
}

// CombinerClient is a thin wrapper over the Flight client stub used by
// scanners (DoPut, DoAction Fail) and the planner (DoGet).
type CombinerClient struct {
	cc flight.FlightServiceClient
}

// NewCombinerClient wraps an established gRPC connection to a combiner.
func NewCombinerClient(conn grpc.ClientConnInterface) *CombinerClient {
	return &CombinerClient{cc: flight.NewFlightServiceClient(conn)}
}

// Upload implements scanner.Uploader: it opens a DoPut stream, sends the
// query id in the first frame's descriptor cmd, then every batch (spec.md
// §6 DoPut).
func (c *CombinerClient) Upload(ctx context.Context, queryID common.QueryId, schema *arrow.Schema, batches planplumbing.BatchStream) error {
	stream, err := c.cc.DoPut(ctx)
	if err != nil {
		return buzzerrors.IO("opening DoPut: %v", err)
	}
	fw := flight.NewRecordWriter(putClientWriter{stream}, ipc.WithSchema(schema))
	fw.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.FlightDescriptor_CMD,
		Cmd:  []byte(queryID),
	})
	for {
		rec, err := batches.Next(ctx)
		if err == planplumbing.ErrStreamDone {
			break
		}
		if err != nil {
			fw.Close()
			return err
		}
		if err := fw.Write(rec); err != nil {
			return buzzerrors.IO("DoPut write: %v", err)
		}
	}
	if err := fw.Close(); err != nil {
		return buzzerrors.IO("DoPut close: %v", err)
	}
	if _, err := stream.CloseAndRecv(); err != nil {
		return buzzerrors.IO("DoPut close-and-recv: %v", err)
	}
	return nil
}

// Fail implements scanner.Uploader: a fire-and-forget DoAction Fail (spec.md
// §6).
func (c *CombinerClient) Fail(ctx context.Context, queryID common.QueryId, reason string) error {
	body, err := json.Marshal(FailBody{QueryID: queryID, Reason: reason})
	if err != nil {
		return buzzerrors.Internal("marshaling FailBody: %v", err)
	}
	stream, err := c.cc.DoAction(ctx, &flight.Action{Type: string(ActionFail), Body: body})
	if err != nil {
		return buzzerrors.IO("DoAction Fail: %v", err)
	}
	for {
		if _, err := stream.Recv(); err != nil {
			break
		}
	}
	return nil
}

// DoGet opens a DoGet stream against the combiner for ticket and adapts it
// to a BatchStream (planner-side consumption, spec.md §6).
func (c *CombinerClient) DoGet(ctx context.Context, node HCombScanNode) (planplumbing.BatchStream, error) {
	wire, err := EncodeTicket(node)
	if err != nil {
		return nil, err
	}
	stream, err := c.cc.DoGet(ctx, &flight.Ticket{Ticket: wire})
	if err != nil {
		return nil, buzzerrors.IO("DoGet: %v", err)
	}
	return NewRecordStreamReader(stream)
}

// FailedUploader stands in for a scanner.Uploader when dialing a combiner
// failed before any query was even known: both methods just return the
// dial error, so a caller can always construct an Uploader from a (client,
// error) dial result without a nil check at every call site. Defined here
// rather than in scanner to avoid an import cycle (scanner already depends
// on rpcflight); Go's structural interfaces make the dependency direction
// unnecessary for this to satisfy scanner.Uploader.
type FailedUploader struct{ Err error }

func (f FailedUploader) Upload(context.Context, common.QueryId, *arrow.Schema, planplumbing.BatchStream) error {
	return f.Err
}
func (f FailedUploader) Fail(context.Context, common.QueryId, string) error { return f.Err }

// putClientWriter adapts a DoPut client stream's Send method to
// flight.DataStreamWriter. The query id descriptor is set on the record
// writer in Upload, not here.
type putClientWriter struct {
	stream flight.FlightService_DoPutClient
}

func (w putClientWriter) Send(fd *flight.FlightData) error { return w.stream.Send(fd) }
