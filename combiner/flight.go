package combiner

import (
	"encoding/json"
	"io"

	"github.com/apache/arrow/go/v15/arrow/flight"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/buzzdb/buzz/buzzerrors"
	"github.com/buzzdb/buzz/common"
	"github.com/buzzdb/buzz/log"
	"github.com/buzzdb/buzz/rpcflight"
)

// FlightServer exposes a Service over the Flight-shaped RPC surface of
// spec.md §6. Every method not implemented here (GetSchema, Handshake,
// ListFlights, GetFlightInfo, ListActions, DoExchange) falls through to
// flight.BaseFlightServer's real Unimplemented gRPC status.
type FlightServer struct {
	flight.BaseFlightServer
	svc *Service
	log log.Logger
}

// NewFlightServer wraps svc as a flight.FlightServiceServer.
func NewFlightServer(svc *Service) *FlightServer {
	return &FlightServer{svc: svc, log: log.New("component", "combiner_flight")}
}

// DoGet is planner->combiner (spec.md §6): the ticket is a serialized
// HCombScanNode. It registers (or looks up) the query, executes the merge
// plan, and streams the result as a schema frame followed by batch frames.
func (s *FlightServer) DoGet(ticket *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	node, err := rpcflight.DecodeTicket(ticket.GetTicket())
	if err != nil {
		return grpcStatus(err)
	}

	source := QuerySource{Name: node.MergeName, NbScanners: node.NbScanners}
	out, schema, err := s.svc.ExecuteQuery(stream.Context(), node.QueryID, node.SQL, source, node.Schema)
	if err != nil {
		return grpcStatus(err)
	}

	if err := rpcflight.WriteBatches(stream.Context(), schema, out, stream); err != nil {
		return grpcStatus(err)
	}
	return nil
}

// DoPut is scanner->combiner (spec.md §6): the first frame's descriptor
// carries the query id, subsequent frames carry batches.
func (s *FlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	first, err := stream.Recv()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return grpcStatus(err)
	}
	queryID, err := queryIDFromDescriptor(first)
	if err != nil {
		return grpcStatus(err)
	}

	rd, err := rpcflight.NewRecordStreamReader(&putReplay{first: first, stream: stream})
	if err != nil {
		return grpcStatus(err)
	}
	defer rd.Release()

	if err := s.svc.AddResults(stream.Context(), queryID, rd); err != nil {
		return grpcStatus(err)
	}
	return nil
}

// putReplay re-plays the already-Recv'd first FlightData frame ahead of
// the underlying stream, so the Flight IPC reader sees the same framing on
// DoPut as it does on DoGet despite DoPut needing to peek at the first
// frame's descriptor for the query id.
type putReplay struct {
	first  *flight.FlightData
	stream flight.FlightService_DoPutServer
	sent   bool
}

func (r *putReplay) Recv() (*flight.FlightData, error) {
	if !r.sent {
		r.sent = true
		return r.first, nil
	}
	return r.stream.Recv()
}

// DoAction is the scanner<->combiner control plane (spec.md §6): Fail is
// handled here, fire-and-forget; HealthCheck returns one result with body
// "ok";
// anything else is Unknown -> unimplemented, with no silent default arm.
func (s *FlightServer) DoAction(action *flight.Action, stream flight.FlightService_DoActionServer) error {
	switch rpcflight.ActionType(action.GetType()) {
	case rpcflight.ActionFail:
		var body rpcflight.FailBody
		if err := json.Unmarshal(action.GetBody(), &body); err != nil {
			return grpcStatus(buzzerrors.Plan("malformed Fail action body: %v", err))
		}
		s.svc.Fail(body.QueryID, buzzerrors.RemoteFail("%s", body.Reason))
		return nil
	case rpcflight.ActionHealthCheck:
		return stream.Send(&flight.Result{Body: []byte("ok")})
	default:
		return grpcStatus(rpcflight.ErrUnknownAction(action.GetType()))
	}
}

func queryIDFromDescriptor(fd *flight.FlightData) (common.QueryId, error) {
	desc := fd.GetFlightDescriptor()
	if desc == nil || len(desc.GetCmd()) == 0 {
		return "", buzzerrors.Plan("DoPut: first frame carries no query_id in its descriptor cmd")
	}
	return common.QueryId(desc.GetCmd()), nil
}

// grpcStatus maps a buzzerrors.Kind to the nearest gRPC status code,
// preserving the original message (spec.md §7: errors surface at the
// first awaiter, which on this tier's inbound edge is the RPC caller).
func grpcStatus(err error) error {
	if err == nil {
		return nil
	}
	switch buzzerrors.Classify(err) {
	case buzzerrors.KindPlan:
		return status.Error(codes.InvalidArgument, err.Error())
	case buzzerrors.KindIO:
		return status.Error(codes.Unavailable, err.Error())
	case buzzerrors.KindExecution, buzzerrors.KindRemoteFail:
		return status.Error(codes.Aborted, err.Error())
	case buzzerrors.KindInternal:
		return status.Error(codes.Internal, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}
