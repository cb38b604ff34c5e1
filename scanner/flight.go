package scanner

import (
	"context"
	"encoding/json"

	"github.com/apache/arrow/go/v15/arrow/flight"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/buzzdb/buzz/buzzerrors"
	"github.com/buzzdb/buzz/common"
	"github.com/buzzdb/buzz/log"
	"github.com/buzzdb/buzz/planplumbing"
	"github.com/buzzdb/buzz/rpcflight"
)

// FlightServer exposes a Service's DoAction control plane. DoGet and DoPut
// are not implemented here: spec.md §6 defines those only for the
// combiner, and a scanner never receives either.
type FlightServer struct {
	flight.BaseFlightServer
	svc              *Service
	dial             func(common.HCombAddress) (Uploader, error)
	defaultBatchSize int64
	log              log.Logger
}

// NewFlightServer wraps svc as a flight.FlightServiceServer. dial builds a
// fresh Uploader for a zone's combiner address; production wiring passes a
// closure over rpcflight.Dial + rpcflight.NewCombinerClient. defaultBatchSize
// is used when an ExecuteQuery action arrives with no batch size set (e.g. a
// planner built against an older wire contract); <= 0 falls back to
// query()'s own 2048 default.
func NewFlightServer(svc *Service, dial func(common.HCombAddress) (Uploader, error), defaultBatchSize int64) *FlightServer {
	return &FlightServer{svc: svc, dial: dial, defaultBatchSize: defaultBatchSize, log: log.New("component", "scanner_flight")}
}

// DoAction handles ExecuteQuery (planner->scanner, see rpcflight.ActionType
// doc) and HealthCheck; anything else is Unknown -> unimplemented.
func (s *FlightServer) DoAction(action *flight.Action, stream flight.FlightService_DoActionServer) error {
	switch rpcflight.ActionType(action.GetType()) {
	case rpcflight.ActionExecuteQuery:
		var body rpcflight.ExecuteQueryBody
		if err := json.Unmarshal(action.GetBody(), &body); err != nil {
			return grpcStatus(buzzerrors.Plan("malformed ExecuteQuery action body: %v", err))
		}
		// Fire-and-forget, symmetric with Fail (spec.md §6): the planner
		// does not block on query execution, it learns the outcome
		// indirectly via the combiner's DoGet stream either completing or
		// surfacing RemoteFail.
		go s.runQuery(context.WithoutCancel(stream.Context()), body)
		return nil
	case rpcflight.ActionHealthCheck:
		return stream.Send(&flight.Result{Body: []byte("ok")})
	default:
		return grpcStatus(rpcflight.ErrUnknownAction(action.GetType()))
	}
}

func (s *FlightServer) runQuery(ctx context.Context, body rpcflight.ExecuteQueryBody) {
	schema, err := rpcflight.DecodeSchema(body.SchemaBytes)
	if err != nil {
		s.log.Error("ExecuteQuery carried an undecodable schema", "query_id", body.QueryID, "err", err)
		return
	}
	table := planplumbing.NewScanTable(body.TableName, schema, body.Files)

	batchSize := body.BatchSize
	if batchSize <= 0 {
		batchSize = s.defaultBatchSize
	}

	up, err := s.dial(body.Combiner)
	if err != nil {
		s.log.Error("dialing combiner failed before any RangeCache work started; nothing to FAIL", "query_id", body.QueryID, "combiner", body.Combiner, "err", err)
		return
	}

	svc := &Service{
		store:     s.svc.store,
		bucket:    s.svc.bucket,
		uploaders: func(common.HCombAddress) Uploader { return up },
		log:       s.svc.log,
		metrics:   s.svc.metrics,
	}
	req := Request{
		QueryID:   body.QueryID,
		ScanSQL:   body.ScanSQL,
		Table:     table,
		Combiner:  body.Combiner,
		BatchSize: batchSize,
	}
	if _, err := svc.ExecuteQuery(ctx, req); err != nil {
		s.log.Error("execute_query failed outside the FAIL path", "query_id", body.QueryID, "err", err)
	}
}

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
