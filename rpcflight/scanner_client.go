package rpcflight

import (
	"context"
	"encoding/json"

	"github.com/apache/arrow/go/v15/arrow/flight"
	"google.golang.org/grpc"

	"github.com/buzzdb/buzz/buzzerrors"
)

// ScannerClient is the planner's outbound collaborator for dispatching one
// ScanDispatch to a scanner (spec.md §4.6 step 5): fire-and-forget, the
// scanner reports its outcome to the zone's combiner, not back to the
// planner.
type ScannerClient struct {
	cc flight.FlightServiceClient
}

// NewScannerClient wraps an established gRPC connection to a scanner.
func NewScannerClient(conn grpc.ClientConnInterface) *ScannerClient {
	return &ScannerClient{cc: flight.NewFlightServiceClient(conn)}
}

// ExecuteQuery sends an ActionExecuteQuery DoAction and returns once the
// scanner has accepted it; it does not wait for the scan itself to finish.
func (c *ScannerClient) ExecuteQuery(ctx context.Context, body ExecuteQueryBody) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return buzzerrors.Internal("marshaling ExecuteQueryBody: %v", err)
	}
	stream, err := c.cc.DoAction(ctx, &flight.Action{Type: string(ActionExecuteQuery), Body: payload})
	if err != nil {
		return buzzerrors.IO("DoAction ExecuteQuery: %v", err)
	}
	for {
		if _, err := stream.Recv(); err != nil {
			break
		}
	}
	return nil
}
