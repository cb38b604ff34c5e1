// Package rpcflight is the Flight-shaped RPC surface of spec.md §6: a
// narrow contract between the planner, scanner and combiner tiers built on
// Arrow Flight (github.com/apache/arrow/go/v15/arrow/flight, itself a gRPC
// service). DoGet, DoPut and DoAction are implemented; GetSchema, Handshake,
// ListFlights, GetFlightInfo, ListActions and DoExchange are not — the
// FlightServiceServers built on this package (combiner.FlightServer and
// scanner.FlightServer) embed flight.BaseFlightServer so those arms return
// a real Unimplemented gRPC status rather than panicking.
package rpcflight

import (
	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/ipc"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/buzzdb/buzz/buzzerrors"
	"github.com/buzzdb/buzz/common"
)

// HCombScanNode is the planner->combiner DoGet ticket payload of spec.md
// §6: a query id, the number of scanners expected to feed it, the schema
// of the rows it will receive, and the merge SQL to run against them.
type HCombScanNode struct {
	QueryID    common.QueryId
	NbScanners int
	Schema     *arrow.Schema
	SQL        string
	MergeName  string
}

// EncodeTicket serializes n as a protobuf message (field 1 query_id string,
// field 2 nb_scanners varint, field 3 schema bytes (Arrow IPC schema
// encoding), field 4 sql string, field 5 merge_name string). Hand-packed via
// protowire rather than protoc-generated code: this environment never runs
// the Go toolchain, so no .proto can be compiled here, but the bytes on the
// wire are genuine protobuf (see DESIGN.md).
func EncodeTicket(n HCombScanNode) ([]byte, error) {
	schemaBytes, err := ipc.SerializeSchema(n.Schema, nil)
	if err != nil {
		return nil, buzzerrors.Internal("serializing ticket schema: %v", err)
	}
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, string(n.QueryID))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(n.NbScanners))
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, schemaBytes)
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, n.SQL)
	b = protowire.AppendTag(b, 5, protowire.BytesType)
	b = protowire.AppendString(b, n.MergeName)
	return b, nil
}

// DecodeTicket parses a wire payload produced by EncodeTicket.
func DecodeTicket(data []byte) (HCombScanNode, error) {
	var n HCombScanNode
	var schemaBytes []byte
	for len(data) > 0 {
		num, typ, nn := protowire.ConsumeTag(data)
		if nn < 0 {
			return n, buzzerrors.Plan("malformed ticket: bad tag")
		}
		data = data[nn:]
		switch num {
		case 1:
			v, nn := protowire.ConsumeString(data)
			if nn < 0 {
				return n, buzzerrors.Plan("malformed ticket: bad query_id")
			}
			n.QueryID = common.QueryId(v)
			data = data[nn:]
		case 2:
			v, nn := protowire.ConsumeVarint(data)
			if nn < 0 {
				return n, buzzerrors.Plan("malformed ticket: bad nb_scanners")
			}
			n.NbScanners = int(v)
			data = data[nn:]
		case 3:
			v, nn := protowire.ConsumeBytes(data)
			if nn < 0 {
				return n, buzzerrors.Plan("malformed ticket: bad schema")
			}
			schemaBytes = v
			data = data[nn:]
		case 4:
			v, nn := protowire.ConsumeString(data)
			if nn < 0 {
				return n, buzzerrors.Plan("malformed ticket: bad sql")
			}
			n.SQL = v
			data = data[nn:]
		case 5:
			v, nn := protowire.ConsumeString(data)
			if nn < 0 {
				return n, buzzerrors.Plan("malformed ticket: bad merge_name")
			}
			n.MergeName = v
			data = data[nn:]
		default:
			nn := protowire.ConsumeFieldValue(num, typ, data)
			if nn < 0 {
				return n, buzzerrors.Plan("malformed ticket: unknown field %d", num)
			}
			data = data[nn:]
		}
	}
	schema, err := ipc.DeserializeSchema(schemaBytes, nil)
	if err != nil {
		return n, buzzerrors.Plan("deserializing ticket schema: %v", err)
	}
	n.Schema = schema
	return n, nil
}

// ActionType names a DoAction control-plane message (spec.md §6).
type ActionType string

const (
	// ActionFail is scanner->combiner, fire-and-forget: the scanner failed
	// before ever opening a DoPut, so no further batches are coming for
	// this query from it.
	ActionFail ActionType = "Fail"
	// ActionHealthCheck carries an empty body; any tier may probe any
	// other with it.
	ActionHealthCheck ActionType = "HealthCheck"
	// ActionExecuteQuery is planner->scanner: spec.md §6 defines no
	// transport for dispatching a scan to a scanner, only the
	// scanner<->combiner and planner->combiner legs. Rather than invent a
	// new RPC method, this repository reuses the same DoAction
	// control-plane shape component 7 of SPEC_FULL.md §2 calls "the narrow
	// contract between the three tiers" for this leg too (see DESIGN.md).
	ActionExecuteQuery ActionType = "ExecuteQuery"
)

// FailBody is the JSON body of an ActionFail action (spec.md §6: "Action
// types: Fail{query_id, reason} (JSON body)").
type FailBody struct {
	QueryID common.QueryId `json:"query_id"`
	Reason  string         `json:"reason"`
}

// ExecuteQueryBody is the JSON body of an ActionExecuteQuery action: enough
// for a scanner to re-derive its own per-file plan deterministically (see
// planner.ScanDispatch's doc comment) and know where to upload results.
type ExecuteQueryBody struct {
	QueryID     common.QueryId      `json:"query_id"`
	ScanSQL     string              `json:"scan_sql"`
	TableName   string              `json:"table_name"`
	SchemaBytes []byte              `json:"schema"`
	Files       []common.SizedFile  `json:"files"`
	Combiner    common.HCombAddress `json:"combiner"`
	BatchSize   int64               `json:"batch_size"`
}

// EncodeSchema serializes an Arrow schema for embedding in a JSON action
// body (Arrow IPC schema encoding, the same format EncodeTicket uses for
// HCombScanNode.Schema).
func EncodeSchema(schema *arrow.Schema) ([]byte, error) {
	b, err := ipc.SerializeSchema(schema, nil)
	if err != nil {
		return nil, buzzerrors.Internal("serializing schema: %v", err)
	}
	return b, nil
}

// DecodeSchema is the inverse of EncodeSchema.
func DecodeSchema(b []byte) (*arrow.Schema, error) {
	schema, err := ipc.DeserializeSchema(b, nil)
	if err != nil {
		return nil, buzzerrors.Plan("deserializing schema: %v", err)
	}
	return schema, nil
}

// ErrUnknownAction is classified Plan: an ActionType outside the three
// known to this package.
func ErrUnknownAction(t string) error {
	return buzzerrors.Plan("DoAction: unimplemented action type %q", t)
}

func (t ActionType) String() string { return string(t) }
