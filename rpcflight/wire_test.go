package rpcflight

import (
	"testing"

	"github.com/apache/arrow/go/v15/arrow"

	"github.com/buzzdb/buzz/common"
)

func testSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Int64},
		{Name: "b", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
}

// TestTicketRoundTrip is spec.md §8's round-trip property applied to the
// one wire payload this package hand-packs: encode, decode, and every field
// -- including the Arrow IPC-encoded schema -- must survive unchanged.
func TestTicketRoundTrip(t *testing.T) {
	want := HCombScanNode{
		QueryID:    common.QueryId("q-123"),
		NbScanners: 5,
		Schema:     testSchema(),
		SQL:        "SELECT * FROM mapper",
		MergeName:  "mapper",
	}
	wire, err := EncodeTicket(want)
	if err != nil {
		t.Fatalf("EncodeTicket: %v", err)
	}
	got, err := DecodeTicket(wire)
	if err != nil {
		t.Fatalf("DecodeTicket: %v", err)
	}
	if got.QueryID != want.QueryID {
		t.Errorf("QueryID = %q, want %q", got.QueryID, want.QueryID)
	}
	if got.NbScanners != want.NbScanners {
		t.Errorf("NbScanners = %d, want %d", got.NbScanners, want.NbScanners)
	}
	if got.SQL != want.SQL {
		t.Errorf("SQL = %q, want %q", got.SQL, want.SQL)
	}
	if got.MergeName != want.MergeName {
		t.Errorf("MergeName = %q, want %q", got.MergeName, want.MergeName)
	}
	if !got.Schema.Equal(want.Schema) {
		t.Errorf("Schema = %v, want %v", got.Schema, want.Schema)
	}
}

func TestDecodeTicketRejectsMalformedBytes(t *testing.T) {
	if _, err := DecodeTicket([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Errorf("expected malformed ticket bytes to fail to decode")
	}
}

func TestSchemaRoundTrip(t *testing.T) {
	want := testSchema()
	wire, err := EncodeSchema(want)
	if err != nil {
		t.Fatalf("EncodeSchema: %v", err)
	}
	got, err := DecodeSchema(wire)
	if err != nil {
		t.Fatalf("DecodeSchema: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("Schema = %v, want %v", got, want)
	}
}

func TestUnknownActionTypeIsRejected(t *testing.T) {
	err := ErrUnknownAction("DoExchange")
	if err == nil {
		t.Fatalf("expected error")
	}
}
