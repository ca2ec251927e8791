package wire

import (
	"errors"
	"reflect"
	"testing"

	"entsync/pkg/entity"
	"entsync/pkg/proto"
)

func sampleInputs() []proto.InputMessage {
	return []proto.InputMessage{
		{EntityID: "p1", Input: entity.Input{"dx": 1.5}, Seq: 3},
		{EntityID: "p2", Input: entity.Input{"dx": -2.0, "jump": 1.0}, Seq: 3},
	}
}

func sampleStates() []proto.StateMessage {
	return []proto.StateMessage{
		{
			Entity: proto.EntityView{
				ID:    "p1",
				State: entity.State{"pos": entity.State{"x": 4.0, "y": 8.0}, "hp": 100.0},
				Local: true,
			},
			LastProcessedSeq: 7,
			TimestampMs:      1234,
		},
		{
			Entity: proto.EntityView{
				ID:    "r1",
				State: entity.State{"pos": entity.State{"x": 0.0, "y": 0.0}, "hp": 40.0},
			},
			TimestampMs: 1234,
		},
	}
}

// TestInputBatchRoundTrip tests encode/decode of an input batch.
func TestInputBatchRoundTrip(t *testing.T) {
	c, err := NewCodec()
	if err != nil {
		t.Fatal(err)
	}

	data, err := c.EncodeInputBatch(sampleInputs())
	if err != nil {
		t.Fatal(err)
	}
	frame, err := c.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if frame.Kind != proto.KindInput {
		t.Fatalf("Expected input frame, got %v", frame.Kind)
	}
	if len(frame.Inputs) != 2 {
		t.Fatalf("Expected 2 inputs, got %d", len(frame.Inputs))
	}
	if frame.Inputs[0].Seq != 3 || string(frame.Inputs[0].EntityID) != "p1" {
		t.Errorf("First input mangled: %+v", frame.Inputs[0])
	}
	if dx := frame.Inputs[0].Input["dx"]; dx != 1.5 {
		t.Errorf("Expected dx 1.5, got %v", dx)
	}
}

// TestStateBatchRoundTrip tests that nested state trees survive the
// envelope, including the tree node types the interpolator walks.
func TestStateBatchRoundTrip(t *testing.T) {
	c, err := NewCodec()
	if err != nil {
		t.Fatal(err)
	}

	data, err := c.EncodeStateBatch(sampleStates())
	if err != nil {
		t.Fatal(err)
	}
	frame, err := c.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if frame.Kind != proto.KindState {
		t.Fatalf("Expected state frame, got %v", frame.Kind)
	}
	if len(frame.States) != 2 {
		t.Fatalf("Expected 2 states, got %d", len(frame.States))
	}

	got := frame.States[0]
	if got.Entity.ID != "p1" || !got.Entity.Local || got.LastProcessedSeq != 7 || got.TimestampMs != 1234 {
		t.Errorf("State header mangled: %+v", got)
	}
	if !reflect.DeepEqual(got.Entity.State, sampleStates()[0].Entity.State) {
		t.Errorf("Expected state %v, got %v", sampleStates()[0].Entity.State, got.Entity.State)
	}

	// Decoded trees must interpolate like locally built ones.
	if _, err := entity.Lerp(got.Entity.State, frame.States[1].Entity.State, 0.5); err != nil {
		t.Errorf("Decoded states failed to interpolate: %v", err)
	}
}

// TestCompressedStateBatch tests the zstd path end to end.
func TestCompressedStateBatch(t *testing.T) {
	c, err := NewCodec(WithCompression(1))
	if err != nil {
		t.Fatal(err)
	}

	data, err := c.EncodeStateBatch(sampleStates())
	if err != nil {
		t.Fatal(err)
	}
	if data[1]&flagCompressed == 0 {
		t.Fatal("Expected the compressed flag to be set")
	}

	frame, err := c.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(frame.States[0].Entity.State, sampleStates()[0].Entity.State) {
		t.Errorf("Compressed round trip mangled the state: %v", frame.States[0].Entity.State)
	}

	// A codec without compression cannot read it.
	plain, err := NewCodec()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := plain.Decode(data); err == nil {
		t.Error("Expected decode failure without a decompressor")
	}
}

// TestDecodeRejectsGarbage tests the malformed-frame errors.
func TestDecodeRejectsGarbage(t *testing.T) {
	c, err := NewCodec()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Decode([]byte{frameInputBatch}); !errors.Is(err, ErrShortFrame) {
		t.Errorf("Expected ErrShortFrame, got %v", err)
	}
	if _, err := c.Decode([]byte{0x7f, 0, 'x'}); !errors.Is(err, ErrUnknownFrame) {
		t.Errorf("Expected ErrUnknownFrame, got %v", err)
	}
}
