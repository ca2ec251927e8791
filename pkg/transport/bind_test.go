package transport

import (
	"context"
	"testing"
	"time"

	"entsync/pkg/entity"
	"entsync/pkg/proto"
	"entsync/pkg/transport/wire"
)

// fakeServer is an in-process transport.Server for exercising the
// binding without sockets.
type fakeServer struct {
	messages    chan Message
	connections chan string
	disconnects chan string
	errors      chan error

	sent map[string][][]byte
	rel  map[string][]bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		messages:    make(chan Message, 16),
		connections: make(chan string, 16),
		disconnects: make(chan string, 16),
		errors:      make(chan error, 16),
		sent:        make(map[string][][]byte),
		rel:         make(map[string][]bool),
	}
}

func (f *fakeServer) Start(context.Context) error { return nil }
func (f *fakeServer) Close() error { return nil }

func (f *fakeServer) Send(clientID string, data []byte, reliable bool) error {
	f.sent[clientID] = append(f.sent[clientID], data)
	f.rel[clientID] = append(f.rel[clientID], reliable)
	return nil
}

func (f *fakeServer) CloseClient(string, int, string) error { return nil }
func (f *fakeServer) ClientIDs() []string { return nil }
func (f *fakeServer) Messages() <-chan Message { return f.messages }
func (f *fakeServer) Connections() <-chan string { return f.connections }
func (f *fakeServer) Disconnections() <-chan string { return f.disconnects }
func (f *fakeServer) Errors() <-chan error { return f.errors }
func (f *fakeServer) SetIDGenerator(IDGenerator) {}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// TestServerBindingQueuesInputs tests that decoded input frames land in
// per-client queues in arrival order.
func TestServerBindingQueuesInputs(t *testing.T) {
	codec, err := wire.NewCodec()
	if err != nil {
		t.Fatal(err)
	}
	fake := newFakeServer()
	b := BindServer(fake, codec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	fake.connections <- "c1"

	batch, err := codec.EncodeInputBatch([]proto.InputMessage{
		{EntityID: "p1", Input: entity.Input{"dx": 1.0}, Seq: 1},
		{EntityID: "p1", Input: entity.Input{"dx": 2.0}, Seq: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	fake.messages <- Message{ClientID: "c1", Data: batch}

	waitFor(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.queues["c1"]) == 2
	})

	ids := b.ClientIDs()
	if len(ids) != 1 || ids[0] != "c1" {
		t.Fatalf("Expected [c1], got %v", ids)
	}

	var got []proto.InputMessage
	for m := range b.Drain("c1") {
		got = append(got, m)
	}
	if len(got) != 2 || got[0].Seq != 1 || got[1].Seq != 2 {
		t.Errorf("Expected seqs [1 2], got %+v", got)
	}

	// Undecodable and wrong-kind frames are dropped.
	fake.messages <- Message{ClientID: "c1", Data: []byte{0xff}}
	stateBatch, _ := codec.EncodeStateBatch([]proto.StateMessage{{Entity: proto.EntityView{ID: "e"}}})
	fake.messages <- Message{ClientID: "c1", Data: stateBatch}
	time.Sleep(20 * time.Millisecond)
	for range b.Drain("c1") {
		t.Error("Expected dropped frames not to surface")
	}
}

// TestServerBindingBroadcast tests the encode-and-send path.
func TestServerBindingBroadcast(t *testing.T) {
	codec, err := wire.NewCodec()
	if err != nil {
		t.Fatal(err)
	}
	fake := newFakeServer()
	b := BindServer(fake, codec, nil)

	err = b.Broadcast(map[string][]proto.StateMessage{
		"c1": {{Entity: proto.EntityView{ID: "e1", State: entity.State{"x": 1.0}}}},
		"c2": nil,
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(fake.sent["c1"]) != 1 {
		t.Fatalf("Expected one frame for c1, got %d", len(fake.sent["c1"]))
	}
	if len(fake.sent["c2"]) != 0 {
		t.Error("Expected nothing for c2")
	}
	if !fake.rel["c1"][0] {
		t.Error("Expected the default state path to be reliable")
	}

	frame, err := codec.Decode(fake.sent["c1"][0])
	if err != nil {
		t.Fatal(err)
	}
	if len(frame.States) != 1 || frame.States[0].Entity.ID != "e1" {
		t.Errorf("Broadcast frame mangled: %+v", frame)
	}
}

// TestServerBindingUnreliableStates tests that flat states take the
// compact unreliable path.
func TestServerBindingUnreliableStates(t *testing.T) {
	codec, err := wire.NewCodec()
	if err != nil {
		t.Fatal(err)
	}
	fake := newFakeServer()
	b := BindServer(fake, codec, nil, WithUnreliableStates())

	err = b.Broadcast(map[string][]proto.StateMessage{
		"c1": {{Entity: proto.EntityView{ID: "e1", State: entity.State{"x": 1.0, "y": 2.0}}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(fake.sent["c1"]) != 1 {
		t.Fatalf("Expected one frame, got %d", len(fake.sent["c1"]))
	}
	if fake.rel["c1"][0] {
		t.Error("Expected the unreliable path")
	}
}
