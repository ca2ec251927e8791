package serversync

import (
	"testing"

	"entsync/pkg/clock"
	"entsync/pkg/entity"
	"entsync/pkg/memnet"
	"entsync/pkg/proto"
)

// counter adds its input's "n" field to state "total" and remembers the
// order inputs arrived in.
type counter struct {
	entity.Base
	applied []float64
}

func newCounter(id entity.ID) *counter {
	c := &counter{}
	c.Base = entity.NewBase(id, entity.State{"total": 0.0})
	return c
}

func (c *counter) ApplyInput(in entity.Input) {
	n, _ := in["n"].(float64)
	c.applied = append(c.applied, n)
	s := c.State()
	total, _ := s["total"].(float64)
	c.SetState(entity.State{"total": total + n})
}

func step(n float64) entity.Input {
	return entity.Input{"n": n}
}

func newServerFixture(t *testing.T) (*Server, *memnet.Network, *clock.VirtualClock) {
	t.Helper()
	clk := clock.NewVirtual(1000)
	net := memnet.New(clk)
	srv := New(Options{
		Clock:           clk,
		Network:         net,
		UpdateRateHz:    10,
		HistoryWindowMs: 10_000,
	})
	return srv, net, clk
}

// TestTickAppliesInputsInOrder tests per-client FIFO application.
func TestTickAppliesInputsInOrder(t *testing.T) {
	srv, net, _ := newServerFixture(t)
	e := newCounter("e1")
	if err := srv.AddEntity(e, "c1"); err != nil {
		t.Fatal(err)
	}

	port := net.Connect("c1")
	port.Send(proto.InputMessage{EntityID: "e1", Input: step(1), Seq: 0})
	port.Send(proto.InputMessage{EntityID: "e1", Input: step(2), Seq: 1})

	if err := srv.Tick(); err != nil {
		t.Fatal(err)
	}

	if len(e.applied) != 2 || e.applied[0] != 1 || e.applied[1] != 2 {
		t.Errorf("Expected inputs [1 2] in order, got %v", e.applied)
	}
	if total := e.State()["total"]; total != 3.0 {
		t.Errorf("Expected total 3, got %v", total)
	}
	if seq, ok := srv.LastProcessedSeq("c1", "e1"); !ok || seq != 1 {
		t.Errorf("Expected last processed seq 1, got %d (ok=%v)", seq, ok)
	}
}

// TestTickDropsUnknownEntity tests that an input for a missing entity
// is dropped while the rest of the batch still applies.
func TestTickDropsUnknownEntity(t *testing.T) {
	srv, net, _ := newServerFixture(t)
	e := newCounter("e1")
	srv.AddEntity(e, "c1")

	port := net.Connect("c1")
	port.Send(
		proto.InputMessage{EntityID: "ghost", Input: step(9), Seq: 0},
		proto.InputMessage{EntityID: "e1", Input: step(5), Seq: 0},
	)

	if err := srv.Tick(); err != nil {
		t.Fatal(err)
	}
	if total := e.State()["total"]; total != 5.0 {
		t.Errorf("Expected total 5 after dropping the unknown input, got %v", total)
	}
	if _, ok := srv.LastProcessedSeq("c1", "ghost"); ok {
		t.Error("Expected no ack entry for the dropped input")
	}
}

// TestTickSnapshotsHistory tests that every tick records a deep copy of
// the world.
func TestTickSnapshotsHistory(t *testing.T) {
	srv, net, clk := newServerFixture(t)
	e := newCounter("e1")
	srv.AddEntity(e, "c1")
	net.Connect("c1")

	if err := srv.Tick(); err != nil {
		t.Fatal(err)
	}
	clk.Advance(100)
	e.ApplyInput(step(7))
	if err := srv.Tick(); err != nil {
		t.Fatal(err)
	}

	if srv.History().Len() != 2 {
		t.Fatalf("Expected 2 history entries, got %d", srv.History().Len())
	}
	first, second := int64(0), int64(0)
	var firstState WorldState
	i := 0
	for entry := range srv.History().Slice(1000) {
		if i == 0 {
			first = entry.TimestampMs
			firstState = entry.State
		} else {
			second = entry.TimestampMs
		}
		i++
	}
	if first != 1000 || second != 1100 {
		t.Errorf("Expected snapshots at 1000 and 1100, got %d and %d", first, second)
	}
	if total := firstState["e1"]["total"]; total != 0.0 {
		t.Errorf("Expected the first snapshot to stay at 0, got %v", total)
	}
}

// TestTickNonMonotonicClock tests that a stalled clock turns into the
// fatal history error.
func TestTickNonMonotonicClock(t *testing.T) {
	srv, net, _ := newServerFixture(t)
	srv.AddEntity(newCounter("e1"), "c1")
	net.Connect("c1")

	if err := srv.Tick(); err != nil {
		t.Fatal(err)
	}
	if err := srv.Tick(); err == nil {
		t.Error("Expected an error when the clock does not advance between ticks")
	}
}

// TestBroadcastOwnership tests that Local is set exactly for the
// recipient's own entities and that every client hears about every
// entity.
func TestBroadcastOwnership(t *testing.T) {
	srv, net, clk := newServerFixture(t)
	srv.AddEntity(newCounter("e1"), "c1")
	srv.AddEntity(newCounter("e2"), "c2")
	srv.AddEntity(newCounter("npc"), "")

	p1 := net.Connect("c1")
	p2 := net.Connect("c2")

	if err := srv.Tick(); err != nil {
		t.Fatal(err)
	}
	clk.Advance(1)

	own := map[string]map[string]bool{}
	for _, tc := range []struct {
		id   string
		port *memnet.ClientPort
	}{{"c1", p1}, {"c2", p2}} {
		own[tc.id] = map[string]bool{}
		count := 0
		for msg := range tc.port.Drain() {
			own[tc.id][string(msg.Entity.ID)] = msg.Entity.Local
			if msg.TimestampMs != 1000 {
				t.Errorf("Expected snapshot timestamp 1000, got %d", msg.TimestampMs)
			}
			count++
		}
		if count != 3 {
			t.Errorf("Expected 3 state messages for %s, got %d", tc.id, count)
		}
	}

	if !own["c1"]["e1"] || own["c1"]["e2"] || own["c1"]["npc"] {
		t.Errorf("Wrong ownership flags for c1: %v", own["c1"])
	}
	if own["c2"]["e1"] || !own["c2"]["e2"] || own["c2"]["npc"] {
		t.Errorf("Wrong ownership flags for c2: %v", own["c2"])
	}
}

// TestAdvanceHook tests the server-driven simulation hook and its
// elapsed time.
func TestAdvanceHook(t *testing.T) {
	clk := clock.NewVirtual(1000)
	net := memnet.New(clk)
	var elapsed []int64
	srv := New(Options{
		Clock:           clk,
		Network:         net,
		HistoryWindowMs: 10_000,
		Advance:         func(ms int64) { elapsed = append(elapsed, ms) },
	})

	srv.Tick()
	clk.Advance(100)
	srv.Tick()
	clk.Advance(50)
	srv.Tick()

	want := []int64{0, 100, 50}
	if len(elapsed) != len(want) {
		t.Fatalf("Expected %d advance calls, got %d", len(want), len(elapsed))
	}
	for i := range want {
		if elapsed[i] != want[i] {
			t.Errorf("Expected elapsed %d at call %d, got %d", want[i], i, elapsed[i])
		}
	}
}

// TestAckPerClient tests that each client's ack covers its own inputs
// only.
func TestAckPerClient(t *testing.T) {
	srv, net, clk := newServerFixture(t)
	srv.AddEntity(newCounter("e1"), "c1")
	srv.AddEntity(newCounter("e2"), "c2")

	p1 := net.Connect("c1")
	p2 := net.Connect("c2")

	p1.Send(proto.InputMessage{EntityID: "e1", Input: step(1), Seq: 4})
	if err := srv.Tick(); err != nil {
		t.Fatal(err)
	}
	clk.Advance(1)

	for msg := range p1.Drain() {
		if msg.LastProcessedSeq != 4 {
			t.Errorf("Expected ack 4 for c1, got %d", msg.LastProcessedSeq)
		}
	}
	for msg := range p2.Drain() {
		if msg.LastProcessedSeq != 0 {
			t.Errorf("Expected ack 0 for c2, got %d", msg.LastProcessedSeq)
		}
	}
}
