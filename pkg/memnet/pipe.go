package memnet

import (
	"iter"

	"entsync/pkg/clock"
)

type queued[M any] struct {
	readyAtMs int64
	msgs      []M
	delivered func()
}

// pipe is one direction of a client/server buffer pair: a FIFO of
// batches, each gated by the ready time captured when it was sent.
type pipe[M any] struct {
	clk     clock.Clock
	lagMs   int64
	batches []queued[M]
}

func newPipe[M any](clk clock.Clock) *pipe[M] {
	return &pipe[M]{clk: clk}
}

func (p *pipe[M]) setLag(ms int64) {
	p.lagMs = ms
}

func (p *pipe[M]) push(msgs []M, delivered func()) {
	p.batches = append(p.batches, queued[M]{
		readyAtMs: p.clk.NowMs() + p.lagMs,
		msgs:      msgs,
		delivered: delivered,
	})
}

// drainReady removes and returns the messages of every batch whose
// ready time has passed. A batch that is not ready yet stops the scan,
// so later batches can never overtake it even if their lag was lower.
func (p *pipe[M]) drainReady() []M {
	now := p.clk.NowMs()

	n := 0
	for n < len(p.batches) && p.batches[n].readyAtMs <= now {
		n++
	}
	if n == 0 {
		return nil
	}

	var out []M
	for _, b := range p.batches[:n] {
		out = append(out, b.msgs...)
		if b.delivered != nil {
			b.delivered()
		}
	}
	p.batches = append(p.batches[:0], p.batches[n:]...)
	return out
}

func (p *pipe[M]) pending() int {
	return len(p.batches)
}

func seqOf[M any](msgs []M) iter.Seq[M] {
	return func(yield func(M) bool) {
		for _, m := range msgs {
			if !yield(m) {
				return
			}
		}
	}
}
