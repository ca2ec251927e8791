package serversync

import (
	"entsync/pkg/hist"
)

// Request is a delayed client action carrying the client-perceived time
// it happened at. Payload is opaque to the compensator.
type Request struct {
	ClientID    string
	TimestampMs int64
	Payload     any
}

// Context is handed to the validator alongside the request.
type Context[S any] struct {
	History         *hist.Buffer[S]
	ClientLatencyMs int64
}

type Validator[S any] func(req Request, ctx Context[S]) bool

// Applicator folds the request into the historical state it targets.
type Applicator[S any] func(base S, req Request) S

// ResimStep is the window a resimmer sees while recomputing one frame:
// the frame that used to precede it, the rewritten predecessor, and the
// frame's own old state. Resimulation must be pure with respect to
// these three inputs.
type ResimStep[S any] struct {
	OldPrev hist.Entry[S]
	NewPrev hist.Entry[S]
	OldCur  hist.Entry[S]
}

type Resimmer[S any] func(step ResimStep[S]) S

// Compensator rewrites a bounded stretch of history so a client action
// counts as if it happened at the client's perceived time.
type Compensator[S any] struct {
	history  *hist.Buffer[S]
	validate Validator[S]
	apply    Applicator[S]
	resim    Resimmer[S]
	latency  func(clientID string) int64
}

func NewCompensator[S any](
	history *hist.Buffer[S],
	validate Validator[S],
	apply Applicator[S],
	resim Resimmer[S],
) *Compensator[S] {
	return &Compensator[S]{
		history:  history,
		validate: validate,
		apply:    apply,
		resim:    resim,
	}
}

// SetLatencyLookup installs the per-client latency source consulted by
// the validator context. Without one, latency reads as zero.
func (c *Compensator[S]) SetLatencyLookup(fn func(clientID string) int64) {
	c.latency = fn
}

// Process locates the history at the request's timestamp, validates,
// applies, and resimulates forward. It reports false — leaving history
// untouched — when the timestamp falls outside the retained window or
// the validator rejects the request. The frame count and every
// timestamp survive a successful rewrite unchanged.
func (c *Compensator[S]) Process(req Request) (bool, error) {
	var frames []hist.Entry[S]
	for e := range c.history.Slice(req.TimestampMs) {
		frames = append(frames, e)
	}
	if len(frames) == 0 {
		return false, nil
	}

	ctx := Context[S]{History: c.history}
	if c.latency != nil {
		ctx.ClientLatencyMs = c.latency(req.ClientID)
	}
	if c.validate != nil && !c.validate(req, ctx) {
		return false, nil
	}

	rewritten := make([]S, len(frames))
	rewritten[0] = c.apply(frames[0].State, req)
	for i := 1; i < len(frames); i++ {
		rewritten[i] = c.resim(ResimStep[S]{
			OldPrev: frames[i-1],
			NewPrev: hist.Entry[S]{TimestampMs: frames[i-1].TimestampMs, State: rewritten[i-1]},
			OldCur:  frames[i],
		})
	}

	for i, e := range frames {
		if err := c.history.Rewrite(e.TimestampMs, rewritten[i]); err != nil {
			return false, err
		}
	}
	return true, nil
}
