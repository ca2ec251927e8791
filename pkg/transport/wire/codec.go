// Package wire encodes input and state batches for real transports.
// Frames are self-describing: a type byte, a flags byte, then the
// payload. Arbitrary state trees ride a JSON envelope keyed by the
// message kind; state batches above a threshold are zstd-compressed.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"entsync/pkg/entity"
	"entsync/pkg/proto"
)

const (
	frameInputBatch byte = 0x01
	frameStateBatch byte = 0x02
	frameCompact    byte = 0x03

	flagCompressed byte = 0x01
)

var (
	ErrShortFrame   = errors.New("wire: frame too short")
	ErrUnknownFrame = errors.New("wire: unknown frame type")
)

// Frame is one decoded transport payload. Exactly one of Inputs and
// States is populated, per the kind discriminator.
type Frame struct {
	Kind   proto.Kind
	Inputs []proto.InputMessage
	States []proto.StateMessage
}

type Codec struct {
	// compressThreshold enables zstd for state batch payloads at or
	// above this many bytes; zero disables compression.
	compressThreshold int

	enc *zstd.Encoder
	dec *zstd.Decoder
}

type Option func(*Codec)

func WithCompression(thresholdBytes int) Option {
	return func(c *Codec) { c.compressThreshold = thresholdBytes }
}

func NewCodec(opts ...Option) (*Codec, error) {
	c := &Codec{}
	for _, opt := range opts {
		opt(c)
	}
	if c.compressThreshold > 0 {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		c.enc = enc
		c.dec = dec
	}
	return c, nil
}

type inputEnvelope struct {
	Kind     string         `json:"kind"`
	EntityID string         `json:"entity_id"`
	Input    map[string]any `json:"input,omitempty"`
	Seq      uint64         `json:"seq"`
}

type stateEnvelope struct {
	Kind             string         `json:"kind"`
	EntityID         string         `json:"entity_id"`
	State            map[string]any `json:"state"`
	Local            bool           `json:"local"`
	LastProcessedSeq uint64         `json:"last_processed_seq"`
	TimestampMs      int64          `json:"timestamp_ms"`
}

func (c *Codec) EncodeInputBatch(msgs []proto.InputMessage) ([]byte, error) {
	envs := make([]inputEnvelope, len(msgs))
	for i, m := range msgs {
		envs[i] = inputEnvelope{
			Kind:     m.Kind().String(),
			EntityID: string(m.EntityID),
			Input:    m.Input,
			Seq:      m.Seq,
		}
	}
	payload, err := json.Marshal(envs)
	if err != nil {
		return nil, err
	}
	return append([]byte{frameInputBatch, 0}, payload...), nil
}

func (c *Codec) EncodeStateBatch(msgs []proto.StateMessage) ([]byte, error) {
	envs := make([]stateEnvelope, len(msgs))
	for i, m := range msgs {
		envs[i] = stateEnvelope{
			Kind:             m.Kind().String(),
			EntityID:         string(m.Entity.ID),
			State:            m.Entity.State,
			Local:            m.Entity.Local,
			LastProcessedSeq: m.LastProcessedSeq,
			TimestampMs:      m.TimestampMs,
		}
	}
	payload, err := json.Marshal(envs)
	if err != nil {
		return nil, err
	}

	flags := byte(0)
	if c.enc != nil && len(payload) >= c.compressThreshold {
		payload = c.enc.EncodeAll(payload, nil)
		flags |= flagCompressed
	}
	return append([]byte{frameStateBatch, flags}, payload...), nil
}

func (c *Codec) Decode(data []byte) (Frame, error) {
	if len(data) < 2 {
		return Frame{}, ErrShortFrame
	}
	frameType, flags, payload := data[0], data[1], data[2:]

	if flags&flagCompressed != 0 {
		if c.dec == nil {
			return Frame{}, fmt.Errorf("wire: compressed frame but compression disabled")
		}
		var err error
		payload, err = c.dec.DecodeAll(payload, nil)
		if err != nil {
			return Frame{}, err
		}
	}

	switch frameType {
	case frameInputBatch:
		var envs []inputEnvelope
		if err := json.Unmarshal(payload, &envs); err != nil {
			return Frame{}, err
		}
		f := Frame{Kind: proto.KindInput, Inputs: make([]proto.InputMessage, len(envs))}
		for i, e := range envs {
			f.Inputs[i] = proto.InputMessage{
				EntityID: entity.ID(e.EntityID),
				Input:    entity.Input(e.Input),
				Seq:      e.Seq,
			}
		}
		return f, nil

	case frameStateBatch:
		var envs []stateEnvelope
		if err := json.Unmarshal(payload, &envs); err != nil {
			return Frame{}, err
		}
		f := Frame{Kind: proto.KindState, States: make([]proto.StateMessage, len(envs))}
		for i, e := range envs {
			f.States[i] = proto.StateMessage{
				Entity: proto.EntityView{
					ID:    entity.ID(e.EntityID),
					State: normalizeTree(e.State),
					Local: e.Local,
				},
				LastProcessedSeq: e.LastProcessedSeq,
				TimestampMs:      e.TimestampMs,
			}
		}
		return f, nil

	case frameCompact:
		return decodeCompactBatch(payload)
	}
	return Frame{}, ErrUnknownFrame
}

// normalizeTree rebuilds nested map[string]any nodes as entity.State so
// decoded trees walk the same way locally built ones do.
func normalizeTree(m map[string]any) entity.State {
	if m == nil {
		return nil
	}
	out := make(entity.State, len(m))
	for k, v := range m {
		if child, ok := v.(map[string]any); ok {
			out[k] = normalizeTree(child)
			continue
		}
		out[k] = v
	}
	return out
}
