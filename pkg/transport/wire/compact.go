package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	bufti "github.com/QYUbit/Bufti/go"

	"entsync/pkg/entity"
	"entsync/pkg/proto"
)

// Compact frames cover the unreliable fast path: flat positional states
// encoded with a fixed Bufti model instead of the JSON envelope. Only
// states of the shape {x, y} qualify; EncodeCompactStateBatch reports
// ErrNotCompact for anything else and the caller falls back to the
// JSON state frame.

var ErrNotCompact = errors.New("wire: state does not fit the compact model")

var compactStateModel = bufti.NewModel("state_update",
	bufti.NewField(0, "entity", bufti.StringType),
	bufti.NewField(1, "pos_x", bufti.Float64Type),
	bufti.NewField(2, "pos_y", bufti.Float64Type),
	bufti.NewField(3, "local", bufti.Float64Type),
	bufti.NewField(4, "last_seq", bufti.Float64Type),
	bufti.NewField(5, "timestamp", bufti.Float64Type),
)

func (c *Codec) EncodeCompactStateBatch(msgs []proto.StateMessage) ([]byte, error) {
	out := []byte{frameCompact, 0}
	var lenBuf [binary.MaxVarintLen64]byte

	for _, m := range msgs {
		x, y, ok := flatPosition(m.Entity.State)
		if !ok {
			return nil, ErrNotCompact
		}
		local := 0.0
		if m.Entity.Local {
			local = 1
		}
		record, err := compactStateModel.Encode(map[string]any{
			"entity":    string(m.Entity.ID),
			"pos_x":     x,
			"pos_y":     y,
			"local":     local,
			"last_seq":  float64(m.LastProcessedSeq),
			"timestamp": float64(m.TimestampMs),
		})
		if err != nil {
			return nil, err
		}
		n := binary.PutUvarint(lenBuf[:], uint64(len(record)))
		out = append(out, lenBuf[:n]...)
		out = append(out, record...)
	}
	return out, nil
}

func decodeCompactBatch(payload []byte) (Frame, error) {
	f := Frame{Kind: proto.KindState}
	for len(payload) > 0 {
		recordLen, n := binary.Uvarint(payload)
		if n <= 0 || uint64(len(payload)-n) < recordLen {
			return Frame{}, ErrShortFrame
		}
		record := payload[n : n+int(recordLen)]
		payload = payload[n+int(recordLen):]

		fields, err := compactStateModel.Decode(record)
		if err != nil {
			return Frame{}, err
		}
		msg, err := compactToState(fields)
		if err != nil {
			return Frame{}, err
		}
		f.States = append(f.States, msg)
	}
	return f, nil
}

func compactToState(fields map[string]any) (proto.StateMessage, error) {
	id, ok := fields["entity"].(string)
	if !ok {
		return proto.StateMessage{}, fmt.Errorf("wire: compact record missing entity id")
	}
	x, _ := fields["pos_x"].(float64)
	y, _ := fields["pos_y"].(float64)
	local, _ := fields["local"].(float64)
	lastSeq, _ := fields["last_seq"].(float64)
	ts, _ := fields["timestamp"].(float64)

	return proto.StateMessage{
		Entity: proto.EntityView{
			ID:    entity.ID(id),
			State: entity.State{"x": x, "y": y},
			Local: local != 0,
		},
		LastProcessedSeq: uint64(lastSeq),
		TimestampMs:      int64(ts),
	}, nil
}

func flatPosition(s entity.State) (x, y float64, ok bool) {
	if len(s) != 2 {
		return 0, 0, false
	}
	xv, okX := s["x"].(float64)
	yv, okY := s["y"].(float64)
	if !okX || !okY {
		return 0, 0, false
	}
	return xv, yv, true
}
