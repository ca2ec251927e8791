package entity

import (
	"errors"
	"fmt"
)

var ErrNonInterpolableField = errors.New("entity: field is not interpolable")

// Lerp walks two state trees in lockstep and blends them linearly:
// numeric leaves become a + (b-a)*ratio, nested states recurse. The
// trees must match structurally; any non-numeric, non-state leaf or a
// missing field fails with ErrNonInterpolableField wrapped with the
// field path.
func Lerp(a, b State, ratio float64) (State, error) {
	return lerpTree(a, b, ratio, "")
}

func lerpTree(a, b State, ratio float64, path string) (State, error) {
	if len(a) != len(b) {
		return nil, fieldErr(path, "field sets differ")
	}
	out := make(State, len(a))
	for key, av := range a {
		bv, ok := b[key]
		if !ok {
			return nil, fieldErr(join(path, key), "missing in second state")
		}
		merged, err := lerpValue(av, bv, ratio, join(path, key))
		if err != nil {
			return nil, err
		}
		out[key] = merged
	}
	return out, nil
}

func lerpValue(av, bv any, ratio float64, path string) (any, error) {
	an, aIsNum := toFloat(av)
	bn, bIsNum := toFloat(bv)
	if aIsNum && bIsNum {
		return an + (bn-an)*ratio, nil
	}

	at, aIsTree := toState(av)
	bt, bIsTree := toState(bv)
	if aIsTree && bIsTree {
		return lerpTree(at, bt, ratio, path)
	}

	return nil, fieldErr(path, fmt.Sprintf("unsupported leaf types %T and %T", av, bv))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toState(v any) (State, bool) {
	switch t := v.(type) {
	case State:
		return t, true
	case map[string]any:
		return State(t), true
	}
	return nil, false
}

func fieldErr(path, detail string) error {
	if path == "" {
		path = "."
	}
	return fmt.Errorf("%w: %s: %s", ErrNonInterpolableField, path, detail)
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
