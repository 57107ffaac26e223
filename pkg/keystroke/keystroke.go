// Package keystroke converts raw key press/release streams into fixed-length
// numeric feature vectors for typing-rhythm verification.
//
// Events carry only a key identifier, an event kind, and a millisecond
// timestamp. The extractor is a pure function: the same event sequence always
// produces the same vector.
package keystroke

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidInput reports an empty or malformed event stream. It is the
// caller's fault and is never retried internally.
var ErrInvalidInput = errors.New("keystroke: invalid input events")

// EventKind is the direction of a key transition.
type EventKind string

const (
	KeyDown EventKind = "keydown"
	KeyUp   EventKind = "keyup"
)

// Event is a single validated key transition.
type Event struct {
	Key         string    `json:"key"`
	Kind        EventKind `json:"kind"`
	TimestampMS float64   `json:"timestamp_ms"`
}

// ParseEvents validates loosely-typed event records at the boundary and
// returns typed events. Accepted field spellings follow the wire payload:
// "key", "event" (or "kind"), and "ts" (or "timestamp_ms"). Timestamps may be
// JSON numbers or numeric strings.
func ParseEvents(raw []map[string]any) ([]Event, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no events supplied", ErrInvalidInput)
	}
	events := make([]Event, 0, len(raw))
	for i, rec := range raw {
		key, _ := rec["key"].(string)
		if key == "" {
			return nil, fmt.Errorf("%w: event %d missing key", ErrInvalidInput, i)
		}
		kindVal, ok := rec["event"]
		if !ok {
			kindVal = rec["kind"]
		}
		kindStr, _ := kindVal.(string)
		kind := EventKind(kindStr)
		if kind != KeyDown && kind != KeyUp {
			return nil, fmt.Errorf("%w: event %d has unknown kind %q", ErrInvalidInput, i, kindStr)
		}
		tsVal, ok := rec["ts"]
		if !ok {
			tsVal = rec["timestamp_ms"]
		}
		ts, err := parseTimestamp(tsVal)
		if err != nil {
			return nil, fmt.Errorf("%w: event %d: %v", ErrInvalidInput, i, err)
		}
		events = append(events, Event{Key: key, Kind: kind, TimestampMS: ts})
	}
	return events, nil
}

func parseTimestamp(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("unparsable timestamp %q", t)
		}
		return f, nil
	case nil:
		return 0, errors.New("missing timestamp")
	default:
		return 0, fmt.Errorf("unparsable timestamp of type %T", v)
	}
}
