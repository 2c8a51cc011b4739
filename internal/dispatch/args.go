package dispatch

import (
	"encoding/json"
	"fmt"
	"time"
)

// Args is the ordered argument list of a task message, one JSON value each.
type Args []json.RawMessage

// NewArgs marshals values into an argument list.
func NewArgs(values ...any) (Args, error) {
	out := make(Args, 0, len(values))
	for i, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: arg %d: %v", ErrInvalidArgs, i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (a Args) Len() int { return len(a) }

// Decode unmarshals argument i into v.
func (a Args) Decode(i int, v any) error {
	if i < 0 || i >= len(a) {
		return fmt.Errorf("%w: missing arg %d (have %d)", ErrInvalidArgs, i, len(a))
	}
	if err := json.Unmarshal(a[i], v); err != nil {
		return fmt.Errorf("%w: arg %d: %v", ErrInvalidArgs, i, err)
	}
	return nil
}

func (a Args) Int64(i int) (int64, error) {
	var v int64
	err := a.Decode(i, &v)
	return v, err
}

func (a Args) String(i int) (string, error) {
	var v string
	err := a.Decode(i, &v)
	return v, err
}

// Time parses argument i as an RFC 3339 timestamp.
func (a Args) Time(i int) (time.Time, error) {
	s, err := a.String(i)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: arg %d: %v", ErrInvalidArgs, i, err)
	}
	return t, nil
}

// StringOr returns argument i, or def when the argument is absent or null.
func (a Args) StringOr(i int, def string) (string, error) {
	if i >= len(a) || string(a[i]) == "null" {
		return def, nil
	}
	return a.String(i)
}
