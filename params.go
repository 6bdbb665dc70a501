package saturn

import (
	"encoding/json"
	"fmt"
)

// Input limits enforced by parameter accessors.
const (
	// MaxPathLen caps path-valued arguments.
	MaxPathLen = 260
	// MaxInputBytes caps any single string argument.
	MaxInputBytes = 1 << 20 // 1 MiB
)

// Params provides typed access to a tool call's JSON arguments with default
// fallback, required-key enforcement, and bounds checks. Errors produced here
// are ErrValidation values; the runtime converts them into failed tool
// results rather than transport errors.
type Params map[string]any

// ParseParams decodes raw JSON arguments. Empty input yields empty params.
func ParseParams(raw json.RawMessage) (Params, error) {
	if len(raw) == 0 {
		return Params{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &ErrValidation{Reason: "arguments are not a JSON object: " + err.Error()}
	}
	if m == nil {
		m = map[string]any{}
	}
	return Params(m), nil
}

// String returns the string at key, or def when absent.
func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return def
}

// RequireString returns the string at key or an error when missing or empty.
func (p Params) RequireString(key string) (string, error) {
	v, ok := p[key].(string)
	if !ok || v == "" {
		return "", &ErrValidation{Field: key, Reason: "required string parameter missing"}
	}
	if len(v) > MaxInputBytes {
		return "", &ErrValidation{Field: key, Reason: fmt.Sprintf("exceeds %d bytes", MaxInputBytes)}
	}
	return v, nil
}

// StringMax returns the string at key, rejecting values longer than max bytes.
func (p Params) StringMax(key, def string, max int) (string, error) {
	v, ok := p[key].(string)
	if !ok {
		return def, nil
	}
	if len(v) > max {
		return "", &ErrValidation{Field: key, Reason: fmt.Sprintf("exceeds %d bytes", max)}
	}
	return v, nil
}

// Path returns the path-valued string at key, enforcing the path length cap.
func (p Params) Path(key string) (string, error) {
	v, err := p.RequireString(key)
	if err != nil {
		return "", err
	}
	if len(v) > MaxPathLen {
		return "", &ErrValidation{Field: key, Reason: fmt.Sprintf("path exceeds %d characters", MaxPathLen)}
	}
	return v, nil
}

// Int returns the integer at key, or def when absent. JSON numbers decode as
// float64; fractional values are rejected.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	f, ok := v.(float64)
	if !ok || f != float64(int(f)) {
		return 0, &ErrValidation{Field: key, Reason: "expected an integer"}
	}
	return int(f), nil
}

// IntRange returns the integer at key, enforcing min <= v <= max.
func (p Params) IntRange(key string, def, min, max int) (int, error) {
	v, err := p.Int(key, def)
	if err != nil {
		return 0, err
	}
	if v < min || v > max {
		return 0, &ErrValidation{Field: key, Reason: fmt.Sprintf("must be in [%d, %d]", min, max)}
	}
	return v, nil
}

// Float returns the float at key, or def when absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	f, ok := v.(float64)
	if !ok {
		return 0, &ErrValidation{Field: key, Reason: "expected a number"}
	}
	return f, nil
}

// Bool returns the bool at key, or def when absent.
func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// StringSlice returns the string array at key, or nil when absent.
func (p Params) StringSlice(key string) ([]string, error) {
	v, ok := p[key]
	if !ok {
		return nil, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, &ErrValidation{Field: key, Reason: "expected an array of strings"}
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		s, ok := e.(string)
		if !ok {
			return nil, &ErrValidation{Field: key, Reason: "expected an array of strings"}
		}
		out = append(out, s)
	}
	return out, nil
}
