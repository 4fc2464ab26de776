package stores

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/date"

	"github.com/oarkflow/rbac"
)

// parseFlexibleTime tolerates the timestamp shapes different SQL drivers hand
// back (RFC3339, SQL datetime, unix-ish strings).
func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

// scanTime normalizes a scanned timestamp column regardless of driver type.
func scanTime(raw any) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v
	case string:
		if t, err := parseFlexibleTime(v); err == nil {
			return t
		}
	case []byte:
		if t, err := parseFlexibleTime(string(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}

func scanTimePtr(raw any) *time.Time {
	t := scanTime(raw)
	if t.IsZero() {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	}
	return false
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// marshalWindow stores an access window as a JSON column; empty string means
// no window (always admitted).
func marshalWindow(w *rbac.AccessWindow) (string, error) {
	if w == nil {
		return "", nil
	}
	b, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("marshal access window: %w", err)
	}
	return string(b), nil
}

// unmarshalWindow rejects malformed column data instead of dropping the
// window: a window is a restriction, and losing one widens access.
func unmarshalWindow(s string) (*rbac.AccessWindow, error) {
	if s == "" || s == "null" {
		return nil, nil
	}
	w := &rbac.AccessWindow{}
	if err := json.Unmarshal([]byte(s), w); err != nil {
		return nil, fmt.Errorf("unmarshal access window: %w", err)
	}
	return w, nil
}
