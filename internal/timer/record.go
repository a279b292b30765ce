package timer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

var errMalformed = errors.New("malformed timer record")

// Record is the snapshot persisted while a timer is running or paused.
// Value is accurate as of LastSync; both timestamps are unix milliseconds.
type Record struct {
	Value     float64 `json:"value"`
	Running   bool    `json:"running"`
	Paused    bool    `json:"paused"`
	Mode      Mode    `json:"mode"`
	Initial   float64 `json:"initial"`
	LastSync  int64   `json:"last_sync"`
	UpdatedAt int64   `json:"updated_at"`
}

// LastSyncTime returns LastSync as a time.Time.
func (r Record) LastSyncTime() time.Time { return time.UnixMilli(r.LastSync) }

// Encode serializes r for the key-value store.
func (r Record) Encode() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode timer record: %w", err)
	}
	return string(b), nil
}

// wireRecord detects missing fields.
type wireRecord struct {
	Value     *float64 `json:"value"`
	Running   *bool    `json:"running"`
	Paused    *bool    `json:"paused"`
	Mode      *string  `json:"mode"`
	Initial   *float64 `json:"initial"`
	LastSync  *int64   `json:"last_sync"`
	UpdatedAt *int64   `json:"updated_at"`
}

// DecodeRecord parses a stored value and checks it belongs to a timer of
// mode want. Any failure wraps errMalformed.
func DecodeRecord(raw string, want Mode) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Record{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if w.Value == nil || w.Running == nil || w.Mode == nil || w.Initial == nil || w.LastSync == nil {
		return Record{}, fmt.Errorf("%w: missing required field", errMalformed)
	}
	r := Record{
		Value:    *w.Value,
		Running:  *w.Running,
		Mode:     Mode(*w.Mode),
		Initial:  *w.Initial,
		LastSync: *w.LastSync,
	}
	if w.Paused != nil {
		r.Paused = *w.Paused
	}
	r.UpdatedAt = r.LastSync
	if w.UpdatedAt != nil {
		r.UpdatedAt = *w.UpdatedAt
	}
	switch {
	case r.Mode != want:
		return Record{}, fmt.Errorf("%w: mode %q, want %q", errMalformed, r.Mode, want)
	case !validSeconds(r.Value) || !validSeconds(r.Initial):
		return Record{}, fmt.Errorf("%w: value %v initial %v", errMalformed, r.Value, r.Initial)
	case r.Paused && !r.Running:
		return Record{}, fmt.Errorf("%w: paused but not running", errMalformed)
	case r.LastSync <= 0:
		return Record{}, fmt.Errorf("%w: last_sync %d", errMalformed, r.LastSync)
	}
	return r, nil
}

func validSeconds(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}
