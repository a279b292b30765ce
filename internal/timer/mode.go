package timer

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode is the direction a timer moves in. It is fixed per engine.
type Mode string

const (
	// Countdown decreases toward zero and completes there.
	Countdown Mode = "countdown"
	// Stopwatch increases without bound.
	Stopwatch Mode = "stopwatch"
)

const (
	// DefaultNamespace prefixes every persisted key.
	DefaultNamespace = "manifest_timer"
	// DefaultStoreTimeout bounds each store and sink call.
	DefaultStoreTimeout = 2 * time.Second
)

var (
	ErrInvalidMode     = errors.New("invalid timer mode")
	ErrNegativeInitial = errors.New("initial value must be a non-negative number")
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == Countdown || m == Stopwatch }

// ParseMode parses a mode name case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
	return m, nil
}

// KeyPrefix returns the prefix shared by all records of mode in namespace.
func KeyPrefix(namespace string, m Mode) string {
	return namespace + "_" + string(m) + "_"
}

// Key returns the persistence key for one timer instance:
// <namespace>_<mode>_<instanceID>.
func Key(namespace string, m Mode, instanceID string) string {
	return KeyPrefix(namespace, m) + instanceID
}
