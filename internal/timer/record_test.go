package timer

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecord(t *testing.T) {
	got, err := DecodeRecord(`{"value":12.5,"running":true,"mode":"stopwatch","initial":0,"last_sync":1700000000000}`, Stopwatch)
	require.NoError(t, err)
	want := Record{Value: 12.5, Running: true, Mode: Stopwatch, LastSync: 1700000000000, UpdatedAt: 1700000000000}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("decoded record mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRecordRejects(t *testing.T) {
	cases := map[string]string{
		"not json":         `nope`,
		"missing running":  `{"value":1,"mode":"stopwatch","initial":0,"last_sync":1}`,
		"missing lastsync": `{"value":1,"running":true,"mode":"stopwatch","initial":0}`,
		"wrong mode":       `{"value":1,"running":true,"mode":"countdown","initial":0,"last_sync":1}`,
		"negative value":   `{"value":-1,"running":true,"mode":"stopwatch","initial":0,"last_sync":1}`,
		"negative initial": `{"value":1,"running":true,"mode":"stopwatch","initial":-2,"last_sync":1}`,
		"paused stopped":   `{"value":1,"running":false,"paused":true,"mode":"stopwatch","initial":0,"last_sync":1}`,
		"zero lastsync":    `{"value":1,"running":true,"mode":"stopwatch","initial":0,"last_sync":0}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeRecord(raw, Stopwatch)
			assert.True(t, errors.Is(err, errMalformed), "got %v", err)
		})
	}
}

func TestParseModeAndKeys(t *testing.T) {
	m, err := ParseMode(" Countdown ")
	require.NoError(t, err)
	assert.Equal(t, Countdown, m)

	_, err = ParseMode("")
	assert.True(t, errors.Is(err, ErrInvalidMode))

	assert.Equal(t, "ns_stopwatch_", KeyPrefix("ns", Stopwatch))
	assert.Equal(t, "ns_stopwatch_42", Key("ns", Stopwatch, "42"))
}
