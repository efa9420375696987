package revalidation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpoint_ShouldSkip(t *testing.T) {
	tests := []struct {
		name string
		cp   Checkpoint
		fid  uint64
		want bool
	}{
		{name: "no resume point", cp: Checkpoint{}, fid: 1, want: false},
		{name: "before resume point", cp: Checkpoint{LastFID: 5000}, fid: 4999, want: true},
		{name: "at resume point", cp: Checkpoint{LastFID: 5000}, fid: 5000, want: false},
		{name: "after resume point", cp: Checkpoint{LastFID: 5000}, fid: 5001, want: false},
		{name: "watermark does not skip", cp: Checkpoint{LastJobTimestamp: 100}, fid: 1, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cp.ShouldSkip(tt.fid))
		})
	}
}

func TestCheckpoint_WithProgressKeepsWatermark(t *testing.T) {
	cp := Checkpoint{LastJobTimestamp: 900}
	next := cp.WithProgress(5000)

	assert.Equal(t, Checkpoint{LastJobTimestamp: 900, LastFID: 5000}, next)
	assert.True(t, next.HasResumePoint())
	assert.False(t, cp.HasResumePoint(), "receiver must not change")
}

func TestNewTerminalCheckpoint(t *testing.T) {
	cp := NewTerminalCheckpoint(1234)
	assert.Equal(t, uint32(1234), cp.LastJobTimestamp)
	assert.Zero(t, cp.LastFID)
	assert.False(t, cp.HasResumePoint())
}

func TestCheckpoint_MarshalRoundTrip(t *testing.T) {
	cp := Checkpoint{LastJobTimestamp: 98765, LastFID: 5000}

	data, err := MarshalCheckpoint(cp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"last_job_timestamp":98765,"last_fid":5000}`, string(data))

	got, err := UnmarshalCheckpoint(data)
	require.NoError(t, err)
	assert.Equal(t, cp, got)

	_, err = UnmarshalCheckpoint([]byte("{not json"))
	assert.Error(t, err)
}
