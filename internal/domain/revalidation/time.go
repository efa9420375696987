package revalidation

import (
	"errors"
	"math"
	"time"
)

// FarcasterEpoch is 2021-01-01T00:00:00Z in Unix milliseconds.
const FarcasterEpoch int64 = 1609459200000

var (
	ErrTimeBeforeEpoch = errors.New("time is before the farcaster epoch")
	ErrTimeTooFarOut   = errors.New("time overflows farcaster time")
)

// ToFarcasterTime converts a wall-clock time into seconds since the Farcaster
// epoch.
func ToFarcasterTime(t time.Time) (uint32, error) {
	ms := t.UnixMilli()
	if ms < FarcasterEpoch {
		return 0, ErrTimeBeforeEpoch
	}
	secs := (ms - FarcasterEpoch) / 1000
	if secs > math.MaxUint32 {
		return 0, ErrTimeTooFarOut
	}
	return uint32(secs), nil
}

// FromFarcasterTime converts Farcaster time back to wall-clock time.
func FromFarcasterTime(ts uint32) time.Time {
	return time.UnixMilli(int64(ts)*1000 + FarcasterEpoch).UTC()
}

// OnChainTimestampToFarcaster converts a block timestamp (Unix seconds) into
// Farcaster time. Timestamps that predate the epoch map to zero.
func OnChainTimestampToFarcaster(unixSeconds uint64) uint32 {
	if unixSeconds > math.MaxInt64/1000 {
		return math.MaxUint32
	}
	ts, err := ToFarcasterTime(time.Unix(int64(unixSeconds), 0))
	if errors.Is(err, ErrTimeTooFarOut) {
		return math.MaxUint32
	}
	return ts
}
