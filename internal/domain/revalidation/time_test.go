package revalidation

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToFarcasterTime(t *testing.T) {
	epoch := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

	ts, err := ToFarcasterTime(epoch)
	require.NoError(t, err)
	assert.Zero(t, ts)

	ts, err = ToFarcasterTime(epoch.Add(90*time.Second + 999*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, uint32(90), ts)

	_, err = ToFarcasterTime(epoch.Add(-time.Millisecond))
	assert.ErrorIs(t, err, ErrTimeBeforeEpoch)

	_, err = ToFarcasterTime(epoch.Add(time.Duration(math.MaxUint32+1) * time.Second))
	assert.ErrorIs(t, err, ErrTimeTooFarOut)
}

func TestFromFarcasterTime(t *testing.T) {
	want := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ts, err := ToFarcasterTime(want)
	require.NoError(t, err)
	assert.True(t, want.Equal(FromFarcasterTime(ts)))
}

func TestOnChainTimestampToFarcaster(t *testing.T) {
	epochSeconds := uint64(FarcasterEpoch / 1000)

	assert.Equal(t, uint32(0), OnChainTimestampToFarcaster(0), "pre-epoch maps to zero")
	assert.Equal(t, uint32(0), OnChainTimestampToFarcaster(epochSeconds))
	assert.Equal(t, uint32(3600), OnChainTimestampToFarcaster(epochSeconds+3600))
	assert.Equal(t, uint32(math.MaxUint32), OnChainTimestampToFarcaster(math.MaxUint64))
}
