package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/hub-revalidator/internal/domain/revalidation"
)

func TestRecordStore_IterateByPrefixOrder(t *testing.T) {
	store := NewRecordStore()
	store.Put([]byte{1, 0, 0, 0, 2, 3}, []byte("c"))
	store.Put([]byte{1, 0, 0, 0, 2, 1}, []byte("a"))
	store.Put([]byte{1, 0, 0, 0, 2, 2}, []byte("b"))
	store.Put([]byte{1, 0, 0, 0, 3, 1}, []byte("other fid"))

	var got []string
	err := store.IterateByPrefix(context.Background(), []byte{1, 0, 0, 0, 2}, func(_, value []byte) error {
		got = append(got, string(value))
		return nil
	}, time.Minute)

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestRecordStore_DeleteDuringIteration(t *testing.T) {
	store := NewRecordStore()
	prefix := []byte{9}
	for i := byte(0); i < 5; i++ {
		store.Put([]byte{9, i}, []byte{i})
	}

	visited := 0
	err := store.IterateByPrefix(context.Background(), prefix, func(key, _ []byte) error {
		visited++
		return store.Delete(context.Background(), key)
	}, 0)

	require.NoError(t, err)
	assert.Equal(t, 5, visited)
	assert.Zero(t, store.Len())
}

func TestRecordStore_StopIteration(t *testing.T) {
	store := NewRecordStore()
	store.Put([]byte{1, 1}, nil)
	store.Put([]byte{1, 2}, nil)

	visited := 0
	err := store.IterateByPrefix(context.Background(), []byte{1}, func(_, _ []byte) error {
		visited++
		return revalidation.ErrStopIteration
	}, 0)

	require.NoError(t, err)
	assert.Equal(t, 1, visited)
}

func TestRecordStore_VisitorErrorPropagates(t *testing.T) {
	store := NewRecordStore()
	store.Put([]byte{1, 1}, nil)

	boom := errors.New("boom")
	err := store.IterateByPrefix(context.Background(), []byte{1}, func(_, _ []byte) error { return boom }, 0)
	assert.ErrorIs(t, err, boom)
}

func TestRecordStore_Timeout(t *testing.T) {
	store := NewRecordStore()
	for i := byte(0); i < 10; i++ {
		store.Put([]byte{1, i}, nil)
	}

	visited := 0
	err := store.IterateByPrefix(context.Background(), []byte{1}, func(_, _ []byte) error {
		visited++
		time.Sleep(20 * time.Millisecond)
		return nil
	}, 30*time.Millisecond)

	assert.ErrorIs(t, err, revalidation.ErrIterationTimeout)
	assert.GreaterOrEqual(t, visited, 1)
	assert.Less(t, visited, 10)
}

func TestRecordStore_ParentCancellationIsNotTimeout(t *testing.T) {
	store := NewRecordStore()
	store.Put([]byte{1, 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.IterateByPrefix(ctx, []byte{1}, func(_, _ []byte) error { return nil }, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, revalidation.ErrIterationTimeout)
}
