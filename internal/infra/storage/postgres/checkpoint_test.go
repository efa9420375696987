package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/hub-revalidator/internal/domain/revalidation"
	"github.com/ahrav/hub-revalidator/internal/infra/storage"
	"github.com/ahrav/hub-revalidator/pkg/common/logger"
)

func setupCheckpointTest(t *testing.T) (context.Context, *checkpointStore, func()) {
	t.Helper()

	db, cleanup := storage.SetupTestContainer(t)
	store := NewCheckpointStore(db, logger.Noop(), storage.NoOpTracer())
	ctx := context.Background()

	return ctx, store, cleanup
}

func TestPGCheckpointStore_LoadMissingReturnsZero(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupCheckpointTest(t)
	defer cleanup()

	cp, err := store.Load(ctx, revalidation.JobTypeValidateOrRevoke)
	require.NoError(t, err)
	assert.Equal(t, revalidation.Checkpoint{}, cp)
}

func TestPGCheckpointStore_SaveAndLoad(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupCheckpointTest(t)
	defer cleanup()

	progress := revalidation.Checkpoint{LastJobTimestamp: 100, LastFID: 5000}
	require.NoError(t, store.Save(ctx, revalidation.JobTypeValidateOrRevoke, progress))

	loaded, err := store.Load(ctx, revalidation.JobTypeValidateOrRevoke)
	require.NoError(t, err)
	assert.Equal(t, progress, loaded)

	terminal := revalidation.NewTerminalCheckpoint(2000)
	require.NoError(t, store.Save(ctx, revalidation.JobTypeValidateOrRevoke, terminal))

	loaded, err = store.Load(ctx, revalidation.JobTypeValidateOrRevoke)
	require.NoError(t, err)
	assert.Equal(t, terminal, loaded)
}

func TestPGCheckpointStore_CorruptPayloadReturnsZero(t *testing.T) {
	t.Parallel()

	ctx, store, cleanup := setupCheckpointTest(t)
	defer cleanup()

	_, err := store.pool.Exec(ctx, upsertCheckpointSQL,
		revalidation.JobTypeValidateOrRevoke.String(), []byte(`{"last_fid":"not a number"}`))
	require.NoError(t, err)

	cp, err := store.Load(ctx, revalidation.JobTypeValidateOrRevoke)
	require.NoError(t, err)
	assert.Equal(t, revalidation.Checkpoint{}, cp)
}
