package memory

import (
	"context"
	"sync"

	"github.com/ahrav/hub-revalidator/internal/domain/revalidation"
)

var _ revalidation.CheckpointRepository = (*CheckpointStore)(nil)

// CheckpointStore provides a thread-safe in-memory implementation of
// CheckpointRepository for testing and development.
type CheckpointStore struct {
	mu          sync.Mutex
	checkpoints map[revalidation.JobType]revalidation.Checkpoint
	saves       []revalidation.Checkpoint
}

// NewCheckpointStore creates an empty in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{checkpoints: make(map[revalidation.JobType]revalidation.Checkpoint)}
}

func (cs *CheckpointStore) Load(_ context.Context, jobType revalidation.JobType) (revalidation.Checkpoint, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.checkpoints[jobType], nil
}

func (cs *CheckpointStore) Save(_ context.Context, jobType revalidation.JobType, cp revalidation.Checkpoint) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.checkpoints[jobType] = cp
	cs.saves = append(cs.saves, cp)
	return nil
}

// History returns every checkpoint saved so far, oldest first.
func (cs *CheckpointStore) History() []revalidation.Checkpoint {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]revalidation.Checkpoint, len(cs.saves))
	copy(out, cs.saves)
	return out
}
