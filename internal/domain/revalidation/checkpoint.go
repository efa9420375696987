package revalidation

import "encoding/json"

// JobType identifies the job a checkpoint belongs to. Only one checkpoint is
// kept per job type.
type JobType string

// JobTypeValidateOrRevoke is the job type of the periodic message sweep.
const JobTypeValidateOrRevoke JobType = "validate_or_revoke_messages"

func (t JobType) String() string { return string(t) }

// Checkpoint is the durable progress marker of the sweep.
//
// LastJobTimestamp is the staleness watermark in Farcaster time: FIDs whose
// most recent signer change happened before it are assumed validated by a
// previous completed run. LastFID is the resume point of an in-progress run;
// zero means the next run starts from the beginning of the keyspace.
type Checkpoint struct {
	LastJobTimestamp uint32 `json:"last_job_timestamp"`
	LastFID          uint64 `json:"last_fid"`
}

// NewTerminalCheckpoint returns the checkpoint written after a full scan
// completes. The resume point is cleared and the watermark advances to the
// start of the run that just finished.
func NewTerminalCheckpoint(runStart uint32) Checkpoint {
	return Checkpoint{LastJobTimestamp: runStart, LastFID: 0}
}

// WithProgress returns a copy of the checkpoint that resumes at fid while
// keeping the current watermark.
func (c Checkpoint) WithProgress(fid uint64) Checkpoint {
	c.LastFID = fid
	return c
}

// HasResumePoint reports whether the checkpoint belongs to an interrupted run.
func (c Checkpoint) HasResumePoint() bool { return c.LastFID > 0 }

// ShouldSkip reports whether fid was already processed by the run being
// resumed.
func (c Checkpoint) ShouldSkip(fid uint64) bool {
	return c.LastFID > 0 && fid < c.LastFID
}

// MarshalCheckpoint encodes a checkpoint for storage.
func MarshalCheckpoint(c Checkpoint) ([]byte, error) { return json.Marshal(c) }

// UnmarshalCheckpoint decodes a stored checkpoint.
func UnmarshalCheckpoint(data []byte) (Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return Checkpoint{}, err
	}
	return c, nil
}
