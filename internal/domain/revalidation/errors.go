package revalidation

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures by how the sweep reacts to them.
type ErrorKind int

const (
	// KindSkip covers expected noise in a shared keyspace: malformed keys,
	// unknown postfixes and undecodable values. The record is ignored.
	KindSkip ErrorKind = iota
	// KindContinue covers a validator failure on one record. It is logged and
	// the scan moves on.
	KindContinue
	// KindAbort covers failures of an authoritative source. The run stops and
	// the checkpoint keeps its last persisted value.
	KindAbort
	// KindTimeout covers the per-entity time box. Partial work is kept.
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindSkip:
		return "skip"
	case KindContinue:
		return "continue"
	case KindAbort:
		return "abort"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Stage names the part of the sweep an error came from.
type Stage string

const (
	StageCheckpointLoad Stage = "checkpoint_load"
	StageCheckpointSave Stage = "checkpoint_save"
	StageEntityPage     Stage = "entity_page"
	StageSignerEvents   Stage = "signer_events"
	StageStoreIterate   Stage = "store_iterate"
	StageDecode         Stage = "decode"
	StageValidate       Stage = "validate"
	StageRun            Stage = "run"
)

// ScanError is a classified sweep failure.
type ScanError struct {
	Kind  ErrorKind
	Stage Stage
	FID   uint64
	Hash  []byte
	Err   error
}

// NewAbortError wraps err as a run-aborting failure.
func NewAbortError(stage Stage, fid uint64, err error) *ScanError {
	return &ScanError{Kind: KindAbort, Stage: stage, FID: fid, Err: err}
}

func (e *ScanError) Error() string {
	if e.FID > 0 {
		return fmt.Sprintf("%s failure (%s) for fid %d: %v", e.Stage, e.Kind, e.FID, e.Err)
	}
	return fmt.Sprintf("%s failure (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// KindOf returns the classification of err. Unclassified errors abort.
func KindOf(err error) ErrorKind {
	var se *ScanError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindAbort
}

// IsAbort reports whether err should stop the run.
func IsAbort(err error) bool { return err != nil && KindOf(err) == KindAbort }
