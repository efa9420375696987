package revalidation

import (
	"context"
	"errors"
	"time"
)

// CheckpointRepository persists the sweep's progress marker.
type CheckpointRepository interface {
	// Load returns the checkpoint for jobType. A missing or undecodable
	// checkpoint yields the zero Checkpoint; an error is returned only when
	// the underlying store cannot be reached.
	Load(ctx context.Context, jobType JobType) (Checkpoint, error)

	// Save persists cp synchronously before returning.
	Save(ctx context.Context, jobType JobType, cp Checkpoint) error
}

// EntityPage is one ordered batch of FIDs. An empty NextPageToken marks the
// last page.
type EntityPage struct {
	FIDs          []uint64
	NextPageToken []byte
}

// IsLast reports whether no further pages follow.
func (p EntityPage) IsLast() bool { return len(p.NextPageToken) == 0 }

// EntitySource enumerates every FID in ascending order.
type EntitySource interface {
	FIDsPage(ctx context.Context, pageToken []byte, pageSize int) (EntityPage, error)
}

// SignerEventSource queries on-chain signer events for a FID, one page at a
// time.
type SignerEventSource interface {
	SignerEvents(ctx context.Context, fid uint64, pageToken []byte) (SignerEventPage, error)
}

// NameRegistry resolves the FID that currently owns a username.
type NameRegistry interface {
	Owner(ctx context.Context, name string) (uint64, error)
}

// ErrStopIteration may be returned by a RecordVisitor to end an iteration
// early without error.
var ErrStopIteration = errors.New("stop iteration")

// ErrIterationTimeout is returned by RecordStore.IterateByPrefix when the
// time box elapsed before the prefix was exhausted.
var ErrIterationTimeout = errors.New("iteration time box elapsed")

// RecordVisitor is invoked for every key under a prefix, in key order.
type RecordVisitor func(key, value []byte) error

// RecordStore is the key-value store holding message records.
type RecordStore interface {
	// IterateByPrefix visits every key starting with prefix. Iteration stops
	// with ErrIterationTimeout once timeout elapses; records visited so far
	// stay visited.
	IterateByPrefix(ctx context.Context, prefix []byte, fn RecordVisitor, timeout time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key []byte) error
}

// RecordDecoder turns a raw stored value into a Message.
type RecordDecoder interface {
	Decode(raw []byte) (*Message, error)
}

// Validator decides whether a record is still valid and revokes it if not.
type Validator interface {
	ValidateOrRevoke(ctx context.Context, msg *Message) (Outcome, error)
}

// RevocationPublisher announces revoked records to downstream consumers.
type RevocationPublisher interface {
	PublishRevocation(ctx context.Context, evt RevocationEvent) error
}
