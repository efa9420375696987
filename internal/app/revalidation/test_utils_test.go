package revalidation

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	domain "github.com/ahrav/hub-revalidator/internal/domain/revalidation"
	"github.com/ahrav/hub-revalidator/internal/infra/codec"
	"github.com/ahrav/hub-revalidator/internal/infra/storage/memory"
)

func noopTracer() trace.Tracer { return noop.NewTracerProvider().Tracer("test") }

var (
	testSigner  = bytes.Repeat([]byte{0x5a}, 32)
	epochSecond = uint64(domain.FarcasterEpoch / 1000)
)

// putRecord encodes a message for fid under postfix and stores it. The
// timestamp doubles as the hash seed so keys stay unique.
func putRecord(
	t *testing.T,
	store *memory.RecordStore,
	fid uint64,
	postfix domain.Postfix,
	msgType domain.MessageType,
	ts uint32,
) []byte {
	t.Helper()

	hash := bytes.Repeat([]byte{byte(ts)}, domain.HashLength)
	tsHash, err := domain.MakeTSHash(ts, hash)
	require.NoError(t, err)
	key, err := domain.MakeRecordKey(fid, postfix, tsHash)
	require.NoError(t, err)

	store.Put(key, codec.EncodeMessage(&domain.Message{
		Hash:      hash,
		FID:       fid,
		Type:      msgType,
		Timestamp: ts,
		Signer:    testSigner,
	}))
	return key
}

// signerAddedAt records a signer add event for fid at the given Farcaster
// time.
func signerAddedAt(src *memory.SignerEventSource, fid uint64, farcasterTime uint32) {
	src.Append(domain.SignerEvent{
		FID:            fid,
		BlockNumber:    uint64(farcasterTime),
		BlockTimestamp: epochSecond + uint64(farcasterTime),
		Key:            testSigner,
		EventType:      domain.SignerEventAdd,
	})
}

type mockValidator struct {
	mock.Mock
}

func (m *mockValidator) ValidateOrRevoke(ctx context.Context, msg *domain.Message) (domain.Outcome, error) {
	args := m.Called(ctx, msg)
	return args.Get(0).(domain.Outcome), args.Error(1)
}

// recordingValidator keeps every record valid and remembers which FIDs and
// postfixes it saw.
type recordingValidator struct {
	mu   sync.Mutex
	seen map[uint64][]domain.Postfix
}

func newRecordingValidator() *recordingValidator {
	return &recordingValidator{seen: make(map[uint64][]domain.Postfix)}
}

func (v *recordingValidator) ValidateOrRevoke(_ context.Context, msg *domain.Message) (domain.Outcome, error) {
	rk, err := domain.ParseRecordKey(msg.Key)
	if err != nil {
		return domain.OutcomeError, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seen[msg.FID] = append(v.seen[msg.FID], rk.Postfix)
	return domain.OutcomeUnchanged, nil
}

func (v *recordingValidator) postfixes(fid uint64) []domain.Postfix {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.Postfix(nil), v.seen[fid]...)
}

func (v *recordingValidator) reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seen = make(map[uint64][]domain.Postfix)
}

type failingSignerSource struct{ err error }

func (f failingSignerSource) SignerEvents(context.Context, uint64, []byte) (domain.SignerEventPage, error) {
	return domain.SignerEventPage{}, f.err
}

type failingRecordStore struct{ err error }

func (f failingRecordStore) IterateByPrefix(context.Context, []byte, domain.RecordVisitor, time.Duration) error {
	return f.err
}

func (f failingRecordStore) Delete(context.Context, []byte) error { return f.err }

// recordingMetrics is a JobMetrics that counts calls.
type recordingMetrics struct {
	mu                sync.Mutex
	started, skipped  int
	failed, timeouts  int
	entitiesProcessed int
	revoked           int
	durations         []time.Duration
	recordsChecked    []int
}

func (m *recordingMetrics) IncRunsStarted(context.Context) {
	m.mu.Lock()
	m.started++
	m.mu.Unlock()
}

func (m *recordingMetrics) IncRunsSkipped(context.Context) {
	m.mu.Lock()
	m.skipped++
	m.mu.Unlock()
}

func (m *recordingMetrics) IncRunsFailed(context.Context) {
	m.mu.Lock()
	m.failed++
	m.mu.Unlock()
}

func (m *recordingMetrics) IncEntityTimeouts(context.Context) {
	m.mu.Lock()
	m.timeouts++
	m.mu.Unlock()
}

func (m *recordingMetrics) IncEntitiesProcessed(_ context.Context, n int) {
	m.mu.Lock()
	m.entitiesProcessed += n
	m.mu.Unlock()
}

func (m *recordingMetrics) IncRevoked(_ context.Context, n int) {
	m.mu.Lock()
	m.revoked += n
	m.mu.Unlock()
}

func (m *recordingMetrics) ObserveRunDuration(_ context.Context, d time.Duration) {
	m.mu.Lock()
	m.durations = append(m.durations, d)
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordRecordsChecked(_ context.Context, n int) {
	m.mu.Lock()
	m.recordsChecked = append(m.recordsChecked, n)
	m.mu.Unlock()
}
