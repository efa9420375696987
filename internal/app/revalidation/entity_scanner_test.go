package revalidation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	domain "github.com/ahrav/hub-revalidator/internal/domain/revalidation"
	"github.com/ahrav/hub-revalidator/internal/infra/codec"
	"github.com/ahrav/hub-revalidator/internal/infra/storage/memory"
	"github.com/ahrav/hub-revalidator/pkg/common/logger"
)

func setupScannerTest(validator domain.Validator) (
	*EntityScanner,
	*memory.RecordStore,
	*memory.SignerEventSource,
) {
	store := memory.NewRecordStore()
	signers := memory.NewSignerEventSource(2)
	scanner := NewEntityScanner(
		signers,
		store,
		codec.NewMessageDecoder(),
		validator,
		time.Minute,
		logger.Noop(),
		noopTracer(),
	)
	return scanner, store, signers
}

func TestScanChangedRecords_SkipsUnchangedEntity(t *testing.T) {
	validator := new(mockValidator)
	scanner, store, signers := setupScannerTest(validator)

	putRecord(t, store, 1, domain.PostfixCastMessage, domain.MessageTypeCastAdd, 10)
	signerAddedAt(signers, 1, 100)

	stats, err := scanner.ScanChangedRecords(context.Background(), 1, 101)
	require.NoError(t, err)
	assert.Equal(t, domain.ScanStats{}, stats)
	validator.AssertNotCalled(t, "ValidateOrRevoke", mock.Anything, mock.Anything)
}

func TestScanChangedRecords_NoSignerEventsIsUnchangedForNonZeroWatermark(t *testing.T) {
	validator := new(mockValidator)
	scanner, store, _ := setupScannerTest(validator)

	putRecord(t, store, 1, domain.PostfixCastMessage, domain.MessageTypeCastAdd, 10)

	stats, err := scanner.ScanChangedRecords(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Zero(t, stats.RecordsChecked)
	validator.AssertNotCalled(t, "ValidateOrRevoke", mock.Anything, mock.Anything)
}

func TestScanChangedRecords_ScansEntityChangedAtWatermark(t *testing.T) {
	validator := new(mockValidator)
	scanner, store, signers := setupScannerTest(validator)

	putRecord(t, store, 1, domain.PostfixCastMessage, domain.MessageTypeCastAdd, 10)
	putRecord(t, store, 1, domain.PostfixReactionMessage, domain.MessageTypeReactionAdd, 11)
	putRecord(t, store, 1, domain.PostfixUserDataMessage, domain.MessageTypeUserDataAdd, 12)
	putRecord(t, store, 2, domain.PostfixCastMessage, domain.MessageTypeCastAdd, 13)
	// Several pages of signer events; the latest one decides.
	signerAddedAt(signers, 1, 10)
	signerAddedAt(signers, 1, 20)
	signerAddedAt(signers, 1, 300)

	validator.On("ValidateOrRevoke", mock.Anything, mock.MatchedBy(func(msg *domain.Message) bool {
		return msg.FID == 1 && len(msg.Key) == domain.RecordKeyLength
	})).Return(domain.OutcomeUnchanged, nil).Times(3)

	stats, err := scanner.ScanChangedRecords(context.Background(), 1, 300)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.RecordsChecked)
	assert.False(t, stats.TimedOut)
	validator.AssertExpectations(t)
}

func TestScanChangedRecords_FiltersKeys(t *testing.T) {
	validator := new(mockValidator)
	scanner, store, signers := setupScannerTest(validator)
	signerAddedAt(signers, 1, 10)

	valid := putRecord(t, store, 1, domain.PostfixCastMessage, domain.MessageTypeCastAdd, 1)

	// Index entry sharing the entity prefix, shorter than a record key.
	store.Put(append(domain.EntityPrefix(1), 0x57, 0x01), []byte("index"))
	// Full length key with a postfix beyond the message range.
	indexKey := append([]byte(nil), valid...)
	indexKey[domain.EntityPrefixLength] = byte(domain.MessagePostfixMax) + 1
	store.Put(indexKey, []byte("index"))
	// Well formed key holding an undecodable value.
	badValue := append([]byte(nil), valid...)
	badValue[len(badValue)-1] ^= 0xff
	store.Put(badValue, []byte{0xff, 0xff, 0xff})

	validator.On("ValidateOrRevoke", mock.Anything, mock.MatchedBy(func(msg *domain.Message) bool {
		return string(msg.Key) == string(valid)
	})).Return(domain.OutcomeRevoked, nil).Once()

	stats, err := scanner.ScanChangedRecords(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.ScanStats{RecordsChecked: 1, Revoked: 1, Skipped: 3}, stats)
	validator.AssertExpectations(t)
}

func TestScanChangedRecords_ValidatorErrorContinues(t *testing.T) {
	validator := new(mockValidator)
	scanner, store, signers := setupScannerTest(validator)
	signerAddedAt(signers, 1, 10)

	putRecord(t, store, 1, domain.PostfixCastMessage, domain.MessageTypeCastAdd, 1)
	putRecord(t, store, 1, domain.PostfixCastMessage, domain.MessageTypeCastAdd, 2)

	validator.On("ValidateOrRevoke", mock.Anything, mock.MatchedBy(func(msg *domain.Message) bool {
		return msg.Timestamp == 1
	})).Return(domain.OutcomeError, errors.New("validation exploded")).Once()
	validator.On("ValidateOrRevoke", mock.Anything, mock.MatchedBy(func(msg *domain.Message) bool {
		return msg.Timestamp == 2
	})).Return(domain.OutcomeUnchanged, nil).Once()

	stats, err := scanner.ScanChangedRecords(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RecordsChecked)
	assert.Equal(t, 1, stats.Errored)
	validator.AssertExpectations(t)
}

func TestScanChangedRecords_SignerFetchFailureAborts(t *testing.T) {
	validator := new(mockValidator)
	store := memory.NewRecordStore()
	putRecord(t, store, 1, domain.PostfixCastMessage, domain.MessageTypeCastAdd, 1)

	scanner := NewEntityScanner(
		failingSignerSource{err: errors.New("hub unavailable")},
		store,
		codec.NewMessageDecoder(),
		validator,
		time.Minute,
		logger.Noop(),
		noopTracer(),
	)

	_, err := scanner.ScanChangedRecords(context.Background(), 1, 0)
	require.Error(t, err)
	assert.True(t, domain.IsAbort(err))

	var scanErr *domain.ScanError
	require.ErrorAs(t, err, &scanErr)
	assert.Equal(t, domain.StageSignerEvents, scanErr.Stage)
	assert.Equal(t, uint64(1), scanErr.FID)
	validator.AssertNotCalled(t, "ValidateOrRevoke", mock.Anything, mock.Anything)
}

func TestScanIdentityRecords_OnlyIdentityPostfixes(t *testing.T) {
	validator := newRecordingValidator()
	scanner, store, _ := setupScannerTest(validator)

	putRecord(t, store, 4, domain.PostfixCastMessage, domain.MessageTypeCastAdd, 1)
	putRecord(t, store, 4, domain.PostfixUsernameProofMessage, domain.MessageTypeUsernameProof, 2)
	putRecord(t, store, 4, domain.PostfixLinkMessage, domain.MessageTypeLinkAdd, 3)
	putRecord(t, store, 4, domain.PostfixUserDataMessage, domain.MessageTypeUserDataAdd, 4)
	putRecord(t, store, 5, domain.PostfixUserDataMessage, domain.MessageTypeUserDataAdd, 5)

	// No signer events at all: the identity scan still runs.
	stats, err := scanner.ScanIdentityRecords(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RecordsChecked)
	assert.Equal(t,
		[]domain.Postfix{domain.PostfixUserDataMessage, domain.PostfixUsernameProofMessage},
		validator.postfixes(4),
		"records follow key order",
	)
	assert.Empty(t, validator.postfixes(5))
}

func TestScan_TimeBoxIsSoft(t *testing.T) {
	validator := new(mockValidator)
	store := memory.NewRecordStore()
	signers := memory.NewSignerEventSource(0)
	signerAddedAt(signers, 1, 10)
	for ts := uint32(1); ts <= 10; ts++ {
		putRecord(t, store, 1, domain.PostfixCastMessage, domain.MessageTypeCastAdd, ts)
	}

	validator.On("ValidateOrRevoke", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(20 * time.Millisecond) }).
		Return(domain.OutcomeUnchanged, nil)

	scanner := NewEntityScanner(
		signers,
		store,
		codec.NewMessageDecoder(),
		validator,
		30*time.Millisecond,
		logger.Noop(),
		noopTracer(),
	)

	stats, err := scanner.ScanChangedRecords(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.True(t, stats.TimedOut)
	assert.GreaterOrEqual(t, stats.RecordsChecked, 1)
	assert.Less(t, stats.RecordsChecked, 10)
}

func TestScan_StoreFailureAborts(t *testing.T) {
	validator := new(mockValidator)
	scanner := NewEntityScanner(
		memory.NewSignerEventSource(0),
		failingRecordStore{err: errors.New("disk on fire")},
		codec.NewMessageDecoder(),
		validator,
		time.Minute,
		logger.Noop(),
		noopTracer(),
	)

	_, err := scanner.ScanIdentityRecords(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, domain.IsAbort(err))

	var scanErr *domain.ScanError
	require.ErrorAs(t, err, &scanErr)
	assert.Equal(t, domain.StageStoreIterate, scanErr.Stage)
}
