package revalidation

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Key layout of a user message record:
//
//	[RootPrefixUser (1)] [fid (FIDBytes)] [postfix (1)] [tsHash (TSHashLength)]
const (
	RootPrefixUser byte = 1

	FIDBytes = 4

	// TSHashLength is a 4 byte big-endian timestamp followed by a 20 byte
	// message hash.
	TSHashLength = 24
	HashLength   = 20

	// MaxFID is the largest FID the key layout can address.
	MaxFID uint64 = math.MaxUint32

	EntityPrefixLength = 1 + FIDBytes
	RecordKeyLength    = EntityPrefixLength + 1 + TSHashLength
)

// Postfix is the record type tag stored after the entity prefix.
type Postfix byte

const (
	PostfixCastMessage             Postfix = 1
	PostfixLinkMessage             Postfix = 2
	PostfixReactionMessage         Postfix = 3
	PostfixVerificationMessage     Postfix = 4
	PostfixUserDataMessage         Postfix = 5
	PostfixUsernameProofMessage    Postfix = 6
	PostfixLinkCompactStateMessage Postfix = 7

	// MessagePostfixMax is the highest postfix that holds a message. Larger
	// values under the entity prefix are indexes and other artifacts.
	MessagePostfixMax = PostfixLinkCompactStateMessage
)

// IdentityPostfixes are the record types that are re-validated on every run
// because their validity depends on name ownership that signer events do not
// reflect. Kept in ascending order so scans follow key order.
var IdentityPostfixes = []Postfix{PostfixUserDataMessage, PostfixUsernameProofMessage}

// Valid reports whether the postfix tags a decodable message record.
func (p Postfix) Valid() bool { return p >= 1 && p <= MessagePostfixMax }

func (p Postfix) String() string {
	switch p {
	case PostfixCastMessage:
		return "cast"
	case PostfixLinkMessage:
		return "link"
	case PostfixReactionMessage:
		return "reaction"
	case PostfixVerificationMessage:
		return "verification"
	case PostfixUserDataMessage:
		return "user_data"
	case PostfixUsernameProofMessage:
		return "username_proof"
	case PostfixLinkCompactStateMessage:
		return "link_compact_state"
	default:
		return fmt.Sprintf("postfix(%d)", byte(p))
	}
}

var (
	ErrInvalidKeyLength = errors.New("record key has unexpected length")
	ErrInvalidPostfix   = errors.New("record key has out of range postfix")
	ErrInvalidKeyPrefix = errors.New("record key has unexpected root prefix")
)

// RecordKey is a parsed message record key.
type RecordKey struct {
	FID     uint64
	Postfix Postfix
	TSHash  []byte
}

// Timestamp returns the Farcaster timestamp embedded in the tsHash.
func (k RecordKey) Timestamp() uint32 { return binary.BigEndian.Uint32(k.TSHash[:4]) }

// Hash returns the message hash embedded in the tsHash.
func (k RecordKey) Hash() []byte { return k.TSHash[4:] }

// ParseRecordKey validates key against the fixed record layout. Keys of any
// other length, or with an out of range postfix, are not message records.
func ParseRecordKey(key []byte) (RecordKey, error) {
	if len(key) != RecordKeyLength {
		return RecordKey{}, ErrInvalidKeyLength
	}
	if key[0] != RootPrefixUser {
		return RecordKey{}, ErrInvalidKeyPrefix
	}
	postfix := Postfix(key[EntityPrefixLength])
	if !postfix.Valid() {
		return RecordKey{}, ErrInvalidPostfix
	}
	return RecordKey{
		FID:     uint64(binary.BigEndian.Uint32(key[1:EntityPrefixLength])),
		Postfix: postfix,
		TSHash:  key[EntityPrefixLength+1:],
	}, nil
}

// FIDInKeyRange reports whether fid fits in the FIDBytes key field.
func FIDInKeyRange(fid uint64) bool { return fid <= MaxFID }

// EntityPrefix returns the key prefix shared by every record of fid. Callers
// must check FIDInKeyRange first; larger FIDs are truncated.
func EntityPrefix(fid uint64) []byte {
	prefix := make([]byte, EntityPrefixLength)
	prefix[0] = RootPrefixUser
	binary.BigEndian.PutUint32(prefix[1:], uint32(fid))
	return prefix
}

// MakeTSHash builds the tsHash component from a timestamp and message hash.
func MakeTSHash(timestamp uint32, hash []byte) ([]byte, error) {
	if len(hash) != HashLength {
		return nil, fmt.Errorf("hash must be %d bytes, got %d", HashLength, len(hash))
	}
	tsHash := make([]byte, TSHashLength)
	binary.BigEndian.PutUint32(tsHash, timestamp)
	copy(tsHash[4:], hash)
	return tsHash, nil
}

// MakeRecordKey builds the full record key for a message.
func MakeRecordKey(fid uint64, postfix Postfix, tsHash []byte) ([]byte, error) {
	if len(tsHash) != TSHashLength {
		return nil, fmt.Errorf("tsHash must be %d bytes, got %d", TSHashLength, len(tsHash))
	}
	key := make([]byte, 0, RecordKeyLength)
	key = append(key, EntityPrefix(fid)...)
	key = append(key, byte(postfix))
	key = append(key, tsHash...)
	return key, nil
}

// PostfixPrefix returns the key prefix of every record of fid with postfix.
func PostfixPrefix(fid uint64, postfix Postfix) []byte {
	return append(EntityPrefix(fid), byte(postfix))
}
