package revalidation

import "encoding/hex"

// MessageType mirrors the protocol's message type enumeration.
type MessageType int32

const (
	MessageTypeNone                   MessageType = 0
	MessageTypeCastAdd                MessageType = 1
	MessageTypeCastRemove             MessageType = 2
	MessageTypeReactionAdd            MessageType = 3
	MessageTypeReactionRemove         MessageType = 4
	MessageTypeLinkAdd                MessageType = 5
	MessageTypeLinkRemove             MessageType = 6
	MessageTypeVerificationAddAddress MessageType = 7
	MessageTypeVerificationRemove     MessageType = 8
	MessageTypeUserDataAdd            MessageType = 11
	MessageTypeUsernameProof          MessageType = 12
	MessageTypeFrameAction            MessageType = 13
	MessageTypeLinkCompactState       MessageType = 14
)

// UsernameProofBody is the identity binding carried by a username proof
// message.
type UsernameProofBody struct {
	Timestamp uint64
	Name      string
	Owner     []byte
	FID       uint64
}

// Message is a decoded record.
type Message struct {
	Hash      []byte
	FID       uint64
	Type      MessageType
	Timestamp uint32
	Signer    []byte

	// UsernameProof is set for username proof messages only.
	UsernameProof *UsernameProofBody

	// Key is the store key the message was read from.
	Key []byte
}

// HashHex returns the message hash as a 0x-prefixed hex string.
func (m *Message) HashHex() string { return "0x" + hex.EncodeToString(m.Hash) }
