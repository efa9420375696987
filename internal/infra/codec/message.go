// Package codec decodes protobuf encoded hub messages straight from the wire
// format, reading only the fields the revalidation sweep needs.
package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ahrav/hub-revalidator/internal/domain/revalidation"
)

// Field numbers of the Message envelope.
const (
	messageFieldData      protowire.Number = 1
	messageFieldHash      protowire.Number = 2
	messageFieldSigner    protowire.Number = 6
	messageFieldDataBytes protowire.Number = 7
)

// Field numbers of MessageData.
const (
	dataFieldType              protowire.Number = 1
	dataFieldFID               protowire.Number = 2
	dataFieldTimestamp         protowire.Number = 3
	dataFieldUsernameProofBody protowire.Number = 15
)

// Field numbers of UserNameProof.
const (
	proofFieldTimestamp protowire.Number = 1
	proofFieldName      protowire.Number = 2
	proofFieldOwner     protowire.Number = 3
	proofFieldFID       protowire.Number = 5
)

var (
	ErrMissingData = errors.New("message has no data")
	ErrInvalidHash = errors.New("message hash has unexpected length")
	ErrMissingFID  = errors.New("message data has no fid")
	ErrMissingType = errors.New("message data has no type")
)

var _ revalidation.RecordDecoder = (*MessageDecoder)(nil)

// MessageDecoder implements revalidation.RecordDecoder for protobuf messages.
type MessageDecoder struct{}

// NewMessageDecoder returns a MessageDecoder.
func NewMessageDecoder() *MessageDecoder { return &MessageDecoder{} }

// Decode parses a Message envelope. When data_bytes is present it takes
// precedence over the embedded data field, matching how signatures are
// computed.
func (MessageDecoder) Decode(raw []byte) (*revalidation.Message, error) {
	msg := new(revalidation.Message)
	var data, dataBytes []byte

	err := walk(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == messageFieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			data = v
			return n, nil
		case num == messageFieldHash && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			msg.Hash = append([]byte(nil), v...)
			return n, nil
		case num == messageFieldSigner && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			msg.Signer = append([]byte(nil), v...)
			return n, nil
		case num == messageFieldDataBytes && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			dataBytes = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode message envelope: %w", err)
	}

	if len(dataBytes) > 0 {
		data = dataBytes
	}
	if data == nil {
		return nil, ErrMissingData
	}
	if len(msg.Hash) != revalidation.HashLength {
		return nil, ErrInvalidHash
	}

	if err := decodeData(data, msg); err != nil {
		return nil, err
	}
	if msg.FID == 0 {
		return nil, ErrMissingFID
	}
	if msg.Type == revalidation.MessageTypeNone {
		return nil, ErrMissingType
	}
	return msg, nil
}

func decodeData(b []byte, msg *revalidation.Message) error {
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == dataFieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			msg.Type = revalidation.MessageType(v)
			return n, nil
		case num == dataFieldFID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			msg.FID = v
			return n, nil
		case num == dataFieldTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			msg.Timestamp = uint32(v)
			return n, nil
		case num == dataFieldUsernameProofBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			proof, err := decodeUsernameProof(v)
			if err != nil {
				return 0, err
			}
			msg.UsernameProof = proof
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return fmt.Errorf("failed to decode message data: %w", err)
	}
	return nil
}

func decodeUsernameProof(b []byte) (*revalidation.UsernameProofBody, error) {
	proof := new(revalidation.UsernameProofBody)
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == proofFieldTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			proof.Timestamp = v
			return n, nil
		case num == proofFieldName && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			proof.Name = string(v)
			return n, nil
		case num == proofFieldOwner && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			proof.Owner = append([]byte(nil), v...)
			return n, nil
		case num == proofFieldFID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			proof.FID = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode username proof: %w", err)
	}
	return proof, nil
}

// walk iterates the fields of a serialized message. visit consumes the value
// starting at b and returns the number of bytes read, or a negative protowire
// error code.
func walk(b []byte, visit func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := visit(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}
