package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ahrav/hub-revalidator/internal/domain/revalidation"
)

// ContentTypeProtobuf is the content-type header value for payloads produced
// by this package.
const ContentTypeProtobuf = "application/x-protobuf"

// Field numbers of the MessageRevoked event.
const (
	revocationFieldFID       protowire.Number = 1
	revocationFieldHash      protowire.Number = 2
	revocationFieldType      protowire.Number = 3
	revocationFieldSigner    protowire.Number = 4
	revocationFieldReason    protowire.Number = 5
	revocationFieldRunID     protowire.Number = 6
	revocationFieldRevokedAt protowire.Number = 7
)

var ErrMissingRevocationFID = errors.New("revocation event has no fid")

// EncodeRevocation serializes evt as a MessageRevoked protobuf message.
// Empty optional fields are omitted.
func EncodeRevocation(evt revalidation.RevocationEvent) []byte {
	var b []byte
	b = protowire.AppendTag(b, revocationFieldFID, protowire.VarintType)
	b = protowire.AppendVarint(b, evt.FID)
	b = protowire.AppendTag(b, revocationFieldHash, protowire.BytesType)
	b = protowire.AppendBytes(b, evt.Hash)
	b = protowire.AppendTag(b, revocationFieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(evt.Type))
	if len(evt.Signer) > 0 {
		b = protowire.AppendTag(b, revocationFieldSigner, protowire.BytesType)
		b = protowire.AppendBytes(b, evt.Signer)
	}
	if evt.Reason != "" {
		b = protowire.AppendTag(b, revocationFieldReason, protowire.BytesType)
		b = protowire.AppendString(b, evt.Reason)
	}
	if evt.RunID != "" {
		b = protowire.AppendTag(b, revocationFieldRunID, protowire.BytesType)
		b = protowire.AppendString(b, evt.RunID)
	}
	b = protowire.AppendTag(b, revocationFieldRevokedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(evt.RevokedAt))
	return b
}

// DecodeRevocation parses a payload written by EncodeRevocation. Unknown
// fields are skipped.
func DecodeRevocation(raw []byte) (revalidation.RevocationEvent, error) {
	var evt revalidation.RevocationEvent
	err := walk(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == revocationFieldFID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			evt.FID = v
			return n, nil
		case num == revocationFieldHash && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			evt.Hash = append([]byte(nil), v...)
			return n, nil
		case num == revocationFieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			evt.Type = revalidation.MessageType(v)
			return n, nil
		case num == revocationFieldSigner && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			evt.Signer = append([]byte(nil), v...)
			return n, nil
		case num == revocationFieldReason && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			evt.Reason = v
			return n, nil
		case num == revocationFieldRunID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			evt.RunID = v
			return n, nil
		case num == revocationFieldRevokedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			evt.RevokedAt = int64(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return revalidation.RevocationEvent{}, fmt.Errorf("failed to decode revocation event: %w", err)
	}
	if evt.FID == 0 {
		return revalidation.RevocationEvent{}, ErrMissingRevocationFID
	}
	return evt, nil
}
