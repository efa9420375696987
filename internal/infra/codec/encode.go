package codec

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ahrav/hub-revalidator/internal/domain/revalidation"
)

// EncodeMessage serializes the fields of msg understood by MessageDecoder.
// It is used to seed stores and to build fixtures.
func EncodeMessage(msg *revalidation.Message) []byte {
	var data []byte
	data = protowire.AppendTag(data, dataFieldType, protowire.VarintType)
	data = protowire.AppendVarint(data, uint64(msg.Type))
	data = protowire.AppendTag(data, dataFieldFID, protowire.VarintType)
	data = protowire.AppendVarint(data, msg.FID)
	data = protowire.AppendTag(data, dataFieldTimestamp, protowire.VarintType)
	data = protowire.AppendVarint(data, uint64(msg.Timestamp))

	if p := msg.UsernameProof; p != nil {
		var body []byte
		body = protowire.AppendTag(body, proofFieldTimestamp, protowire.VarintType)
		body = protowire.AppendVarint(body, p.Timestamp)
		body = protowire.AppendTag(body, proofFieldName, protowire.BytesType)
		body = protowire.AppendBytes(body, []byte(p.Name))
		body = protowire.AppendTag(body, proofFieldOwner, protowire.BytesType)
		body = protowire.AppendBytes(body, p.Owner)
		body = protowire.AppendTag(body, proofFieldFID, protowire.VarintType)
		body = protowire.AppendVarint(body, p.FID)

		data = protowire.AppendTag(data, dataFieldUsernameProofBody, protowire.BytesType)
		data = protowire.AppendBytes(data, body)
	}

	var out []byte
	out = protowire.AppendTag(out, messageFieldData, protowire.BytesType)
	out = protowire.AppendBytes(out, data)
	out = protowire.AppendTag(out, messageFieldHash, protowire.BytesType)
	out = protowire.AppendBytes(out, msg.Hash)
	out = protowire.AppendTag(out, messageFieldSigner, protowire.BytesType)
	out = protowire.AppendBytes(out, msg.Signer)
	return out
}
