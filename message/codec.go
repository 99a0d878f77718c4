package message

import (
	amino "github.com/tendermint/go-amino"
)

const maxMsgSize = 1024 * 1024

var cdc = amino.NewCodec()

func init() {
	RegisterFastPayMessages(cdc)
}

// Message is anything that travels between clients, authorities and shards.
type Message interface {
	ValidateBasic() error
}

// Wire ordinals, fixed by the protocol. The envelope of every message is one
// ordinal byte followed by the amino encoding of the body; transports add
// their own length prefix.
const (
	OrdinalOrder      byte = 0x00
	OrdinalVote       byte = 0x01
	OrdinalCert       byte = 0x02
	OrdinalCrossShard byte = 0x03
	OrdinalError      byte = 0x04
	OrdinalInfoReq    byte = 0x05
	OrdinalInfoResp   byte = 0x06
)

func RegisterFastPayMessages(cdc *amino.Codec) {
	cdc.RegisterInterface((*Message)(nil), nil)
	cdc.RegisterConcrete(&TransferOrder{}, "fastpay/Order", nil)
	cdc.RegisterConcrete(&SignedTransferOrder{}, "fastpay/Vote", nil)
	cdc.RegisterConcrete(&CertifiedTransferOrder{}, "fastpay/Cert", nil)
	cdc.RegisterConcrete(&CrossShardUpdate{}, "fastpay/CrossShard", nil)
	cdc.RegisterConcrete(&Error{}, "fastpay/Error", nil)
	cdc.RegisterConcrete(&AccountInfoRequest{}, "fastpay/InfoReq", nil)
	cdc.RegisterConcrete(&AccountInfoResponse{}, "fastpay/InfoResp", nil)
}

func ordinalOf(msg Message) (byte, bool) {
	switch msg.(type) {
	case *TransferOrder:
		return OrdinalOrder, true
	case *SignedTransferOrder:
		return OrdinalVote, true
	case *CertifiedTransferOrder:
		return OrdinalCert, true
	case *CrossShardUpdate:
		return OrdinalCrossShard, true
	case *Error:
		return OrdinalError, true
	case *AccountInfoRequest:
		return OrdinalInfoReq, true
	case *AccountInfoResponse:
		return OrdinalInfoResp, true
	default:
		return 0, false
	}
}

// Serialize encodes a message into its wire envelope.
func Serialize(msg Message) ([]byte, error) {
	ordinal, ok := ordinalOf(msg)
	if !ok {
		return nil, NewErrorf(CodeUnexpectedMessage, "cannot serialize %T", msg)
	}
	body, err := cdc.MarshalBinaryBare(msg)
	if err != nil {
		return nil, NewErrorf(CodeInvalidDecoding, "%v", err)
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, ordinal)
	out = append(out, body...)
	return out, nil
}

// MustSerialize is Serialize for messages built by this process; it panics on
// the programming error of an unregistered type.
func MustSerialize(msg Message) []byte {
	out, err := Serialize(msg)
	if err != nil {
		panic(err)
	}
	return out
}

// Deserialize decodes a wire envelope and performs basic validation.
func Deserialize(bz []byte) (Message, error) {
	if len(bz) == 0 {
		return nil, NewErrorf(CodeInvalidDecoding, "empty message")
	}
	if len(bz) > maxMsgSize {
		return nil, NewErrorf(CodeInvalidDecoding, "message exceeds max size (%d > %d)", len(bz), maxMsgSize)
	}
	var msg Message
	switch bz[0] {
	case OrdinalOrder:
		msg = &TransferOrder{}
	case OrdinalVote:
		msg = &SignedTransferOrder{}
	case OrdinalCert:
		msg = &CertifiedTransferOrder{}
	case OrdinalCrossShard:
		msg = &CrossShardUpdate{}
	case OrdinalError:
		msg = &Error{}
	case OrdinalInfoReq:
		msg = &AccountInfoRequest{}
	case OrdinalInfoResp:
		msg = &AccountInfoResponse{}
	default:
		return nil, NewErrorf(CodeInvalidDecoding, "unknown message ordinal 0x%02x", bz[0])
	}
	if err := cdc.UnmarshalBinaryBare(bz[1:], msg); err != nil {
		return nil, NewErrorf(CodeInvalidDecoding, "%v", err)
	}
	if err := msg.ValidateBasic(); err != nil {
		return nil, err
	}
	return msg, nil
}
