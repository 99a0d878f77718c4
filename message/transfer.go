package message

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Address tag bytes, fixed by the canonical encoding.
const (
	addressTagPrimary byte = 0x00
	addressTagFastPay byte = 0x01
)

// Address is the destination of a transfer: either a Primary account outside
// the system (value leaves FastPay) or a FastPay account inside it. Exactly
// one branch is set.
type Address struct {
	Primary *PublicKeyBytes
	FastPay AccountId
}

func PrimaryAddress(key PublicKeyBytes) Address {
	return Address{Primary: &key}
}

func FastPayAddress(id AccountId) Address {
	return Address{FastPay: id.Copy()}
}

func (a Address) IsFastPay() bool {
	return a.FastPay != nil
}

// FastPayId returns the recipient account id for in-system addresses.
func (a Address) FastPayId() (AccountId, bool) {
	if a.FastPay == nil {
		return nil, false
	}
	return a.FastPay, true
}

func (a Address) Equal(other Address) bool {
	if (a.Primary == nil) != (other.Primary == nil) {
		return false
	}
	if a.Primary != nil && *a.Primary != *other.Primary {
		return false
	}
	if (a.FastPay == nil) != (other.FastPay == nil) {
		return false
	}
	return a.FastPay == nil || a.FastPay.Equal(other.FastPay)
}

func (a Address) ValidateBasic() error {
	if (a.Primary == nil) == (a.FastPay == nil) {
		return NewErrorf(CodeInvalidDecoding, "address must have exactly one branch")
	}
	if a.FastPay != nil && len(a.FastPay) == 0 {
		return NewErrorf(CodeInvalidDecoding, "empty recipient account id")
	}
	return nil
}

func (a Address) String() string {
	if a.Primary != nil {
		return "Primary(" + a.Primary.String() + ")"
	}
	return "FastPay(" + a.FastPay.String() + ")"
}

// The amino form mirrors the canonical tag + payload layout.
type addressRepr struct {
	Tag     byte
	Primary PublicKeyBytes
	FastPay AccountId
}

func (a Address) MarshalAmino() (addressRepr, error) {
	if a.Primary != nil {
		return addressRepr{Tag: addressTagPrimary, Primary: *a.Primary}, nil
	}
	return addressRepr{Tag: addressTagFastPay, FastPay: a.FastPay}, nil
}

func (a *Address) UnmarshalAmino(repr addressRepr) error {
	switch repr.Tag {
	case addressTagPrimary:
		key := repr.Primary
		*a = Address{Primary: &key}
	case addressTagFastPay:
		*a = Address{FastPay: repr.FastPay}
	default:
		return NewErrorf(CodeInvalidDecoding, "unknown address tag 0x%02x", repr.Tag)
	}
	return nil
}

func (a Address) writeTo(buf *bytes.Buffer) {
	if a.Primary != nil {
		buf.WriteByte(addressTagPrimary)
		buf.Write(a.Primary[:])
		return
	}
	buf.WriteByte(addressTagFastPay)
	a.FastPay.writeTo(buf)
}

// Transfer is the intent to move Amount from Sender to Recipient at the given
// sequence number.
type Transfer struct {
	Sender         AccountId
	Recipient      Address
	Amount         Amount
	SequenceNumber SequenceNumber
	UserData       UserData
}

// Digest returns the canonical signable bytes of the transfer. Field order is
// fixed; owner signatures cover exactly these bytes.
func (t *Transfer) Digest() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("Transfer::")
	t.Sender.writeTo(buf)
	t.Recipient.writeTo(buf)
	binary.Write(buf, binary.BigEndian, uint64(t.Amount))
	binary.Write(buf, binary.BigEndian, uint64(t.SequenceNumber))
	if t.UserData == nil {
		buf.WriteByte(0)
	} else {
		buf.WriteByte(1)
		buf.Write(t.UserData)
	}
	return buf.Bytes()
}

func (t *Transfer) Equal(other *Transfer) bool {
	return t.Sender.Equal(other.Sender) &&
		t.Recipient.Equal(other.Recipient) &&
		t.Amount == other.Amount &&
		t.SequenceNumber == other.SequenceNumber &&
		t.UserData.Equal(other.UserData)
}

// IsOpenAccount reports whether this transfer mints a new sub-account: the
// recipient extends the sender id with exactly this transfer's sequence
// number and the memo carries the new owner key.
func (t *Transfer) IsOpenAccount() bool {
	id, ok := t.Recipient.FastPayId()
	if !ok || len(t.UserData) != UserDataLength {
		return false
	}
	parent, ok := id.Parent()
	if !ok {
		return false
	}
	return parent.Equal(t.Sender) && id[len(id)-1] == t.SequenceNumber
}

// OpenedOwner returns the owner key of the account minted by an
// account-opening transfer.
func (t *Transfer) OpenedOwner() (PublicKeyBytes, bool) {
	if !t.IsOpenAccount() {
		return PublicKeyBytes{}, false
	}
	var owner PublicKeyBytes
	copy(owner[:], t.UserData)
	return owner, true
}

func (t *Transfer) ValidateBasic() error {
	if len(t.Sender) == 0 {
		return NewErrorf(CodeInvalidDecoding, "transfer without sender")
	}
	if err := t.Recipient.ValidateBasic(); err != nil {
		return err
	}
	if !t.UserData.Valid() {
		return NewErrorf(CodeInvalidDecoding, "user data must be exactly %d bytes", UserDataLength)
	}
	if t.SequenceNumber > maxSequenceNumber {
		return NewError(CodeInvalidSequenceNumber)
	}
	if t.Amount == 0 && !t.IsOpenAccount() {
		return NewError(CodeIncorrectTransferAmount)
	}
	return nil
}

// TransferOrder is a transfer authenticated by the sending account's owner.
// The owner key may differ from the account id, which is why it travels with
// the order.
type TransferOrder struct {
	Transfer  Transfer
	Owner     PublicKeyBytes
	Signature Signature
}

func NewTransferOrder(transfer Transfer, owner *KeyPair) *TransferOrder {
	return &TransferOrder{
		Transfer:  transfer,
		Owner:     owner.GetPubKey(),
		Signature: owner.Sign(transfer.Digest()),
	}
}

// Digest returns the canonical bytes covered by authority votes: the full
// order including the owner's signature.
func (o *TransferOrder) Digest() []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("TransferOrder::")
	buf.Write(o.Transfer.Digest())
	buf.Write(o.Owner[:])
	buf.Write(o.Signature[:])
	return buf.Bytes()
}

// CheckSignature verifies the owner's signature over the transfer.
func (o *TransferOrder) CheckSignature() error {
	if !VerifySignature(o.Owner, o.Transfer.Digest(), o.Signature) {
		return NewError(CodeInvalidSignature)
	}
	return nil
}

func (o *TransferOrder) Equal(other *TransferOrder) bool {
	return o.Transfer.Equal(&other.Transfer) &&
		o.Owner == other.Owner &&
		o.Signature == other.Signature
}

func (o *TransferOrder) ValidateBasic() error {
	return o.Transfer.ValidateBasic()
}

func (o *TransferOrder) String() string {
	return fmt.Sprintf("TransferOrder{%s->%s amount %d seq %d by %s}",
		o.Transfer.Sender, o.Transfer.Recipient, o.Transfer.Amount,
		o.Transfer.SequenceNumber, Fingerprint(o.Owner[:]))
}

// SignedTransferOrder is a single authority's vote on a transfer order.
type SignedTransferOrder struct {
	Value     TransferOrder
	Authority PublicKeyBytes
	Signature Signature
}

func NewSignedTransferOrder(value TransferOrder, authority *KeyPair) *SignedTransferOrder {
	return &SignedTransferOrder{
		Value:     value,
		Authority: authority.GetPubKey(),
		Signature: authority.Sign(value.Digest()),
	}
}

// CheckSignature verifies the authority's signature; committee membership is
// checked separately against a committee snapshot.
func (v *SignedTransferOrder) CheckSignature() error {
	if err := v.Value.CheckSignature(); err != nil {
		return err
	}
	if !VerifySignature(v.Authority, v.Value.Digest(), v.Signature) {
		return NewError(CodeInvalidSignature)
	}
	return nil
}

func (v *SignedTransferOrder) Equal(other *SignedTransferOrder) bool {
	return v.Value.Equal(&other.Value) &&
		v.Authority == other.Authority &&
		v.Signature == other.Signature
}

func (v *SignedTransferOrder) ValidateBasic() error {
	return v.Value.ValidateBasic()
}

func (v *SignedTransferOrder) String() string {
	return fmt.Sprintf("Vote{%s by %s}", v.Value.String(), Fingerprint(v.Authority[:]))
}

// AuthoritySignature is one (authority, signature) pair of a certificate.
type AuthoritySignature struct {
	Authority PublicKeyBytes
	Signature Signature
}

// CertifiedTransferOrder is a transfer order together with a quorum of
// distinct authority signatures. It is self-authenticating: anyone holding a
// committee snapshot can verify it offline.
type CertifiedTransferOrder struct {
	Value      TransferOrder
	Signatures []AuthoritySignature
}

// Key identifies the certified transfer by content: certificates for the same
// (sender, sequence number) are the same logical transfer regardless of which
// quorum signed them.
func (c *CertifiedTransferOrder) Key() string {
	buf := &bytes.Buffer{}
	c.Value.Transfer.Sender.writeTo(buf)
	binary.Write(buf, binary.BigEndian, uint64(c.Value.Transfer.SequenceNumber))
	return buf.String()
}

func (c *CertifiedTransferOrder) ValidateBasic() error {
	if len(c.Signatures) == 0 {
		return NewError(CodeCertificateRequiresQuorum)
	}
	return c.Value.ValidateBasic()
}

func (c *CertifiedTransferOrder) String() string {
	return fmt.Sprintf("Cert{%s signers %d}", c.Value.String(), len(c.Signatures))
}

// CrossShardUpdate credits the recipient account on another shard of the same
// authority. Delivery is at-least-once; receivers de-duplicate by certificate
// key.
type CrossShardUpdate struct {
	ShardId     ShardID
	Certificate CertifiedTransferOrder
}

func (u *CrossShardUpdate) ValidateBasic() error {
	return u.Certificate.ValidateBasic()
}

// AccountInfoRequest is the read-only query of an account's state, optionally
// asking for a past certificate or the tail of the received log.
type AccountInfoRequest struct {
	AccountId AccountId

	// If set, also return the confirmed certificate at this sequence number.
	RequestSequenceNumber *SequenceNumber

	// If set, also return received certificates, skipping the first n.
	RequestReceivedTransfersExcludingFirstNth *uint64
}

func (r *AccountInfoRequest) ValidateBasic() error {
	if len(r.AccountId) == 0 {
		return NewErrorf(CodeInvalidDecoding, "info request without account id")
	}
	return nil
}

// The amino form flattens the optional fields; pointers to scalars do not
// survive the codec.
type accountInfoRequestRepr struct {
	AccountId              AccountId
	HasSequenceNumber      bool
	SequenceNumber         SequenceNumber
	HasReceivedTransfers   bool
	ReceivedTransfersFirst uint64
}

func (r AccountInfoRequest) MarshalAmino() (accountInfoRequestRepr, error) {
	repr := accountInfoRequestRepr{AccountId: r.AccountId}
	if r.RequestSequenceNumber != nil {
		repr.HasSequenceNumber = true
		repr.SequenceNumber = *r.RequestSequenceNumber
	}
	if r.RequestReceivedTransfersExcludingFirstNth != nil {
		repr.HasReceivedTransfers = true
		repr.ReceivedTransfersFirst = *r.RequestReceivedTransfersExcludingFirstNth
	}
	return repr, nil
}

func (r *AccountInfoRequest) UnmarshalAmino(repr accountInfoRequestRepr) error {
	r.AccountId = repr.AccountId
	if repr.HasSequenceNumber {
		n := repr.SequenceNumber
		r.RequestSequenceNumber = &n
	}
	if repr.HasReceivedTransfers {
		n := repr.ReceivedTransfersFirst
		r.RequestReceivedTransfersExcludingFirstNth = &n
	}
	return nil
}

// AccountInfoResponse is the authority's answer to any successful operation
// or info request.
type AccountInfoResponse struct {
	AccountId                  AccountId
	Owner                      PublicKeyBytes
	Balance                    Balance
	NextSequenceNumber         SequenceNumber
	Pending                    *SignedTransferOrder
	RequestedCertificate       *CertifiedTransferOrder
	RequestedReceivedTransfers []CertifiedTransferOrder
}

func (r *AccountInfoResponse) ValidateBasic() error {
	if len(r.AccountId) == 0 {
		return NewErrorf(CodeInvalidDecoding, "info response without account id")
	}
	return nil
}
