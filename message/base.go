package message

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Amount is a non-negative quantity of value being moved by a single transfer.
type Amount uint64

// SequenceNumber tracks outgoing transfers of one account. It starts at 0 and
// increases by exactly 1 for every confirmed certificate.
type SequenceNumber uint64

// ShardID identifies one shard of an authority.
type ShardID uint32

// maxSequenceNumber bounds usable sequence numbers so that account id
// derivation and log indexing never run into the sign bit of an int64.
const maxSequenceNumber = SequenceNumber(0x7fffffffffffffff)

func (a Amount) TryAdd(other Amount) (Amount, error) {
	sum := a + other
	if sum < a {
		return 0, NewError(CodeAmountOverflow)
	}
	return sum, nil
}

func (a Amount) TrySub(other Amount) (Amount, error) {
	if other > a {
		return 0, NewError(CodeAmountUnderflow)
	}
	return a - other, nil
}

func (s SequenceNumber) Increment() (SequenceNumber, error) {
	if s >= maxSequenceNumber {
		return 0, NewError(CodeSequenceOverflow)
	}
	return s + 1, nil
}

func (s SequenceNumber) Decrement() (SequenceNumber, error) {
	if s == 0 {
		return 0, NewError(CodeSequenceUnderflow)
	}
	return s - 1, nil
}

// Balance is the signed 128-bit balance of an account. The extra headroom over
// Amount lets intermediate arithmetic go negative or exceed 2^64 without
// trapping; the externally visible invariant is still balance >= 0.
//
// The zero value is a zero balance and ready to use.
type Balance struct {
	i *big.Int
}

var (
	balanceMax = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	balanceMin = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

func NewBalance(v int64) Balance {
	return Balance{i: big.NewInt(v)}
}

// MaxBalance is the saturation point for recipient credits.
func MaxBalance() Balance {
	return Balance{i: new(big.Int).Set(balanceMax)}
}

func (a Amount) Balance() Balance {
	return Balance{i: new(big.Int).SetUint64(uint64(a))}
}

func (b Balance) value() *big.Int {
	if b.i == nil {
		return big.NewInt(0)
	}
	return b.i
}

func (b Balance) TryAdd(other Balance) (Balance, error) {
	sum := new(big.Int).Add(b.value(), other.value())
	if sum.Cmp(balanceMax) > 0 {
		return Balance{}, NewError(CodeBalanceOverflow)
	}
	if sum.Cmp(balanceMin) < 0 {
		return Balance{}, NewError(CodeBalanceUnderflow)
	}
	return Balance{i: sum}, nil
}

func (b Balance) TrySub(other Balance) (Balance, error) {
	diff := new(big.Int).Sub(b.value(), other.value())
	if diff.Cmp(balanceMax) > 0 {
		return Balance{}, NewError(CodeBalanceOverflow)
	}
	if diff.Cmp(balanceMin) < 0 {
		return Balance{}, NewError(CodeBalanceUnderflow)
	}
	return Balance{i: diff}, nil
}

// SaturatingAdd credits without failing: the result caps at the maximal
// balance. Used when applying certified credits, which must never be dropped.
func (b Balance) SaturatingAdd(other Balance) Balance {
	sum, err := b.TryAdd(other)
	if err != nil {
		return MaxBalance()
	}
	return sum
}

func (b Balance) Cmp(other Balance) int {
	return b.value().Cmp(other.value())
}

func (b Balance) Sign() int {
	return b.value().Sign()
}

func (b Balance) Equal(other Balance) bool {
	return b.Cmp(other) == 0
}

func (b Balance) String() string {
	return b.value().String()
}

func ParseBalance(s string) (Balance, error) {
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Balance{}, errors.Errorf("invalid balance %q", s)
	}
	if i.Cmp(balanceMax) > 0 || i.Cmp(balanceMin) < 0 {
		return Balance{}, errors.Errorf("balance %q out of range", s)
	}
	return Balance{i: i}, nil
}

func (b Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

func (b *Balance) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseBalance(s)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

func (b Balance) MarshalAmino() (string, error) {
	return b.String(), nil
}

func (b *Balance) UnmarshalAmino(s string) error {
	v, err := ParseBalance(s)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// AccountId names an account as the path of sequence numbers that derived it.
// A child account extends its parent's id with the parent's sequence number at
// derivation time, so ids are collision-free without a name service. Most ids
// have one or two elements.
type AccountId []SequenceNumber

func NewAccountId(numbers ...SequenceNumber) AccountId {
	if len(numbers) == 0 {
		panic("account id must not be empty")
	}
	id := make(AccountId, len(numbers))
	copy(id, numbers)
	return id
}

func (id AccountId) Copy() AccountId {
	out := make(AccountId, len(id))
	copy(out, id)
	return out
}

// Parent returns the id this account was derived from, or false for a root id.
func (id AccountId) Parent() (AccountId, bool) {
	if len(id) <= 1 {
		return nil, false
	}
	return id[:len(id)-1].Copy(), true
}

// MakeChild derives the id of a sub-account opened at the given sequence
// number.
func (id AccountId) MakeChild(num SequenceNumber) AccountId {
	child := make(AccountId, len(id)+1)
	copy(child, id)
	child[len(id)] = num
	return child
}

func (id AccountId) Equal(other AccountId) bool {
	if len(id) != len(other) {
		return false
	}
	for i := range id {
		if id[i] != other[i] {
			return false
		}
	}
	return true
}

// Key returns the canonical map key for this id: the length-prefixed sequence
// of 8-byte big-endian numbers.
func (id AccountId) Key() string {
	buf := &bytes.Buffer{}
	id.writeTo(buf)
	return buf.String()
}

func (id AccountId) writeTo(buf *bytes.Buffer) {
	binary.Write(buf, binary.BigEndian, uint32(len(id)))
	for _, n := range id {
		binary.Write(buf, binary.BigEndian, uint64(n))
	}
}

func (id AccountId) String() string {
	parts := make([]string, len(id))
	for i, n := range id {
		parts[i] = strconv.FormatUint(uint64(n), 10)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func ParseAccountId(s string) (AccountId, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, errors.New("empty account id")
	}
	parts := strings.Split(s, ",")
	id := make(AccountId, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid account id %q", s)
		}
		if SequenceNumber(n) > maxSequenceNumber {
			return nil, errors.Errorf("account id element %d out of range", n)
		}
		id[i] = SequenceNumber(n)
	}
	return id, nil
}

func (id AccountId) MarshalJSON() ([]byte, error) {
	return json.Marshal([]SequenceNumber(id))
}

func (id *AccountId) UnmarshalJSON(data []byte) error {
	var numbers []SequenceNumber
	if err := json.Unmarshal(data, &numbers); err != nil {
		return err
	}
	*id = numbers
	return nil
}

// PublicKeyLength is the size of an identity key.
const PublicKeyLength = 32

// SignatureLength is the size of an Ed25519 signature.
const SignatureLength = 64

// PublicKeyBytes identifies an account owner or an authority.
type PublicKeyBytes [PublicKeyLength]byte

// Signature is a detached Ed25519 signature over canonical message bytes.
type Signature [SignatureLength]byte

// UserData is an optional 32-byte opaque memo attached to a transfer: either
// nil or exactly 32 bytes. For account-opening transfers it carries the new
// account's owner key.
type UserData []byte

// UserDataLength is the size of a non-empty memo.
const UserDataLength = 32

func (u UserData) Valid() bool {
	return u == nil || len(u) == UserDataLength
}

func (u UserData) Equal(other UserData) bool {
	return bytes.Equal(u, other)
}

func (p PublicKeyBytes) String() string {
	return hex.EncodeToString(p[:])
}

func ParsePublicKeyBytes(s string) (PublicKeyBytes, error) {
	var pk PublicKeyBytes
	raw, err := hex.DecodeString(s)
	if err != nil {
		return pk, errors.Wrap(err, "invalid public key")
	}
	if len(raw) != PublicKeyLength {
		return pk, errors.Errorf("invalid public key length %d", len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

func (p PublicKeyBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *PublicKeyBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	pk, err := ParsePublicKeyBytes(s)
	if err != nil {
		return err
	}
	*p = pk
	return nil
}

func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

// Fingerprint renders a short prefix for logs.
func Fingerprint(data []byte) string {
	if len(data) > 6 {
		data = data[:6]
	}
	return fmt.Sprintf("%X", data)
}
