package fastpay

import (
	"github.com/novifinancial/fastpay/message"
)

// AccountOffchainState is what an authority shard holds for one account it
// owns. It is owned exclusively by the shard's writer.
type AccountOffchainState struct {
	// Owner is the key authorized to sign transfer orders for this account.
	Owner message.PublicKeyBytes
	// Balance of the account. Never negative at an observable boundary.
	Balance message.Balance
	// NextSequenceNumber tracks confirmed outgoing transfers.
	NextSequenceNumber message.SequenceNumber
	// Pending is this authority's vote on the transfer at
	// NextSequenceNumber, if any. Having at most one pending vote is what
	// serializes an account without a lock.
	Pending *message.SignedTransferOrder
	// ConfirmedLog holds every certified transfer out of this account, in
	// sequence-number order.
	ConfirmedLog []message.CertifiedTransferOrder
	// ReceivedLog holds every certified transfer credited to this account.
	ReceivedLog []message.CertifiedTransferOrder

	// receivedKeys de-duplicates cross-shard credits (at-least-once channel).
	receivedKeys map[string]struct{}
}

func NewAccountOffchainState(owner message.PublicKeyBytes) *AccountOffchainState {
	return &AccountOffchainState{
		Owner:        owner,
		receivedKeys: make(map[string]struct{}),
	}
}

func NewAccountWithBalance(owner message.PublicKeyBytes, balance message.Balance) *AccountOffchainState {
	account := NewAccountOffchainState(owner)
	account.Balance = balance
	return account
}

// HasReceived reports whether a certified credit was already applied.
func (a *AccountOffchainState) HasReceived(cert *message.CertifiedTransferOrder) bool {
	_, ok := a.receivedKeys[cert.Key()]
	return ok
}

// Credit applies a certified incoming transfer exactly once. Credits saturate
// at the maximal balance rather than fail: a certificate must never be
// dropped.
func (a *AccountOffchainState) Credit(cert *message.CertifiedTransferOrder) bool {
	key := cert.Key()
	if _, ok := a.receivedKeys[key]; ok {
		return false
	}
	a.receivedKeys[key] = struct{}{}
	a.Balance = a.Balance.SaturatingAdd(cert.Value.Transfer.Amount.Balance())
	a.ReceivedLog = append(a.ReceivedLog, *cert)
	return true
}

// MakeAccountInfo snapshots the account for a response.
func (a *AccountOffchainState) MakeAccountInfo(id message.AccountId) *message.AccountInfoResponse {
	return &message.AccountInfoResponse{
		AccountId:          id.Copy(),
		Owner:              a.Owner,
		Balance:            a.Balance,
		NextSequenceNumber: a.NextSequenceNumber,
		Pending:            a.Pending,
	}
}
