package fastpay

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/novifinancial/fastpay/custom"
	"github.com/novifinancial/fastpay/message"
)

// ShardFor maps an account to a shard: the first sequence number of the id
// modulo the shard count. The mapping is part of the protocol (v1) — clients
// and every shard of every authority must agree on it.
func ShardFor(id message.AccountId, numShards uint32) message.ShardID {
	if numShards == 0 {
		return 0
	}
	return message.ShardID(uint64(id[0]) % uint64(numShards))
}

/*
	AuthorityState is one shard of one authority: a single-writer state
	machine over the accounts this shard owns. Operations on any one account
	are serialized under the shard mutex; across shards the only coupling is
	the asynchronous cross-shard channel.

	Handlers never panic on user input and never throw: every rejection is a
	typed *message.Error carrying the context the client needs to recover.
*/
type AuthorityState struct {
	// Name is the authority's public key.
	Name message.PublicKeyBytes
	// Committee of this FastPay instance.
	Committee *Committee

	secret    custom.ISigner
	shardId   message.ShardID
	numShards uint32

	mtx      sync.Mutex
	accounts map[string]*AccountOffchainState

	logger *log.Logger
}

func NewAuthorityState(committee *Committee, secret custom.ISigner) *AuthorityState {
	return NewAuthorityShard(committee, secret, 0, 1)
}

func NewAuthorityShard(committee *Committee, secret custom.ISigner, shardId message.ShardID, numShards uint32) *AuthorityState {
	return &AuthorityState{
		Name:      secret.GetPubKey(),
		Committee: committee,
		secret:    secret,
		shardId:   shardId,
		numShards: numShards,
		accounts:  make(map[string]*AccountOffchainState),
		logger:    log.StandardLogger(),
	}
}

func (s *AuthorityState) SetLogger(lg *log.Logger) {
	s.logger = lg
}

func (s *AuthorityState) ShardId() message.ShardID {
	return s.shardId
}

func (s *AuthorityState) NumShards() uint32 {
	return s.numShards
}

func (s *AuthorityState) InShard(id message.AccountId) bool {
	return s.WhichShard(id) == s.shardId
}

func (s *AuthorityState) WhichShard(id message.AccountId) message.ShardID {
	return ShardFor(id, s.numShards)
}

// InsertAccount seeds an account at genesis.
func (s *AuthorityState) InsertAccount(id message.AccountId, account *AccountOffchainState) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.accounts[id.Key()] = account
}

// Account returns the shard's record for an id, for tests and audits.
func (s *AuthorityState) Account(id message.AccountId) (*AccountOffchainState, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	account, ok := s.accounts[id.Key()]
	return account, ok
}

// HandleTransferOrder votes on a fresh transfer order.
//
// The vote is memoized: re-receiving the exact pending order returns the
// previously signed vote verbatim, which is what permits unbounded client
// retry over lossy transports. A different order at the same sequence number
// is rejected until the pending one confirms.
func (s *AuthorityState) HandleTransferOrder(order *message.TransferOrder) (*message.AccountInfoResponse, error) {
	if err := order.ValidateBasic(); err != nil {
		return nil, err
	}
	transfer := &order.Transfer
	if !s.InShard(transfer.Sender) {
		return nil, message.NewError(message.CodeWrongShard)
	}
	if err := order.CheckSignature(); err != nil {
		return nil, err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	account, ok := s.accounts[transfer.Sender.Key()]
	if !ok {
		return nil, message.ErrUnknownSenderAccount(transfer.Sender)
	}
	if account.Owner != order.Owner {
		return nil, message.NewError(message.CodeInvalidOwner)
	}
	if account.Pending != nil {
		if !account.Pending.Value.Transfer.Equal(transfer) {
			return nil, message.ErrPreviousTransferMustBeConfirmedFirst(account.Pending)
		}
		// Exact replay of the order we already signed: answer as before.
		return account.MakeAccountInfo(transfer.Sender), nil
	}
	if account.NextSequenceNumber != transfer.SequenceNumber {
		return nil, message.ErrUnexpectedSequenceNumber(account.NextSequenceNumber)
	}
	if account.Balance.Cmp(transfer.Amount.Balance()) < 0 {
		return nil, message.ErrInsufficientFunding(account.Balance)
	}

	account.Pending = &message.SignedTransferOrder{
		Value:     *order,
		Authority: s.Name,
		Signature: s.secret.Sign(order.Digest()),
	}
	s.logger.WithField("sender", transfer.Sender).
		WithField("seq", transfer.SequenceNumber).
		Debug("signed transfer order")
	return account.MakeAccountInfo(transfer.Sender), nil
}

// HandleConfirmationOrder applies a certified transfer to the sender account
// and, for FastPay recipients on another shard, emits the cross-shard credit.
// Applying the same certificate twice is a no-op returning the same response.
func (s *AuthorityState) HandleConfirmationOrder(cert *message.CertifiedTransferOrder) (*message.AccountInfoResponse, *message.CrossShardUpdate, error) {
	if err := cert.ValidateBasic(); err != nil {
		return nil, nil, err
	}
	transfer := cert.Value.Transfer
	if !s.InShard(transfer.Sender) {
		return nil, nil, message.NewError(message.CodeWrongShard)
	}
	if err := s.Committee.CheckCertificate(cert); err != nil {
		return nil, nil, err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	// A valid certificate is proof enough that the account exists: quorum
	// decided. Materialize it with the certified owner if we have not seen it
	// before.
	account, ok := s.accounts[transfer.Sender.Key()]
	if !ok {
		account = NewAccountOffchainState(cert.Value.Owner)
		s.accounts[transfer.Sender.Key()] = account
	}

	if account.NextSequenceNumber > transfer.SequenceNumber {
		// Certificate was already applied.
		return account.MakeAccountInfo(transfer.Sender), nil, nil
	}
	if account.NextSequenceNumber < transfer.SequenceNumber {
		return nil, nil, message.ErrMissingEarlierConfirmations(account.NextSequenceNumber)
	}

	balance, err := account.Balance.TrySub(transfer.Amount.Balance())
	if err != nil {
		return nil, nil, err
	}
	if balance.Sign() < 0 {
		return nil, nil, message.ErrInsufficientFunding(account.Balance)
	}
	next, err := account.NextSequenceNumber.Increment()
	if err != nil {
		return nil, nil, err
	}

	// Commit. Nothing past this point may fail.
	account.Balance = balance
	account.NextSequenceNumber = next
	account.Pending = nil
	account.ConfirmedLog = append(account.ConfirmedLog, *cert)
	info := account.MakeAccountInfo(transfer.Sender)

	recipient, ok := transfer.Recipient.FastPayId()
	if !ok {
		// Value left FastPay; the debit stays on record for audit.
		return info, nil, nil
	}
	if s.InShard(recipient) {
		if err := s.creditRecipientLocked(recipient, cert); err != nil {
			// The sender commit above stands; the credit needs a recipient
			// account first.
			return nil, nil, err
		}
		return info, nil, nil
	}
	return info, &message.CrossShardUpdate{
		ShardId:     s.WhichShard(recipient),
		Certificate: *cert,
	}, nil
}

// HandleCrossShardUpdate credits the recipient account of a certified
// transfer owned by this shard. Delivery is at-least-once: replays are
// detected by certificate key and ignored.
func (s *AuthorityState) HandleCrossShardUpdate(update *message.CrossShardUpdate) error {
	cert := &update.Certificate
	if err := cert.ValidateBasic(); err != nil {
		return err
	}
	recipient, ok := cert.Value.Transfer.Recipient.FastPayId()
	if !ok {
		return message.NewError(message.CodeInvalidCrossShardUpdate)
	}
	if !s.InShard(recipient) {
		return message.NewError(message.CodeWrongShard)
	}
	if err := s.Committee.CheckCertificate(cert); err != nil {
		return err
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.creditRecipientLocked(recipient, cert)
}

// creditRecipientLocked credits a FastPay recipient, creating the account on
// the fly for account-opening transfers. Callers hold the shard mutex and
// have verified the certificate. An unknown recipient that the transfer does
// not open is an error so that the at-least-once channel keeps retrying.
func (s *AuthorityState) creditRecipientLocked(recipient message.AccountId, cert *message.CertifiedTransferOrder) error {
	account, ok := s.accounts[recipient.Key()]
	if !ok {
		owner, opened := cert.Value.Transfer.OpenedOwner()
		if !opened {
			return message.ErrUnknownRecipientAccount(recipient)
		}
		account = NewAccountOffchainState(owner)
		s.accounts[recipient.Key()] = account
	}
	if !account.Credit(cert) {
		s.logger.WithField("recipient", recipient).
			Debug("ignoring replayed cross-shard credit")
	}
	return nil
}

// HandleAccountInfoRequest reads account state, optionally returning a past
// certificate and a slice of the received log for synchronization.
func (s *AuthorityState) HandleAccountInfoRequest(req *message.AccountInfoRequest) (*message.AccountInfoResponse, error) {
	if err := req.ValidateBasic(); err != nil {
		return nil, err
	}
	if !s.InShard(req.AccountId) {
		return nil, message.NewError(message.CodeWrongShard)
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	account, ok := s.accounts[req.AccountId.Key()]
	if !ok {
		return nil, message.ErrUnknownSenderAccount(req.AccountId)
	}
	info := account.MakeAccountInfo(req.AccountId)
	if req.RequestSequenceNumber != nil {
		idx := uint64(*req.RequestSequenceNumber)
		if idx >= uint64(len(account.ConfirmedLog)) {
			return nil, message.NewError(message.CodeCertificateNotFound)
		}
		cert := account.ConfirmedLog[idx]
		info.RequestedCertificate = &cert
	}
	if req.RequestReceivedTransfersExcludingFirstNth != nil {
		idx := *req.RequestReceivedTransfersExcludingFirstNth
		if idx < uint64(len(account.ReceivedLog)) {
			info.RequestedReceivedTransfers = append(
				[]message.CertifiedTransferOrder(nil), account.ReceivedLog[idx:]...)
		}
	}
	return info, nil
}
