package fastpay

import (
	"context"
	"math/rand"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/novifinancial/fastpay/custom"
	"github.com/novifinancial/fastpay/message"
)

/*
	AccountClientState drives one account through the two-phase protocol
	against the whole committee:

	phase 1 — broadcast a transfer order to every authority and collect
	signed votes until quorum weight agrees on the exact same order content,
	then assemble the certificate;

	phase 2 — broadcast the certificate until a quorum has applied it. The
	certificate is already proof of finality after phase 1; phase 2 exists to
	credit the recipient and unblock this account's next sequence number.

	The state is single-writer: all methods must be called from one goroutine
	(drive many accounts concurrently with one client each).
*/
type AccountClientState struct {
	accountId message.AccountId
	secret    custom.ISigner
	committee *Committee
	clients   map[message.PublicKeyBytes]custom.IAuthorityClient

	nextSequenceNumber message.SequenceNumber
	balance            message.Balance
	pendingTransfer    *message.TransferOrder

	// sentCertificates[i] has sequence number i once fully synchronized.
	sentCertificates []message.CertifiedTransferOrder
	// receivedCertificates is keyed by certificate identity.
	receivedCertificates map[string]message.CertifiedTransferOrder
	// receivedTrackers remembers how much of each authority's received log
	// was already fetched.
	receivedTrackers map[message.PublicKeyBytes]uint64

	logger *log.Logger
}

func NewAccountClientState(
	accountId message.AccountId,
	secret custom.ISigner,
	committee *Committee,
	clients map[message.PublicKeyBytes]custom.IAuthorityClient,
	nextSequenceNumber message.SequenceNumber,
	balance message.Balance,
	sentCertificates []message.CertifiedTransferOrder,
	receivedCertificates []message.CertifiedTransferOrder,
) *AccountClientState {
	received := make(map[string]message.CertifiedTransferOrder, len(receivedCertificates))
	for _, cert := range receivedCertificates {
		received[cert.Key()] = cert
	}
	return &AccountClientState{
		accountId:            accountId.Copy(),
		secret:               secret,
		committee:            committee,
		clients:              clients,
		nextSequenceNumber:   nextSequenceNumber,
		balance:              balance,
		sentCertificates:     append([]message.CertifiedTransferOrder(nil), sentCertificates...),
		receivedCertificates: received,
		receivedTrackers:     make(map[message.PublicKeyBytes]uint64),
		logger:               log.StandardLogger(),
	}
}

func (c *AccountClientState) SetLogger(lg *log.Logger) {
	c.logger = lg
}

func (c *AccountClientState) AccountId() message.AccountId {
	return c.accountId
}

func (c *AccountClientState) Owner() message.PublicKeyBytes {
	return c.secret.GetPubKey()
}

func (c *AccountClientState) NextSequenceNumber() message.SequenceNumber {
	return c.nextSequenceNumber
}

func (c *AccountClientState) Balance() message.Balance {
	return c.balance
}

func (c *AccountClientState) PendingTransfer() *message.TransferOrder {
	return c.pendingTransfer
}

func (c *AccountClientState) SentCertificates() []message.CertifiedTransferOrder {
	return c.sentCertificates
}

func (c *AccountClientState) ReceivedCertificates() []message.CertifiedTransferOrder {
	out := make([]message.CertifiedTransferOrder, 0, len(c.receivedCertificates))
	for _, cert := range c.receivedCertificates {
		out = append(out, cert)
	}
	return out
}

// TransferToFastPay sends money to another FastPay account and returns the
// certificate proving finality.
func (c *AccountClientState) TransferToFastPay(ctx context.Context, amount message.Amount, recipient message.AccountId, userData message.UserData) (*message.CertifiedTransferOrder, error) {
	return c.transfer(ctx, amount, message.FastPayAddress(recipient), userData)
}

// TransferToPrimary sends money out of the system.
func (c *AccountClientState) TransferToPrimary(ctx context.Context, amount message.Amount, recipient message.PublicKeyBytes, userData message.UserData) (*message.CertifiedTransferOrder, error) {
	return c.transfer(ctx, amount, message.PrimaryAddress(recipient), userData)
}

func (c *AccountClientState) transfer(ctx context.Context, amount message.Amount, recipient message.Address, userData message.UserData) (*message.CertifiedTransferOrder, error) {
	if amount == 0 {
		return nil, message.NewError(message.CodeIncorrectTransferAmount)
	}
	// Trying to overspend would block the account on a pending order no
	// authority will ever sign. Compare against the balance as we know it.
	if c.balance.Cmp(amount.Balance()) < 0 {
		return nil, ErrInsufficientBalance
	}
	order := message.NewTransferOrder(message.Transfer{
		Sender:         c.accountId.Copy(),
		Recipient:      recipient,
		Amount:         amount,
		SequenceNumber: c.nextSequenceNumber,
		UserData:       userData,
	}, c.keyPair())
	return c.executeConfirmingOrder(ctx, order)
}

// OpenAccount derives a child account id from this account's current sequence
// number and certifies an opening transfer for it. The first application of
// the certificate on the child's shard creates the account with the given
// owner key.
func (c *AccountClientState) OpenAccount(ctx context.Context, newOwner message.PublicKeyBytes) (message.AccountId, *message.CertifiedTransferOrder, error) {
	childId := c.accountId.MakeChild(c.nextSequenceNumber)
	order := message.NewTransferOrder(message.Transfer{
		Sender:         c.accountId.Copy(),
		Recipient:      message.FastPayAddress(childId),
		Amount:         0,
		SequenceNumber: c.nextSequenceNumber,
		UserData:       newOwner[:],
	}, c.keyPair())
	cert, err := c.executeConfirmingOrder(ctx, order)
	if err != nil {
		return nil, nil, err
	}
	return childId, cert, nil
}

// ReceiveFromFastPay deposits a certificate obtained out of band: it drives
// the sender's account forward on every authority (which credits us) and then
// updates the local balance.
func (c *AccountClientState) ReceiveFromFastPay(ctx context.Context, cert *message.CertifiedTransferOrder) error {
	if err := c.committee.CheckCertificate(cert); err != nil {
		return err
	}
	transfer := &cert.Value.Transfer
	recipient, ok := transfer.Recipient.FastPayId()
	if !ok || !recipient.Equal(c.accountId) {
		return ErrNotRecipient
	}
	target, err := transfer.SequenceNumber.Increment()
	if err != nil {
		return err
	}
	_, err = c.communicateOrders(ctx, transfer.Sender,
		[]message.CertifiedTransferOrder{*cert},
		communicateAction{targetSequenceNumber: target})
	if err != nil {
		return err
	}
	c.creditLocal(cert)
	return nil
}

// SynchronizeSent brings the local sent-certificate log and sequence number
// up to what a strong majority of authorities report.
func (c *AccountClientState) SynchronizeSent(ctx context.Context) error {
	seq, err := c.QueryStrongMajoritySequenceNumber(ctx)
	if err != nil {
		return err
	}
	if seq > c.nextSequenceNumber {
		c.nextSequenceNumber = seq
	}
	return c.downloadMissingSentCertificates(ctx)
}

// SynchronizeReceived fetches the tail of every authority's received log for
// this account and applies new credits locally. Certificates are
// self-authenticating, so each one counts as soon as it verifies.
func (c *AccountClientState) SynchronizeReceived(ctx context.Context) error {
	type tail struct {
		name  message.PublicKeyBytes
		resp  *message.AccountInfoResponse
		start uint64
	}
	trackers := make(map[message.PublicKeyBytes]uint64, len(c.receivedTrackers))
	for name, n := range c.receivedTrackers {
		trackers[name] = n
	}
	accountId := c.accountId
	committee := c.committee
	tails, err := communicateWithQuorum(ctx, c,
		func(ctx context.Context, name message.PublicKeyBytes, client custom.IAuthorityClient) (tail, error) {
			start := trackers[name]
			req := &message.AccountInfoRequest{
				AccountId: accountId,
				RequestReceivedTransfersExcludingFirstNth: &start,
			}
			resp, err := client.HandleAccountInfoRequest(ctx, req)
			if err != nil {
				return tail{}, err
			}
			for i := range resp.RequestedReceivedTransfers {
				cert := &resp.RequestedReceivedTransfers[i]
				if err := committee.CheckCertificate(cert); err != nil {
					return tail{}, err
				}
				recipient, ok := cert.Value.Transfer.Recipient.FastPayId()
				if !ok || !recipient.Equal(accountId) {
					return tail{}, ErrNotRecipient
				}
			}
			return tail{name: name, resp: resp, start: start}, nil
		})
	if err != nil {
		return err
	}
	for _, t := range tails {
		for i := range t.resp.RequestedReceivedTransfers {
			c.creditLocal(&t.resp.RequestedReceivedTransfers[i])
		}
		c.receivedTrackers[t.name] = t.start + uint64(len(t.resp.RequestedReceivedTransfers))
	}
	return nil
}

// QueryStrongMajorityBalance returns the highest balance backed by a quorum
// of authorities. Reliable in the synchronous model with sufficient timeouts.
func (c *AccountClientState) QueryStrongMajorityBalance(ctx context.Context) (message.Balance, error) {
	values, err := c.queryAll(ctx)
	if err != nil {
		return message.Balance{}, err
	}
	balances := make([]AuthorityValue[message.Balance], len(values))
	for i, v := range values {
		balances[i] = AuthorityValue[message.Balance]{Name: v.Name, Value: v.Value.Balance}
	}
	bound := StrongMajorityLowerBound(c.committee, balances,
		func(a, b message.Balance) bool { return a.Cmp(b) < 0 })
	return bound, nil
}

// QueryStrongMajoritySequenceNumber returns the highest next sequence number
// backed by a quorum of authorities.
func (c *AccountClientState) QueryStrongMajoritySequenceNumber(ctx context.Context) (message.SequenceNumber, error) {
	values, err := c.queryAll(ctx)
	if err != nil {
		return 0, err
	}
	numbers := make([]AuthorityValue[message.SequenceNumber], len(values))
	for i, v := range values {
		numbers[i] = AuthorityValue[message.SequenceNumber]{Name: v.Name, Value: v.Value.NextSequenceNumber}
	}
	bound := StrongMajorityLowerBound(c.committee, numbers,
		func(a, b message.SequenceNumber) bool { return a < b })
	return bound, nil
}

func (c *AccountClientState) queryAll(ctx context.Context) ([]AuthorityValue[*message.AccountInfoResponse], error) {
	accountId := c.accountId
	return communicateWithQuorum(ctx, c,
		func(ctx context.Context, name message.PublicKeyBytes, client custom.IAuthorityClient) (AuthorityValue[*message.AccountInfoResponse], error) {
			resp, err := client.HandleAccountInfoRequest(ctx, &message.AccountInfoRequest{AccountId: accountId})
			if err != nil {
				return AuthorityValue[*message.AccountInfoResponse]{}, err
			}
			return AuthorityValue[*message.AccountInfoResponse]{Name: name, Value: resp}, nil
		})
}

// keyPair narrows the signer for order construction.
func (c *AccountClientState) keyPair() *message.KeyPair {
	if kp, ok := c.secret.(*message.KeyPair); ok {
		return kp
	}
	panic("account client requires an owning key pair")
}

// executeConfirmingOrder runs both protocol phases for one transfer order and
// updates local state on success. Re-invoking with the pending order resumes
// a previously interrupted attempt.
func (c *AccountClientState) executeConfirmingOrder(ctx context.Context, order *message.TransferOrder) (*message.CertifiedTransferOrder, error) {
	if c.pendingTransfer != nil && !c.pendingTransfer.Equal(order) {
		return nil, ErrDifferentPendingTransfer
	}
	if order.Transfer.SequenceNumber != c.nextSequenceNumber {
		return nil, message.ErrUnexpectedSequenceNumber(c.nextSequenceNumber)
	}
	if err := c.downloadMissingSentCertificates(ctx); err != nil {
		return nil, err
	}
	c.pendingTransfer = order

	// Phase 1: gather a quorum of votes and form the certificate. On a
	// recoverable sequence-discipline rejection, pause, synchronize, resume.
	var votes []*message.SignedTransferOrder
	var err error
	for attempt := 0; ; attempt++ {
		votes, err = c.communicateOrders(ctx, c.accountId, c.sentCertificates,
			communicateAction{order: order, targetSequenceNumber: order.Transfer.SequenceNumber})
		if err == nil {
			break
		}
		fe, ok := err.(*message.Error)
		if !ok || !fe.Recoverable() || attempt > 0 {
			return nil, err
		}
		if err := c.SynchronizeSent(ctx); err != nil {
			return nil, err
		}
		if c.nextSequenceNumber != order.Transfer.SequenceNumber {
			// The committee moved past this sequence number. If it confirmed
			// this very order in an earlier interrupted run, hand back the
			// certificate; otherwise the order is stale.
			c.pendingTransfer = nil
			seq := uint64(order.Transfer.SequenceNumber)
			if seq < uint64(len(c.sentCertificates)) &&
				c.sentCertificates[seq].Value.Equal(order) {
				cert := c.sentCertificates[seq]
				return &cert, nil
			}
			return nil, message.ErrUnexpectedSequenceNumber(c.nextSequenceNumber)
		}
	}
	aggregator := NewSignatureAggregator(*order, c.committee)
	var cert *message.CertifiedTransferOrder
	for _, vote := range votes {
		if vote == nil || cert != nil {
			continue
		}
		cert, err = aggregator.Append(vote.Authority, vote.Signature)
		if err != nil {
			return nil, err
		}
	}
	if cert == nil {
		return nil, ErrQuorumUnreachable
	}
	c.logger.WithField("account", c.accountId).
		WithField("seq", order.Transfer.SequenceNumber).
		Debug("transfer certified")

	// Phase 2: drive a quorum of authorities past this sequence number so
	// the recipient is credited and our next transfer is unblocked.
	target, err := order.Transfer.SequenceNumber.Increment()
	if err != nil {
		return nil, err
	}
	known := append(append([]message.CertifiedTransferOrder(nil), c.sentCertificates...), *cert)
	if _, err := c.communicateOrders(ctx, c.accountId, known,
		communicateAction{targetSequenceNumber: target}); err != nil {
		return nil, err
	}

	if err := c.addSentCertificate(*cert); err != nil {
		return nil, err
	}
	c.pendingTransfer = nil
	return cert, nil
}

// addSentCertificate applies a confirmed outgoing certificate to local state.
func (c *AccountClientState) addSentCertificate(cert message.CertifiedTransferOrder) error {
	if uint64(cert.Value.Transfer.SequenceNumber) != uint64(len(c.sentCertificates)) {
		return message.ErrUnexpectedSequenceNumber(message.SequenceNumber(len(c.sentCertificates)))
	}
	balance, err := c.balance.TrySub(cert.Value.Transfer.Amount.Balance())
	if err != nil {
		return err
	}
	c.balance = balance
	c.sentCertificates = append(c.sentCertificates, cert)
	next := message.SequenceNumber(len(c.sentCertificates))
	if c.nextSequenceNumber < next {
		c.nextSequenceNumber = next
	}
	return nil
}

func (c *AccountClientState) creditLocal(cert *message.CertifiedTransferOrder) {
	key := cert.Key()
	if _, ok := c.receivedCertificates[key]; ok {
		return
	}
	c.receivedCertificates[key] = *cert
	c.balance = c.balance.SaturatingAdd(cert.Value.Transfer.Amount.Balance())
}

// downloadMissingSentCertificates backfills sentCertificates up to the local
// next sequence number from whatever honest authority answers first.
func (c *AccountClientState) downloadMissingSentCertificates(ctx context.Context) error {
	for uint64(len(c.sentCertificates)) < uint64(c.nextSequenceNumber) {
		cert, err := c.queryCertificate(ctx, c.accountId, message.SequenceNumber(len(c.sentCertificates)))
		if err != nil {
			return err
		}
		if err := c.addSentCertificate(*cert); err != nil {
			return err
		}
	}
	return nil
}

// queryCertificate fetches the confirmed certificate of an account at one
// sequence number. Authorities are tried sequentially in random order; the
// first verifying answer wins (it is self-authenticating).
func (c *AccountClientState) queryCertificate(ctx context.Context, accountId message.AccountId, seq message.SequenceNumber) (*message.CertifiedTransferOrder, error) {
	names := c.committee.Names()
	rand.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })
	req := &message.AccountInfoRequest{
		AccountId:             accountId,
		RequestSequenceNumber: &seq,
	}
	for _, name := range names {
		client, ok := c.clients[name]
		if !ok {
			continue
		}
		resp, err := client.HandleAccountInfoRequest(ctx, req)
		if err != nil || resp.RequestedCertificate == nil {
			continue
		}
		cert := resp.RequestedCertificate
		if c.committee.CheckCertificate(cert) != nil {
			continue
		}
		if !cert.Value.Transfer.Sender.Equal(accountId) ||
			cert.Value.Transfer.SequenceNumber != seq {
			continue
		}
		return cert, nil
	}
	return nil, ErrCertificateNotFound
}

// communicateAction drives one authority to a target sequence number and
// optionally submits a transfer order for a vote once it is there.
type communicateAction struct {
	order                *message.TransferOrder
	targetSequenceNumber message.SequenceNumber
}

// communicateOrders replays missing confirmations and executes the action on
// every authority, returning the collected votes once quorum weight has
// answered. Lagging authorities are individually brought up to date; crashed
// ones are excluded by their errors.
func (c *AccountClientState) communicateOrders(
	ctx context.Context,
	accountId message.AccountId,
	knownCertificates []message.CertifiedTransferOrder,
	action communicateAction,
) ([]*message.SignedTransferOrder, error) {
	known := make(map[message.SequenceNumber]*message.CertifiedTransferOrder)
	for i := range knownCertificates {
		cert := &knownCertificates[i]
		if cert.Value.Transfer.Sender.Equal(accountId) {
			known[cert.Value.Transfer.SequenceNumber] = cert
		}
	}
	committee := c.committee
	return communicateWithQuorum(ctx, c,
		func(ctx context.Context, name message.PublicKeyBytes, client custom.IAuthorityClient) (*message.SignedTransferOrder, error) {
			// Figure out which certificates this authority is missing.
			current := message.SequenceNumber(0)
			resp, err := client.HandleAccountInfoRequest(ctx, &message.AccountInfoRequest{AccountId: accountId})
			switch {
			case err == nil:
				current = resp.NextSequenceNumber
			case isUnknownAccount(err):
				// The account will materialize with the first confirmation.
			default:
				return nil, err
			}
			// Replay the missing certificates in order.
			for seq := current; seq < action.targetSequenceNumber; seq++ {
				cert := known[seq]
				if cert == nil {
					cert, err = c.queryCertificate(ctx, accountId, seq)
					if err != nil {
						return nil, err
					}
				}
				if _, err := client.HandleConfirmationOrder(ctx, cert); err != nil {
					return nil, err
				}
			}
			if action.order == nil {
				return nil, nil
			}
			// Submit the order and validate the returned vote.
			resp, err = client.HandleTransferOrder(ctx, action.order)
			if err != nil {
				return nil, err
			}
			vote := resp.Pending
			if vote == nil || vote.Authority != name || !vote.Value.Equal(action.order) {
				return nil, ErrInvalidVote
			}
			if _, err := committee.CheckVote(vote); err != nil {
				return nil, err
			}
			return vote, nil
		})
}

// communicateWithQuorum executes one request against every authority
// concurrently and returns the collected values as soon as quorum weight has
// succeeded. If a whole validity threshold agrees on the same error, no
// quorum can be reached and that error is returned early.
func communicateWithQuorum[V any](
	ctx context.Context,
	c *AccountClientState,
	execute func(ctx context.Context, name message.PublicKeyBytes, client custom.IAuthorityClient) (V, error),
) ([]V, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type answer struct {
		name  message.PublicKeyBytes
		value V
		err   error
	}
	answers := make(chan answer, len(c.clients))
	var wg sync.WaitGroup
	for name, client := range c.clients {
		name, client := name, client
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := execute(ctx, name, client)
			select {
			case answers <- answer{name: name, value: value, err: err}:
			case <-ctx.Done():
			}
		}()
	}
	go func() {
		wg.Wait()
		close(answers)
	}()

	var values []V
	var valueScore int64
	errorScores := make(map[string]int64)
	for a := range answers {
		if a.err != nil {
			key := message.ScoreKey(a.err)
			errorScores[key] += c.committee.Weight(a.name)
			if errorScores[key] >= c.committee.ValidityThreshold() {
				// At least one honest authority returned this error: no
				// quorum will form, report it to the caller.
				return nil, a.err
			}
			continue
		}
		values = append(values, a.value)
		valueScore += c.committee.Weight(a.name)
		if valueScore >= c.committee.QuorumThreshold() {
			return values, nil
		}
	}
	return nil, ErrQuorumUnreachable
}

func isUnknownAccount(err error) bool {
	fe, ok := err.(*message.Error)
	return ok && fe.Code == message.CodeUnknownSenderAccount
}
