package fastpay

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novifinancial/fastpay/custom"
	"github.com/novifinancial/fastpay/custom/mock"
	"github.com/novifinancial/fastpay/message"
)

// localClient drives a single-shard authority in process.
type localClient struct {
	state *AuthorityState
}

func (l localClient) HandleTransferOrder(ctx context.Context, order *message.TransferOrder) (*message.AccountInfoResponse, error) {
	return l.state.HandleTransferOrder(order)
}

func (l localClient) HandleConfirmationOrder(ctx context.Context, cert *message.CertifiedTransferOrder) (*message.AccountInfoResponse, error) {
	info, _, err := l.state.HandleConfirmationOrder(cert)
	return info, err
}

func (l localClient) HandleAccountInfoRequest(ctx context.Context, req *message.AccountInfoRequest) (*message.AccountInfoResponse, error) {
	return l.state.HandleAccountInfoRequest(req)
}

type clientEnv struct {
	keys      []*message.KeyPair
	committee *Committee
	states    []*AuthorityState
	clients   map[message.PublicKeyBytes]custom.IAuthorityClient

	ownerA, ownerB *message.KeyPair
	idA, idB       message.AccountId
}

func newClientEnv(t *testing.T) *clientEnv {
	t.Helper()
	env := &clientEnv{
		keys:   makeKeys(4),
		ownerA: message.GenerateKeyPair(),
		ownerB: message.GenerateKeyPair(),
		idA:    message.NewAccountId(1),
		idB:    message.NewAccountId(2),
	}
	env.committee = committeeOf(env.keys)
	env.clients = make(map[message.PublicKeyBytes]custom.IAuthorityClient)
	for _, kp := range env.keys {
		state := NewAuthorityState(env.committee, kp)
		state.InsertAccount(env.idA, NewAccountWithBalance(env.ownerA.GetPubKey(), message.NewBalance(100)))
		state.InsertAccount(env.idB, NewAccountWithBalance(env.ownerB.GetPubKey(), message.NewBalance(100)))
		env.states = append(env.states, state)
		env.clients[kp.GetPubKey()] = localClient{state: state}
	}
	return env
}

func (env *clientEnv) clientA() *AccountClientState {
	return NewAccountClientState(env.idA, env.ownerA, env.committee, env.clients,
		0, message.NewBalance(100), nil, nil)
}

func (env *clientEnv) clientB() *AccountClientState {
	return NewAccountClientState(env.idB, env.ownerB, env.committee, env.clients,
		0, message.NewBalance(100), nil, nil)
}

func TestTransferHappyPath(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	env := newClientEnv(t)
	clientA := env.clientA()

	cert, err := clientA.TransferToFastPay(context.Background(), 10, env.idB, nil)
	require.NoError(err)
	require.NotNil(cert)
	assert.NoError(env.committee.CheckCertificate(cert))

	// Local sender state.
	assert.True(clientA.Balance().Equal(message.NewBalance(90)))
	assert.Equal(message.SequenceNumber(1), clientA.NextSequenceNumber())
	assert.Len(clientA.SentCertificates(), 1)
	assert.Nil(clientA.PendingTransfer())

	// A quorum of authorities applied the transfer; with in-process clients
	// every authority answered, so all four did.
	assert.Eventually(func() bool {
		for _, state := range env.states {
			info, err := state.HandleAccountInfoRequest(&message.AccountInfoRequest{AccountId: env.idA})
			if err != nil || info.NextSequenceNumber != 1 {
				return false
			}
			info, err = state.HandleAccountInfoRequest(&message.AccountInfoRequest{AccountId: env.idB})
			if err != nil || !info.Balance.Equal(message.NewBalance(110)) {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)

	// The recipient learns about the credit by synchronizing.
	clientB := env.clientB()
	require.NoError(clientB.SynchronizeReceived(context.Background()))
	assert.True(clientB.Balance().Equal(message.NewBalance(110)))
}

func TestTransferInsufficientLocalFunds(t *testing.T) {
	assert := assert.New(t)

	env := newClientEnv(t)
	clientA := NewAccountClientState(env.idA, env.ownerA, env.committee, env.clients,
		0, message.NewBalance(5), nil, nil)

	_, err := clientA.TransferToFastPay(context.Background(), 10, env.idB, nil)
	assert.ErrorIs(err, ErrInsufficientBalance)
	assert.Equal(message.SequenceNumber(0), clientA.NextSequenceNumber())

	// No authority saw a vote.
	for _, state := range env.states {
		account, _ := state.Account(env.idA)
		assert.Nil(account.Pending)
	}
}

func TestTransferRecoversFromStaleSequenceNumber(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	env := newClientEnv(t)

	// A first wallet instance confirms a transfer...
	first := env.clientA()
	_, err := first.TransferToFastPay(context.Background(), 10, env.idB, nil)
	require.NoError(err)

	// ...then a stale wallet instance wakes up at sequence number 0.
	stale := env.clientA()
	_, err = stale.TransferToFastPay(context.Background(), 5, env.idB, nil)
	fe, ok := err.(*message.Error)
	require.True(ok)
	assert.Equal(message.CodeUnexpectedSequenceNumber, fe.Code)

	// The failed attempt synchronized the wallet: sequence number and
	// balance now reflect the confirmed transfer.
	assert.Equal(message.SequenceNumber(1), stale.NextSequenceNumber())
	assert.True(stale.Balance().Equal(message.NewBalance(90)))
	assert.Len(stale.SentCertificates(), 1)

	// The retry goes through at the correct sequence number.
	cert, err := stale.TransferToFastPay(context.Background(), 5, env.idB, nil)
	require.NoError(err)
	assert.Equal(message.SequenceNumber(1), cert.Value.Transfer.SequenceNumber)
	assert.True(stale.Balance().Equal(message.NewBalance(85)))
}

func TestTransferRepairsLaggingAuthority(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	env := newClientEnv(t)

	// Certify a first transfer but apply it on only three authorities; the
	// fourth sleeps through it.
	order := message.NewTransferOrder(message.Transfer{
		Sender:         env.idA,
		Recipient:      message.FastPayAddress(env.idB),
		Amount:         10,
		SequenceNumber: 0,
	}, env.ownerA)
	agg := NewSignatureAggregator(*order, env.committee)
	var cert *message.CertifiedTransferOrder
	for _, kp := range env.keys[:3] {
		c, err := agg.Append(kp.GetPubKey(), kp.Sign(order.Digest()))
		require.NoError(err)
		if c != nil {
			cert = c
		}
	}
	for _, state := range env.states[:3] {
		_, _, err := state.HandleConfirmationOrder(cert)
		require.NoError(err)
	}
	laggard := env.states[3]
	account, _ := laggard.Account(env.idA)
	require.Equal(message.SequenceNumber(0), account.NextSequenceNumber)

	// A client that knows the certificate drives the next transfer; the
	// laggard is replayed certificate 0 before being asked to vote on 1.
	resumed := NewAccountClientState(env.idA, env.ownerA, env.committee, env.clients,
		1, message.NewBalance(90), []message.CertifiedTransferOrder{*cert}, nil)
	_, err := resumed.TransferToFastPay(context.Background(), 5, env.idB, nil)
	require.NoError(err)

	assert.Eventually(func() bool {
		info, err := laggard.HandleAccountInfoRequest(&message.AccountInfoRequest{AccountId: env.idA})
		return err == nil && info.NextSequenceNumber == 2
	}, time.Second, 10*time.Millisecond)
}

func TestTransferWithByzantineAuthority(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	env := newClientEnv(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// Replace one authority with a byzantine one that votes on a different
	// order at the same sequence number.
	byzantineKey := env.keys[3]
	byzantine := mock.NewMockIAuthorityClient(ctrl)
	byzantine.EXPECT().HandleAccountInfoRequest(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, req *message.AccountInfoRequest) (*message.AccountInfoResponse, error) {
			return &message.AccountInfoResponse{
				AccountId: req.AccountId,
				Balance:   message.NewBalance(100),
			}, nil
		}).AnyTimes()
	byzantine.EXPECT().HandleConfirmationOrder(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, cert *message.CertifiedTransferOrder) (*message.AccountInfoResponse, error) {
			return &message.AccountInfoResponse{AccountId: cert.Value.Transfer.Sender}, nil
		}).AnyTimes()
	byzantine.EXPECT().HandleTransferOrder(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, order *message.TransferOrder) (*message.AccountInfoResponse, error) {
			conflicting := message.NewTransferOrder(message.Transfer{
				Sender:         order.Transfer.Sender,
				Recipient:      message.FastPayAddress(message.NewAccountId(9)),
				Amount:         999,
				SequenceNumber: order.Transfer.SequenceNumber,
			}, env.ownerA)
			vote := message.NewSignedTransferOrder(*conflicting, byzantineKey)
			return &message.AccountInfoResponse{
				AccountId: order.Transfer.Sender,
				Pending:   vote,
			}, nil
		}).AnyTimes()
	env.clients[byzantineKey.GetPubKey()] = byzantine

	// The three honest authorities still form a quorum on one consistent
	// order; the conflicting vote is excluded.
	clientA := env.clientA()
	cert, err := clientA.TransferToFastPay(context.Background(), 10, env.idB, nil)
	require.NoError(err)
	assert.NoError(env.committee.CheckCertificate(cert))
	for _, sig := range cert.Signatures {
		assert.NotEqual(byzantineKey.GetPubKey(), sig.Authority)
	}
}

func TestReceiveFromFastPay(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	env := newClientEnv(t)
	clientA := env.clientA()
	cert, err := clientA.TransferToFastPay(context.Background(), 10, env.idB, nil)
	require.NoError(err)

	clientB := env.clientB()
	require.NoError(clientB.ReceiveFromFastPay(context.Background(), cert))
	assert.True(clientB.Balance().Equal(message.NewBalance(110)))

	// Depositing the same certificate twice credits once.
	require.NoError(clientB.ReceiveFromFastPay(context.Background(), cert))
	assert.True(clientB.Balance().Equal(message.NewBalance(110)))

	// A certificate for someone else is refused.
	clientAAgain := NewAccountClientState(env.idA, env.ownerA, env.committee, env.clients,
		clientA.NextSequenceNumber(), clientA.Balance(), clientA.SentCertificates(), nil)
	assert.ErrorIs(clientAAgain.ReceiveFromFastPay(context.Background(), cert), ErrNotRecipient)
}

func TestOpenAccountEndToEnd(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	env := newClientEnv(t)
	clientA := env.clientA()
	childKey := message.GenerateKeyPair()

	childId, cert, err := clientA.OpenAccount(context.Background(), childKey.GetPubKey())
	require.NoError(err)
	require.NotNil(cert)
	assert.True(env.idA.MakeChild(0).Equal(childId))
	assert.Equal(message.SequenceNumber(1), clientA.NextSequenceNumber())
	// Opening moves no funds.
	assert.True(clientA.Balance().Equal(message.NewBalance(100)))

	// The child exists everywhere with the designated owner.
	assert.Eventually(func() bool {
		for _, state := range env.states {
			info, err := state.HandleAccountInfoRequest(&message.AccountInfoRequest{AccountId: childId})
			if err != nil || info.Owner != childKey.GetPubKey() {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)

	// Funding the child works like any other transfer.
	_, err = clientA.TransferToFastPay(context.Background(), 25, childId, nil)
	require.NoError(err)

	child := NewAccountClientState(childId, childKey, env.committee, env.clients,
		0, message.NewBalance(0), nil, nil)
	require.NoError(child.SynchronizeReceived(context.Background()))
	assert.True(child.Balance().Equal(message.NewBalance(25)))

	balance, err := child.QueryStrongMajorityBalance(context.Background())
	require.NoError(err)
	assert.True(balance.Equal(message.NewBalance(25)))
}

func TestQueryStrongMajorityBalance(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	env := newClientEnv(t)
	clientA := env.clientA()
	balance, err := clientA.QueryStrongMajorityBalance(context.Background())
	require.NoError(err)
	assert.True(balance.Equal(message.NewBalance(100)))

	_, err = clientA.TransferToFastPay(context.Background(), 40, env.idB, nil)
	require.NoError(err)
	balance, err = clientA.QueryStrongMajorityBalance(context.Background())
	require.NoError(err)
	assert.True(balance.Equal(message.NewBalance(60)))
}

func TestBulkTransfersSerializeSequenceNumbers(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	env := newClientEnv(t)
	clientA := env.clientA()
	for i := 0; i < 10; i++ {
		cert, err := clientA.TransferToFastPay(context.Background(), 1, env.idB, nil)
		require.NoError(err)
		assert.Equal(message.SequenceNumber(i), cert.Value.Transfer.SequenceNumber)
	}
	assert.True(clientA.Balance().Equal(message.NewBalance(90)))
	assert.Equal(message.SequenceNumber(10), clientA.NextSequenceNumber())
}
