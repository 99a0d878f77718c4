package fastpay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novifinancial/fastpay/message"
)

func TestShardAssignment(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(message.ShardID(0), ShardFor(message.NewAccountId(4), 4))
	assert.Equal(message.ShardID(3), ShardFor(message.NewAccountId(3), 4))
	assert.Equal(message.ShardID(1), ShardFor(message.NewAccountId(5), 4))
	// Only the first element routes: a child lands on the same shard as its
	// root ancestor.
	assert.Equal(ShardFor(message.NewAccountId(5), 4), ShardFor(message.NewAccountId(5, 9), 4))
	assert.Equal(message.ShardID(0), ShardFor(message.NewAccountId(7), 1))
}

func TestAuthorityShardsCrossShardDelivery(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	keys := makeKeys(4)
	committee := committeeOf(keys)
	owner := message.GenerateKeyPair()
	recipientOwner := message.GenerateKeyPair()

	authority := NewAuthorityShards(committee, keys[0], 4)
	authority.Start()
	defer authority.Stop()

	sender := message.NewAccountId(4)    // shard 0
	recipient := message.NewAccountId(3) // shard 3
	authority.ShardFor(sender).InsertAccount(sender,
		NewAccountWithBalance(owner.GetPubKey(), message.NewBalance(100)))
	authority.ShardFor(recipient).InsertAccount(recipient,
		NewAccountWithBalance(recipientOwner.GetPubKey(), message.NewBalance(100)))

	order := message.NewTransferOrder(message.Transfer{
		Sender:         sender,
		Recipient:      message.FastPayAddress(recipient),
		Amount:         10,
		SequenceNumber: 0,
	}, owner)
	agg := NewSignatureAggregator(*order, committee)
	var cert *message.CertifiedTransferOrder
	for _, kp := range keys[:3] {
		c, err := agg.Append(kp.GetPubKey(), kp.Sign(order.Digest()))
		require.NoError(err)
		if c != nil {
			cert = c
		}
	}

	info, err := authority.HandleConfirmationOrder(cert)
	require.NoError(err)
	assert.True(info.Balance.Equal(message.NewBalance(90)))

	// The credit crosses shards asynchronously, exactly once.
	assert.Eventually(func() bool {
		info, err := authority.HandleAccountInfoRequest(&message.AccountInfoRequest{AccountId: recipient})
		return err == nil && info.Balance.Equal(message.NewBalance(110))
	}, time.Second, 10*time.Millisecond)

	// Replaying the confirmation re-queues nothing and changes nothing.
	_, err = authority.HandleConfirmationOrder(cert)
	require.NoError(err)
	time.Sleep(50 * time.Millisecond)
	info, err = authority.HandleAccountInfoRequest(&message.AccountInfoRequest{AccountId: recipient})
	require.NoError(err)
	assert.True(info.Balance.Equal(message.NewBalance(110)))
}
