package fastpay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novifinancial/fastpay/message"
)

func makeKeys(n int) []*message.KeyPair {
	keys := make([]*message.KeyPair, n)
	for i := range keys {
		keys[i] = message.GenerateKeyPair()
	}
	return keys
}

func committeeOf(keys []*message.KeyPair) *Committee {
	names := make([]message.PublicKeyBytes, len(keys))
	for i, kp := range keys {
		names[i] = kp.GetPubKey()
	}
	return MakeSimpleCommittee(names)
}

func TestCommitteeThresholds(t *testing.T) {
	assert := assert.New(t)

	for _, tc := range []struct {
		total, quorum, validity int64
	}{
		{4, 3, 2},
		{7, 5, 3},
		{10, 7, 4},
		{3, 3, 1},
		{1, 1, 1},
	} {
		keys := makeKeys(int(tc.total))
		committee := committeeOf(keys)
		assert.Equal(tc.total, committee.TotalVotes())
		assert.Equal(tc.quorum, committee.QuorumThreshold(), "N=%d", tc.total)
		assert.Equal(tc.validity, committee.ValidityThreshold(), "N=%d", tc.total)
	}
}

func TestCommitteeWeights(t *testing.T) {
	assert := assert.New(t)

	keys := makeKeys(3)
	committee := NewCommittee(map[message.PublicKeyBytes]int64{
		keys[0].GetPubKey(): 1,
		keys[1].GetPubKey(): 2,
		keys[2].GetPubKey(): 3,
	})
	assert.Equal(int64(6), committee.TotalVotes())
	assert.Equal(int64(2), committee.Weight(keys[1].GetPubKey()))
	assert.Equal(int64(0), committee.Weight(message.GenerateKeyPair().GetPubKey()))
	assert.Equal(int64(5), committee.QuorumThreshold())
	assert.Len(committee.Names(), 3)
}

func testOrder(t *testing.T, owner *message.KeyPair) *message.TransferOrder {
	t.Helper()
	return message.NewTransferOrder(message.Transfer{
		Sender:         message.NewAccountId(1),
		Recipient:      message.FastPayAddress(message.NewAccountId(2)),
		Amount:         10,
		SequenceNumber: 0,
	}, owner)
}

func TestSignatureAggregatorQuorum(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	keys := makeKeys(4)
	committee := committeeOf(keys)
	owner := message.GenerateKeyPair()
	order := testOrder(t, owner)

	agg := NewSignatureAggregator(*order, committee)

	// Below quorum: no certificate yet.
	for i := 0; i < 2; i++ {
		cert, err := agg.Append(keys[i].GetPubKey(), keys[i].Sign(order.Digest()))
		require.NoError(err)
		assert.Nil(cert)
	}
	assert.False(agg.HasQuorum())

	// The third vote crosses 2f+1.
	cert, err := agg.Append(keys[2].GetPubKey(), keys[2].Sign(order.Digest()))
	require.NoError(err)
	require.NotNil(cert)
	assert.True(agg.HasQuorum())
	assert.NoError(committee.CheckCertificate(cert))
}

func TestSignatureAggregatorRejections(t *testing.T) {
	assert := assert.New(t)

	keys := makeKeys(4)
	committee := committeeOf(keys)
	owner := message.GenerateKeyPair()
	order := testOrder(t, owner)
	agg := NewSignatureAggregator(*order, committee)

	// Duplicate signer contributes weight at most once.
	_, err := agg.Append(keys[0].GetPubKey(), keys[0].Sign(order.Digest()))
	assert.NoError(err)
	_, err = agg.Append(keys[0].GetPubKey(), keys[0].Sign(order.Digest()))
	assert.Equal(message.CodeCertificateAuthorityReuse, err.(*message.Error).Code)

	// Unknown signers are rejected.
	stranger := message.GenerateKeyPair()
	_, err = agg.Append(stranger.GetPubKey(), stranger.Sign(order.Digest()))
	assert.Equal(message.CodeUnknownSigner, err.(*message.Error).Code)

	// A byzantine vote over different order content cannot be combined: its
	// signature does not verify against this aggregator's order bytes.
	conflicting := message.NewTransferOrder(message.Transfer{
		Sender:         message.NewAccountId(1),
		Recipient:      message.FastPayAddress(message.NewAccountId(9)),
		Amount:         999,
		SequenceNumber: 0,
	}, owner)
	_, err = agg.Append(keys[1].GetPubKey(), keys[1].Sign(conflicting.Digest()))
	assert.Equal(message.CodeInvalidSignature, err.(*message.Error).Code)

	// Quorum is still reachable from the remaining honest authorities.
	_, err = agg.Append(keys[1].GetPubKey(), keys[1].Sign(order.Digest()))
	assert.NoError(err)
	cert, err := agg.Append(keys[2].GetPubKey(), keys[2].Sign(order.Digest()))
	assert.NoError(err)
	assert.NotNil(cert)
}

func TestCheckCertificate(t *testing.T) {
	assert := assert.New(t)

	keys := makeKeys(4)
	committee := committeeOf(keys)
	owner := message.GenerateKeyPair()
	order := testOrder(t, owner)
	digest := order.Digest()

	sign := func(signers ...*message.KeyPair) []message.AuthoritySignature {
		sigs := make([]message.AuthoritySignature, len(signers))
		for i, kp := range signers {
			sigs[i] = message.AuthoritySignature{Authority: kp.GetPubKey(), Signature: kp.Sign(digest)}
		}
		return sigs
	}

	// Weight below quorum never verifies.
	cert := &message.CertifiedTransferOrder{Value: *order, Signatures: sign(keys[0], keys[1])}
	assert.Equal(message.CodeCertificateRequiresQuorum,
		committee.CheckCertificate(cert).(*message.Error).Code)

	// Reused authorities do not double-count.
	cert = &message.CertifiedTransferOrder{Value: *order, Signatures: sign(keys[0], keys[0], keys[1])}
	assert.Equal(message.CodeCertificateAuthorityReuse,
		committee.CheckCertificate(cert).(*message.Error).Code)

	// Quorum weight of valid signatures verifies.
	cert = &message.CertifiedTransferOrder{Value: *order, Signatures: sign(keys[0], keys[1], keys[2])}
	assert.NoError(committee.CheckCertificate(cert))

	// One bad signature poisons the certificate.
	bad := sign(keys[0], keys[1], keys[2])
	bad[2].Signature = keys[2].Sign([]byte("something else"))
	cert = &message.CertifiedTransferOrder{Value: *order, Signatures: bad}
	assert.Equal(message.CodeInvalidSignature,
		committee.CheckCertificate(cert).(*message.Error).Code)
}

func TestStrongMajorityLowerBound(t *testing.T) {
	assert := assert.New(t)

	keys := makeKeys(4)
	committee := committeeOf(keys)
	less := func(a, b message.SequenceNumber) bool { return a < b }

	values := []AuthorityValue[message.SequenceNumber]{
		{Name: keys[0].GetPubKey(), Value: 5},
		{Name: keys[1].GetPubKey(), Value: 5},
		{Name: keys[2].GetPubKey(), Value: 5},
		{Name: keys[3].GetPubKey(), Value: 100}, // byzantine exaggeration
	}
	assert.Equal(message.SequenceNumber(5), StrongMajorityLowerBound(committee, values, less))

	// Too few answers: fall back to the zero value.
	few := values[:2]
	assert.Equal(message.SequenceNumber(0), StrongMajorityLowerBound(committee, few, less))
}
