package fastpay

import (
	"sync"

	"github.com/novifinancial/fastpay/message"
)

/*
	SignatureAggregator collects authority votes over one transfer order and
	yields a certificate the moment quorum weight is reached.

	A vote on different order content cannot slip in: every signature is
	verified against this aggregator's order bytes, so a conflicting vote
	simply fails verification. Duplicate signers are rejected so that a single
	authority can never contribute its weight twice.
*/
type SignatureAggregator struct {
	committee *Committee

	mtx     sync.Mutex
	weight  int64
	used    map[message.PublicKeyBytes]struct{}
	partial message.CertifiedTransferOrder
}

// NewSignatureAggregator starts aggregating votes for the given order.
func NewSignatureAggregator(value message.TransferOrder, committee *Committee) *SignatureAggregator {
	return &SignatureAggregator{
		committee: committee,
		used:      make(map[message.PublicKeyBytes]struct{}),
		partial:   message.CertifiedTransferOrder{Value: value},
	}
}

// Append adds one authority signature. It returns the completed certificate
// the first time accumulated weight meets the quorum threshold, nil before
// that. The returned certificate is guaranteed to pass
// Committee.CheckCertificate.
func (agg *SignatureAggregator) Append(authority message.PublicKeyBytes, signature message.Signature) (*message.CertifiedTransferOrder, error) {
	agg.mtx.Lock()
	defer agg.mtx.Unlock()

	if !message.VerifySignature(authority, agg.partial.Value.Digest(), signature) {
		return nil, message.NewError(message.CodeInvalidSignature)
	}
	if _, ok := agg.used[authority]; ok {
		return nil, message.NewError(message.CodeCertificateAuthorityReuse)
	}
	votes := agg.committee.Weight(authority)
	if votes == 0 {
		return nil, message.NewError(message.CodeUnknownSigner)
	}
	agg.used[authority] = struct{}{}
	agg.weight += votes
	agg.partial.Signatures = append(agg.partial.Signatures, message.AuthoritySignature{
		Authority: authority,
		Signature: signature,
	})

	if agg.weight >= agg.committee.QuorumThreshold() {
		cert := agg.partial
		cert.Signatures = append([]message.AuthoritySignature(nil), agg.partial.Signatures...)
		return &cert, nil
	}
	return nil, nil
}

// HasQuorum reports whether a certificate has already been produced.
func (agg *SignatureAggregator) HasQuorum() bool {
	agg.mtx.Lock()
	defer agg.mtx.Unlock()
	return agg.weight >= agg.committee.QuorumThreshold()
}
