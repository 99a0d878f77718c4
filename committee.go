package fastpay

import (
	"sort"

	"github.com/novifinancial/fastpay/message"
)

/*
	Committee is the immutable description of one epoch: the authorities,
	their public keys and their voting power. All thresholds are expressed in
	voting-power units, never in authority count.

	The snapshot is read-only after construction and safe to share without
	synchronization. A future epoch mechanism can swap snapshots atomically.
*/
type Committee struct {
	votingRights map[message.PublicKeyBytes]int64
	totalVotes   int64
}

func NewCommittee(votingRights map[message.PublicKeyBytes]int64) *Committee {
	rights := make(map[message.PublicKeyBytes]int64, len(votingRights))
	var total int64
	for name, votes := range votingRights {
		if votes <= 0 {
			continue
		}
		rights[name] = votes
		total += votes
	}
	return &Committee{votingRights: rights, totalVotes: total}
}

// MakeSimpleCommittee gives every authority one vote.
func MakeSimpleCommittee(names []message.PublicKeyBytes) *Committee {
	rights := make(map[message.PublicKeyBytes]int64, len(names))
	for _, name := range names {
		rights[name] = 1
	}
	return NewCommittee(rights)
}

// Weight returns the voting power of an authority, 0 for unknown signers.
func (c *Committee) Weight(name message.PublicKeyBytes) int64 {
	return c.votingRights[name]
}

func (c *Committee) TotalVotes() int64 {
	return c.totalVotes
}

// Names returns the authorities in deterministic order.
func (c *Committee) Names() []message.PublicKeyBytes {
	names := make([]message.PublicKeyBytes, 0, len(c.votingRights))
	for name := range c.votingRights {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := names[i], names[j]
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return names
}

// QuorumThreshold is N-f votes: with N = 3f+1+k (0 <= k < 3),
// 2N/3+1 = 2f+1+k = N-f.
func (c *Committee) QuorumThreshold() int64 {
	return 2*c.totalVotes/3 + 1
}

// ValidityThreshold is f+1 votes, the minimum weight containing one honest
// authority: (N+2)/3 = f+1.
func (c *Committee) ValidityThreshold() int64 {
	return (c.totalVotes + 2) / 3
}

// CheckVote verifies a single authority vote and returns its non-zero voting
// power.
func (c *Committee) CheckVote(vote *message.SignedTransferOrder) (int64, error) {
	weight := c.Weight(vote.Authority)
	if weight == 0 {
		return 0, message.NewError(message.CodeUnknownSigner)
	}
	if !message.VerifySignature(vote.Authority, vote.Value.Digest(), vote.Signature) {
		return 0, message.NewError(message.CodeInvalidSignature)
	}
	return weight, nil
}

// CheckCertificate verifies a certificate: every signature valid, all signers
// distinct committee members, aggregate weight at least the quorum threshold.
func (c *Committee) CheckCertificate(cert *message.CertifiedTransferOrder) error {
	var weight int64
	used := make(map[message.PublicKeyBytes]struct{}, len(cert.Signatures))
	digest := cert.Value.Digest()
	for _, sig := range cert.Signatures {
		if _, ok := used[sig.Authority]; ok {
			return message.NewError(message.CodeCertificateAuthorityReuse)
		}
		used[sig.Authority] = struct{}{}
		votes := c.Weight(sig.Authority)
		if votes == 0 {
			return message.NewError(message.CodeUnknownSigner)
		}
		weight += votes
	}
	if weight < c.QuorumThreshold() {
		return message.NewError(message.CodeCertificateRequiresQuorum)
	}
	for _, sig := range cert.Signatures {
		if !message.VerifySignature(sig.Authority, digest, sig.Signature) {
			return message.NewError(message.CodeInvalidSignature)
		}
	}
	return nil
}

// AuthorityValue pairs an authority's answer with its name for weighted
// aggregation.
type AuthorityValue[V any] struct {
	Name  message.PublicKeyBytes
	Value V
}

// StrongMajorityLowerBound finds the highest value supported by a quorum of
// authorities: browse values in decreasing order while tracking accumulated
// weight. With at most f byzantine votes, at least quorum-f honest weight
// reported a value >= the result.
func StrongMajorityLowerBound[V any](c *Committee, values []AuthorityValue[V], less func(a, b V) bool) V {
	sort.Slice(values, func(i, j int) bool {
		return less(values[j].Value, values[i].Value)
	})
	var score int64
	for _, v := range values {
		score += c.Weight(v.Name)
		if score >= c.QuorumThreshold() {
			return v.Value
		}
	}
	var zero V
	return zero
}
