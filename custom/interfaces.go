package custom

//go:generate mockgen -source=interfaces.go -destination=mock/interfaces_mock.go -package=mock

import (
	"context"

	"github.com/novifinancial/fastpay/message"
)

/*
 * An authority is a node of the FastPay committee. Each shard of an authority
 * runs the same state machine over the accounts it owns. Clients never talk
 * to a quorum directly; they talk to every authority through an
 * IAuthorityClient and assemble quorums themselves. Implementations decide
 * how requests reach the right shard (the reference network client routes by
 * account id).
 */

// IAuthorityClient is how a client drives one authority.
type IAuthorityClient interface {
	// HandleTransferOrder submits a fresh transfer order and returns the
	// account info carrying this authority's vote.
	HandleTransferOrder(ctx context.Context, order *message.TransferOrder) (*message.AccountInfoResponse, error)

	// HandleConfirmationOrder submits a certified transfer order for
	// application.
	HandleConfirmationOrder(ctx context.Context, cert *message.CertifiedTransferOrder) (*message.AccountInfoResponse, error)

	// HandleAccountInfoRequest reads account state without mutating it.
	HandleAccountInfoRequest(ctx context.Context, req *message.AccountInfoRequest) (*message.AccountInfoResponse, error)
}

// ISigner signs canonical message bytes with a single key.
type ISigner interface {
	GetPubKey() message.PublicKeyBytes
	Sign(digest []byte) message.Signature
}
