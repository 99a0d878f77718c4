package fastpay

import (
	"github.com/pkg/errors"
)

var (
	ErrQuorumUnreachable        = errors.New("failed to communicate with a quorum of authorities")
	ErrDifferentPendingTransfer = errors.New("client state has a different pending transfer")
	ErrCertificateNotFound      = errors.New("no authority returned a valid certificate")
	ErrNotRecipient             = errors.New("transfer is not addressed to this account")
	ErrInsufficientBalance      = errors.New("requested amount is not backed by sufficient known funds")
	ErrInvalidVote              = errors.New("authority returned an invalid or foreign vote")
)
