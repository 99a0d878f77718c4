package message

import "fmt"

// ErrorCode enumerates every rejection an authority or client can produce.
// Codes are wire-visible and fixed.
type ErrorCode uint32

const (
	// Signature verification
	CodeInvalidOwner ErrorCode = iota + 1
	CodeInvalidSignature
	CodeUnknownSigner
	// Certificate verification
	CodeCertificateRequiresQuorum
	CodeCertificateAuthorityReuse
	// Transfer processing
	CodeIncorrectTransferAmount
	CodeUnexpectedSequenceNumber
	CodeInsufficientFunding
	CodePreviousTransferMustBeConfirmedFirst
	CodeMissingEarlierConfirmations
	CodeInvalidNewAccountId
	// Account access
	CodeUnknownSenderAccount
	CodeUnknownRecipientAccount
	CodeCertificateNotFound
	// Arithmetic
	CodeInvalidSequenceNumber
	CodeSequenceOverflow
	CodeSequenceUnderflow
	CodeAmountOverflow
	CodeAmountUnderflow
	CodeBalanceOverflow
	CodeBalanceUnderflow
	// Routing and decoding
	CodeWrongShard
	CodeInvalidCrossShardUpdate
	CodeInvalidDecoding
	CodeUnexpectedMessage
	CodeClientIOError
)

// Error is the typed rejection returned by authorities. Rejections carry
// enough context (current balance, expected sequence number, the pending
// vote) for the client to recover without a second probe.
type Error struct {
	Code ErrorCode

	// Context carried by some rejections; zero unless the code says otherwise.
	AccountId             AccountId
	CurrentBalance        Balance
	CurrentSequenceNumber SequenceNumber
	Pending               *SignedTransferOrder
	Detail                string
}

func NewError(code ErrorCode) *Error {
	return &Error{Code: code}
}

func NewErrorf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

func ErrInsufficientFunding(currentBalance Balance) *Error {
	return &Error{Code: CodeInsufficientFunding, CurrentBalance: currentBalance}
}

func ErrUnexpectedSequenceNumber(expected SequenceNumber) *Error {
	return &Error{Code: CodeUnexpectedSequenceNumber, CurrentSequenceNumber: expected}
}

func ErrMissingEarlierConfirmations(current SequenceNumber) *Error {
	return &Error{Code: CodeMissingEarlierConfirmations, CurrentSequenceNumber: current}
}

func ErrPreviousTransferMustBeConfirmedFirst(pending *SignedTransferOrder) *Error {
	return &Error{Code: CodePreviousTransferMustBeConfirmedFirst, Pending: pending}
}

func ErrUnknownSenderAccount(id AccountId) *Error {
	return &Error{Code: CodeUnknownSenderAccount, AccountId: id.Copy()}
}

func ErrUnknownRecipientAccount(id AccountId) *Error {
	return &Error{Code: CodeUnknownRecipientAccount, AccountId: id.Copy()}
}

func (e *Error) Error() string {
	switch e.Code {
	case CodeInvalidOwner:
		return "order was not signed by an authorized owner"
	case CodeInvalidSignature:
		if e.Detail != "" {
			return "invalid signature: " + e.Detail
		}
		return "invalid signature"
	case CodeUnknownSigner:
		return "value was not signed by a known authority"
	case CodeCertificateRequiresQuorum:
		return "signatures in a certificate must form a quorum"
	case CodeCertificateAuthorityReuse:
		return "signatures in a certificate must be from different authorities"
	case CodeIncorrectTransferAmount:
		return "transfers must have positive amount"
	case CodeUnexpectedSequenceNumber:
		return fmt.Sprintf("unexpected sequence number, expecting %d", e.CurrentSequenceNumber)
	case CodeInsufficientFunding:
		return fmt.Sprintf("transferred amount must not exceed the current account balance %s", e.CurrentBalance)
	case CodePreviousTransferMustBeConfirmedFirst:
		return "cannot initiate transfer while a previous transfer order is pending confirmation"
	case CodeMissingEarlierConfirmations:
		return fmt.Sprintf("cannot confirm a transfer while earlier transfers are pending, next expected is %d", e.CurrentSequenceNumber)
	case CodeInvalidNewAccountId:
		return fmt.Sprintf("invalid new account id %s", e.AccountId)
	case CodeUnknownSenderAccount:
		return fmt.Sprintf("unknown sender account %s", e.AccountId)
	case CodeUnknownRecipientAccount:
		return fmt.Sprintf("unknown recipient account %s", e.AccountId)
	case CodeCertificateNotFound:
		return "no certificate for this account and sequence number"
	case CodeInvalidSequenceNumber:
		return "sequence numbers above the maximal value are not usable"
	case CodeSequenceOverflow:
		return "sequence number overflow"
	case CodeSequenceUnderflow:
		return "sequence number underflow"
	case CodeAmountOverflow:
		return "amount overflow"
	case CodeAmountUnderflow:
		return "amount underflow"
	case CodeBalanceOverflow:
		return "account balance overflow"
	case CodeBalanceUnderflow:
		return "account balance underflow"
	case CodeWrongShard:
		return "wrong shard used"
	case CodeInvalidCrossShardUpdate:
		return "invalid cross-shard update"
	case CodeInvalidDecoding:
		return "cannot deserialize message"
	case CodeUnexpectedMessage:
		return "unexpected message"
	case CodeClientIOError:
		return "network error while querying service: " + e.Detail
	default:
		return fmt.Sprintf("fastpay error %d", e.Code)
	}
}

func (e *Error) ValidateBasic() error {
	if e.Code == 0 {
		return NewErrorf(CodeInvalidDecoding, "error message without code")
	}
	return nil
}

// Recoverable reports whether the client can recover by synchronizing and
// retrying. Everything else is fatal for the current request.
func (e *Error) Recoverable() bool {
	switch e.Code {
	case CodeUnexpectedSequenceNumber,
		CodeMissingEarlierConfirmations,
		CodePreviousTransferMustBeConfirmedFirst,
		CodeWrongShard:
		return true
	default:
		return false
	}
}

// scoreKey folds context-carrying rejections of the same kind together when
// the client tallies error weight across authorities.
func (e *Error) scoreKey() string {
	return fmt.Sprintf("%d:%s", e.Code, e.Detail)
}

// ScoreKey is used by client-side quorum bookkeeping.
func ScoreKey(err error) string {
	if fe, ok := err.(*Error); ok {
		return fe.scoreKey()
	}
	return err.Error()
}

// AsError converts any failure into a wire-transportable Error.
func AsError(err error) *Error {
	if fe, ok := err.(*Error); ok {
		return fe
	}
	return &Error{Code: CodeClientIOError, Detail: err.Error()}
}
