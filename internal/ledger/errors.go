package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Store-level sentinels. Storage collaborators return these; the engine
// translates them into coded errors.
var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("concurrent write conflict")
	ErrDuplicate = errors.New("duplicate")
)

// Kind groups error codes by how a caller should react to them.
type Kind string

const (
	KindValidation     Kind = "VALIDATION"
	KindNotFound       Kind = "NOT_FOUND"
	KindPolicy         Kind = "POLICY"
	KindConflict       Kind = "CONFLICT"
	KindInfrastructure Kind = "INFRASTRUCTURE"
)

type Code string

const (
	CodeInvalidAmount       Code = "INVALID_AMOUNT"
	CodeSelfTransfer        Code = "SELF_TRANSFER"
	CodeInvalidAccount      Code = "INVALID_ACCOUNT"
	CodeSenderNotFound      Code = "SENDER_NOT_FOUND"
	CodeReceiverNotFound    Code = "RECEIVER_NOT_FOUND"
	CodeTransactionNotFound Code = "TRANSACTION_NOT_FOUND"
	CodeAccountNotFound     Code = "ACCOUNT_NOT_FOUND"
	CodeInsufficientFunds   Code = "INSUFFICIENT_FUNDS"
	CodeAlreadyReversed     Code = "ALREADY_REVERSED"
	CodeCannotReverseFailed Code = "CANNOT_REVERSE_FAILED"
	CodeNotAuthorized       Code = "NOT_AUTHORIZED"
	CodeAccountExists       Code = "ACCOUNT_EXISTS"
	CodeConflict            Code = "CONFLICT"
	CodeStorageUnavailable  Code = "STORAGE_UNAVAILABLE"
)

var codeKinds = map[Code]Kind{
	CodeInvalidAmount:       KindValidation,
	CodeSelfTransfer:        KindValidation,
	CodeInvalidAccount:      KindValidation,
	CodeSenderNotFound:      KindNotFound,
	CodeReceiverNotFound:    KindNotFound,
	CodeTransactionNotFound: KindNotFound,
	CodeAccountNotFound:     KindNotFound,
	CodeInsufficientFunds:   KindPolicy,
	CodeAlreadyReversed:     KindPolicy,
	CodeCannotReverseFailed: KindPolicy,
	CodeNotAuthorized:       KindPolicy,
	CodeAccountExists:       KindPolicy,
	CodeConflict:            KindConflict,
	CodeStorageUnavailable:  KindInfrastructure,
}

// Kind returns the category of c.
func (c Code) Kind() Kind {
	if k, ok := codeKinds[c]; ok {
		return k
	}
	return KindInfrastructure
}

// Error is the typed failure returned by every engine operation. Two
// Errors match under errors.Is when their codes are equal, so callers can
// test against the Err* values below.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func newError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Kind() Kind { return e.Code.Kind() }

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidAmount       = newError(CodeInvalidAmount, "invalid amount")
	ErrBalanceOutOfRange   = newError(CodeInvalidAmount, "resulting balance is outside the supported range")
	ErrSelfTransfer        = newError(CodeSelfTransfer, "cannot transfer to the same account")
	ErrInvalidAccount      = newError(CodeInvalidAccount, "invalid account details")
	ErrSenderNotFound      = newError(CodeSenderNotFound, "sender account not found")
	ErrReceiverNotFound    = newError(CodeReceiverNotFound, "receiver account not found")
	ErrTransactionNotFound = newError(CodeTransactionNotFound, "transaction not found")
	ErrAccountNotFound     = newError(CodeAccountNotFound, "account not found")
	ErrInsufficientFunds   = newError(CodeInsufficientFunds, "insufficient funds")
	ErrAlreadyReversed     = newError(CodeAlreadyReversed, "transaction already reversed")
	ErrCannotReverseFailed = newError(CodeCannotReverseFailed, "cannot reverse a failed transaction")
	ErrNotAuthorized       = newError(CodeNotAuthorized, "caller is not a party to this transaction")
	ErrAccountExists       = newError(CodeAccountExists, "an account with this email already exists")
	ErrWriteConflict       = newError(CodeConflict, "concurrent update, try again")
	ErrStorageUnavailable  = newError(CodeStorageUnavailable, "storage unavailable")
)

// InsufficientFundsError carries the numbers a caller needs to explain the
// rejection. It matches ErrInsufficientFunds under errors.Is.
type InsufficientFundsError struct {
	Balance   decimal.Decimal
	Required  decimal.Decimal
	Shortfall decimal.Decimal
}

func newInsufficientFunds(balance, required decimal.Decimal) *InsufficientFundsError {
	return &InsufficientFundsError{
		Balance:   balance,
		Required:  required,
		Shortfall: required.Sub(balance),
	}
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s: balance %s is short of %s by %s",
		CodeInsufficientFunds, e.Balance.StringFixed(MinorUnitExp),
		e.Required.StringFixed(MinorUnitExp), e.Shortfall.StringFixed(MinorUnitExp))
}

func (e *InsufficientFundsError) Is(target error) bool {
	return errors.Is(ErrInsufficientFunds, target)
}

// CodeOf extracts the error code from err. Unknown errors report
// CodeStorageUnavailable.
func CodeOf(err error) Code {
	var ife *InsufficientFundsError
	if errors.As(err, &ife) {
		return CodeInsufficientFunds
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return CodeStorageUnavailable
}

// MessageOf returns the caller-safe message for err.
func MessageOf(err error) string {
	var ife *InsufficientFundsError
	if errors.As(err, &ife) {
		return ErrInsufficientFunds.Message
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Message
	}
	return ErrStorageUnavailable.Message
}

// storageFailure maps an error escaping an atomic unit to its coded form.
// Coded errors pass through; ErrConflict becomes CONFLICT; anything else is
// wrapped as STORAGE_UNAVAILABLE keeping the cause for logs.
func storageFailure(err error) error {
	var le *Error
	var ife *InsufficientFundsError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &le), errors.As(err, &ife):
		return err
	case errors.Is(err, ErrConflict):
		return &Error{Code: CodeConflict, Message: ErrWriteConflict.Message, cause: err}
	default:
		return &Error{Code: CodeStorageUnavailable, Message: ErrStorageUnavailable.Message, cause: err}
	}
}
