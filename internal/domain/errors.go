package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for propagation and transport mapping.
type Kind string

const (
	KindValidation   Kind = "VALIDATION"
	KindPolicy       Kind = "POLICY"
	KindConflict     Kind = "CONFLICT"
	KindExecution    Kind = "EXECUTION"
	KindNotFound     Kind = "NOT_FOUND"
	KindUnauthorized Kind = "UNAUTHORIZED"
)

// Error is a typed workflow failure carrying a stable code and a user-facing message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

// Is matches on Code so that detailed copies compare equal to their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidRequest      = newError(KindValidation, "InvalidRequest", "transfer request is malformed")
	ErrInvalidAmount       = newError(KindValidation, "InvalidAmount", "amount is invalid")
	ErrSameAccount         = newError(KindValidation, "SameAccount", "source and destination must differ")
	ErrInvalidScheduleDate = newError(KindValidation, "InvalidScheduleDate", "scheduled date must be after tomorrow 00:00")
	ErrReasonTooShort      = newError(KindValidation, "ReasonTooShort", "rejection reason must be at least 10 characters")

	ErrAccountNotEligible            = newError(KindPolicy, "AccountNotEligible", "source account is not active")
	ErrDestinationUnresolved         = newError(KindPolicy, "DestinationUnresolved", "destination could not be resolved")
	ErrInsufficientFunds             = newError(KindPolicy, "InsufficientFunds", "insufficient available balance")
	ErrDailyLimitExceeded            = newError(KindPolicy, "DailyLimitExceeded", "daily transfer limit exceeded")
	ErrCurrencyMismatch              = newError(KindPolicy, "CurrencyMismatch", "currency does not match account currency")
	ErrInsufficientApprovalAuthority = newError(KindPolicy, "InsufficientApprovalAuthority", "approver ceiling is below the operation amount")
	ErrApprovalRequired              = newError(KindPolicy, "ApprovalRequired", "operation requires approval")
	ErrCancellationWindowClosed      = newError(KindPolicy, "CancellationWindowClosed", "cancellation deadline has passed")

	ErrConcurrentModification = newError(KindConflict, "ConcurrentModification", "account changed since validation")
	ErrInvalidStateTransition = newError(KindConflict, "InvalidStateTransition", "operation is not allowed in the current state")
	ErrIdempotencyConflict    = newError(KindConflict, "IdempotencyConflict", "idempotency key was used with a different request")

	ErrExecutionFailure = newError(KindExecution, "ExecutionFailure", "transfer could not be committed")

	ErrTransferNotFound     = newError(KindNotFound, "TransferNotFound", "transfer not found")
	ErrAccountNotFound      = newError(KindNotFound, "AccountNotFound", "account not found")
	ErrBeneficiaryNotFound  = newError(KindNotFound, "BeneficiaryNotFound", "beneficiary not found")
	ErrScheduledJobNotFound = newError(KindNotFound, "ScheduledJobNotFound", "scheduled job not found")

	ErrUnauthorized = newError(KindUnauthorized, "Unauthorized", "principal is not allowed to perform this operation")
	ErrSelfApproval = newError(KindUnauthorized, "SelfApproval", "initiator cannot review their own operation")
)

// Errorf returns a copy of base with a detailed message.
func Errorf(base *Error, format string, args ...any) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns a copy of base that keeps cause in its chain.
func Wrap(base *Error, cause error) *Error {
	msg := base.Message
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", base.Message, cause)
	}
	return &Error{Kind: base.Kind, Code: base.Code, Message: msg, cause: cause}
}

// AsError extracts the workflow error from err, if any.
func AsError(err error) (*Error, bool) {
	var derr *Error
	if errors.As(err, &derr) {
		return derr, true
	}
	return nil, false
}
