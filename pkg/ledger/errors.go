package ledger

import (
	"errors"
	"fmt"
)

// Validation errors: the request is rejected and nothing changes.
var (
	ErrInvalidCustomerID      = errors.New("invalid customer id")
	ErrInvalidTargetID        = errors.New("invalid target id")
	ErrInvalidAttemptID       = errors.New("invalid attempt id")
	ErrInvalidRequestID       = errors.New("invalid request id")
	ErrInvalidReferenceID     = errors.New("invalid reference id")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrInvalidPhoneNumber     = errors.New("invalid phone number")
	ErrInvalidPaymentMethod   = errors.New("invalid payment method")
	ErrInvalidCurrency        = errors.New("invalid currency")
	ErrInvalidCode            = errors.New("invalid code format")
	ErrInvalidOutcome         = errors.New("invalid outcome")
	ErrInvalidDecision        = errors.New("invalid decision")
	ErrInvalidReason          = errors.New("invalid reason")
	ErrInvalidMetadataJSON    = errors.New("invalid metadata json")
	ErrInvalidAttemptState    = errors.New("invalid attempt state")
	ErrInvalidRefundStatus    = errors.New("invalid refund status")
	ErrInvalidListLimit       = errors.New("invalid list limit")
	ErrInvalidServiceConfig   = errors.New("invalid service config")
)

// Lookup errors.
var (
	ErrUnknownCustomer      = errors.New("unknown customer")
	ErrUnknownAttempt       = errors.New("unknown payment attempt")
	ErrUnknownVisitRequest  = errors.New("unknown visit request")
	ErrUnknownRefundRequest = errors.New("unknown refund request")
)

// State-conflict errors: refresh and call the correct operation instead.
var (
	ErrConcurrentAttemptExists = errors.New("concurrent attempt exists")
	ErrAttemptClosed           = errors.New("payment attempt closed")
	ErrAttemptNotCaptured      = errors.New("payment attempt not captured")
	ErrVisitRequestExists      = errors.New("visit request already exists")
	ErrAlreadyFinalized        = errors.New("visit request already finalized")
	ErrAlreadyDecided          = errors.New("refund request already decided")
	ErrDuplicateEntry          = errors.New("duplicate ledger entry")
	ErrInsufficientBalance     = errors.New("insufficient balance")
)

// Authorization errors. Mismatch and cooldown are retryable on the same attempt;
// expiry and the two limits require a resend or a new attempt.
var (
	ErrCodeMismatch         = errors.New("code mismatch")
	ErrCooldownActive       = errors.New("cooldown active")
	ErrExpired              = errors.New("code expired")
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	ErrRetryLimitExceeded   = errors.New("retry limit exceeded")
)

// ErrCodeDelivery marks a failed out-of-band code delivery. It is reported to the
// operation logger, never to the caller of Initiate or Resend.
var ErrCodeDelivery = errors.New("code delivery failed")

// CooldownError reports how long a caller must wait before a resend is accepted.
type CooldownError struct {
	RetryAfterSeconds int64
}

// Error returns the formatted error message.
func (cooldownError CooldownError) Error() string {
	return fmt.Sprintf("%v: retry after %ds", ErrCooldownActive, cooldownError.RetryAfterSeconds)
}

// Unwrap returns ErrCooldownActive.
func (cooldownError CooldownError) Unwrap() error {
	return ErrCooldownActive
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
