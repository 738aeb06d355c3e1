package ledger

import (
	"errors"
	"testing"
)

func TestWrapErrorFormatsOperationCode(test *testing.T) {
	test.Parallel()
	baseErr := errors.New("boom")
	wrapped := WrapError("store", "entry", "insert", baseErr)
	if wrapped.Error() != "store.entry.insert: boom" {
		test.Fatalf("unexpected message %q", wrapped.Error())
	}
	if !errors.Is(wrapped, baseErr) {
		test.Fatalf("expected wrapped error to unwrap")
	}
	var operationError OperationError
	if !errors.As(wrapped, &operationError) || operationError.Code() != "insert" || operationError.Subject() != "entry" || operationError.Operation() != "store" {
		test.Fatalf("unexpected operation error %+v", operationError)
	}
	if WrapError("store", "entry", "insert", nil) != nil {
		test.Fatalf("expected nil for nil error")
	}
}

func TestCooldownErrorUnwraps(test *testing.T) {
	test.Parallel()
	err := WrapError("store", "attempt", "update", CooldownError{RetryAfterSeconds: 12})
	if !errors.Is(err, ErrCooldownActive) {
		test.Fatalf("expected cooldown sentinel")
	}
	var cooldown CooldownError
	if !errors.As(err, &cooldown) || cooldown.RetryAfterSeconds != 12 {
		test.Fatalf("expected retry after 12, got %+v", cooldown)
	}
}
