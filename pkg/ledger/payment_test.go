package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func sequentialCodes() func() (OneTimeCode, error) {
	var counter atomic.Int64
	return func() (OneTimeCode, error) {
		return ParseOneTimeCode(fmt.Sprintf("%06d", 100_000+counter.Add(1)))
	}
}

func TestInitiateIssuesHashedCode(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	attempt := fixture.initiate(test, "customer-1", "rental-9", 100_000)

	if attempt.State != AttemptStateCodeSent {
		test.Fatalf("expected code_sent, got %s", attempt.State)
	}
	if attempt.CodeHash != "" {
		test.Fatalf("expected redacted code hash")
	}
	if attempt.Currency.String() != "GNF" {
		test.Fatalf("expected default currency, got %s", attempt.Currency)
	}
	if attempt.CodeExpiresUnixUTC != testStartUnixUTC+60 {
		test.Fatalf("expected expiry at +60s, got %d", attempt.CodeExpiresUnixUTC)
	}
	stored := fixture.store.attempt(attempt.AttemptID)
	code := fixture.sender.lastCode(test)
	if stored.CodeHash == "" || strings.Contains(stored.CodeHash, code) {
		test.Fatalf("expected a bcrypt hash, got %q", stored.CodeHash)
	}
	if stored.OpenKey() != "10:customer-1|rental-9" {
		test.Fatalf("unexpected open key %q", stored.OpenKey())
	}
	delivery := fixture.sender.deliveries[0]
	if delivery.PhoneNumber.String() != "+224620000000" {
		test.Fatalf("unexpected normalized phone %s", delivery.PhoneNumber)
	}
	if len(fixture.logger.byOperation(OperationDeliverCode)) != 1 {
		test.Fatalf("expected delivery to be logged")
	}
}

func TestInitiateValidatesIntent(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	validIntent := PaymentIntent{
		CustomerID:  mustCustomerID(test, "customer-1"),
		TargetID:    mustTargetID(test, "target-1"),
		Amount:      mustAmount(test, 500),
		PhoneNumber: mustPhoneNumber(test, "620000000"),
		Method:      PaymentMethodMTNMoney,
	}
	usd, err := NewCurrency("usd")
	if err != nil {
		test.Fatalf("currency: %v", err)
	}
	testCases := []struct {
		name        string
		mutate      func(intent *PaymentIntent)
		expectedErr error
	}{
		{name: "amount", mutate: func(intent *PaymentIntent) { intent.Amount = 0 }, expectedErr: ErrInvalidAmount},
		{name: "amount above maximum", mutate: func(intent *PaymentIntent) { intent.Amount = Amount(math.MaxInt64) }, expectedErr: ErrInvalidAmount},
		{name: "phone", mutate: func(intent *PaymentIntent) { intent.PhoneNumber = PhoneNumber{} }, expectedErr: ErrInvalidPhoneNumber},
		{name: "method", mutate: func(intent *PaymentIntent) { intent.Method = "paypal" }, expectedErr: ErrInvalidPaymentMethod},
		{name: "currency", mutate: func(intent *PaymentIntent) { intent.Currency = usd }, expectedErr: ErrInvalidCurrency},
		{name: "target", mutate: func(intent *PaymentIntent) { intent.TargetID = TargetID{} }, expectedErr: ErrInvalidTargetID},
	}
	for _, testCase := range testCases {
		intent := validIntent
		testCase.mutate(&intent)
		if _, err := fixture.service.Initiate(context.Background(), intent); !errors.Is(err, testCase.expectedErr) {
			test.Fatalf("%s: expected %v, got %v", testCase.name, testCase.expectedErr, err)
		}
	}
	if fixture.sender.count() != 0 {
		test.Fatalf("expected no deliveries for rejected intents")
	}
}

func TestInitiateAllowsOneOpenAttemptPerPair(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	fixture.initiate(test, "customer-1", "target-1", 1_000)

	_, err := fixture.service.Initiate(context.Background(), PaymentIntent{
		CustomerID:  mustCustomerID(test, "customer-1"),
		TargetID:    mustTargetID(test, "target-1"),
		Amount:      mustAmount(test, 1_000),
		PhoneNumber: mustPhoneNumber(test, "620000000"),
		Method:      PaymentMethodOrangeMoney,
	})
	if !errors.Is(err, ErrConcurrentAttemptExists) {
		test.Fatalf("expected concurrent attempt, got %v", err)
	}
	fixture.initiate(test, "customer-1", "target-2", 1_000)
	fixture.initiate(test, "customer-2", "target-1", 1_000)
}

func TestOpenKeyKeepsDelimiterIdentifiersApart(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	first := fixture.initiate(test, "a|b", "c", 1_000)
	second := fixture.initiate(test, "a", "b|c", 1_000)
	if first.OpenKey() == second.OpenKey() {
		test.Fatalf("expected distinct open keys, both were %q", first.OpenKey())
	}

	fixture.clock.Advance(fixture.service.Policy().CodeTTLSeconds + 1)
	fixture.initiate(test, "a", "b|c", 1_000)
	if stored := fixture.store.attempt(first.AttemptID); stored.State != AttemptStateCodeSent {
		test.Fatalf("expected other customer's attempt untouched, got %s", stored.State)
	}
	if stored := fixture.store.attempt(second.AttemptID); stored.State != AttemptStateExpired {
		test.Fatalf("expected stale attempt of the same pair to expire, got %s", stored.State)
	}
}

func TestInitiatePricesFromFeeResolver(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, WithFeeResolver(FixedFee(75_000)))
	intent := func(target string, amount Amount) PaymentIntent {
		return PaymentIntent{
			CustomerID:  mustCustomerID(test, "customer-fee"),
			TargetID:    mustTargetID(test, target),
			Amount:      amount,
			PhoneNumber: mustPhoneNumber(test, "620000000"),
			Method:      PaymentMethodOrangeMoney,
		}
	}
	ctx := context.Background()

	priced, err := fixture.service.Initiate(ctx, intent("target-1", 0))
	if err != nil {
		test.Fatalf("initiate without amount: %v", err)
	}
	if priced.Amount != 75_000 {
		test.Fatalf("expected resolved fee 75000, got %d", priced.Amount)
	}
	if _, err := fixture.service.Initiate(ctx, intent("target-2", 100)); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected mismatched amount to fail, got %v", err)
	}
	if _, err := fixture.service.Initiate(ctx, intent("target-3", 75_000)); err != nil {
		test.Fatalf("initiate with matching amount: %v", err)
	}
}

func TestInitiateRaceYieldsSingleAttempt(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	intent := PaymentIntent{
		CustomerID:  mustCustomerID(test, "customer-race"),
		TargetID:    mustTargetID(test, "target-race"),
		Amount:      mustAmount(test, 2_500),
		PhoneNumber: mustPhoneNumber(test, "620000000"),
		Method:      PaymentMethodOrangeMoney,
	}
	const callers = 12
	var successes atomic.Int64
	var conflicts atomic.Int64
	var group sync.WaitGroup
	for caller := 0; caller < callers; caller++ {
		group.Add(1)
		go func() {
			defer group.Done()
			_, err := fixture.service.Initiate(context.Background(), intent)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrConcurrentAttemptExists):
				conflicts.Add(1)
			}
		}()
	}
	group.Wait()
	if successes.Load() != 1 || conflicts.Load() != callers-1 {
		test.Fatalf("expected 1 success and %d conflicts, got %d and %d", callers-1, successes.Load(), conflicts.Load())
	}
}

func TestInitiateExpiresStaleAttempt(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	stale := fixture.initiate(test, "customer-1", "target-1", 1_000)
	fixture.clock.Advance(61)

	fresh := fixture.initiate(test, "customer-1", "target-1", 1_000)
	if fresh.AttemptID == stale.AttemptID {
		test.Fatalf("expected a new attempt")
	}
	if state := fixture.store.attempt(stale.AttemptID).State; state != AttemptStateExpired {
		test.Fatalf("expected stale attempt expired, got %s", state)
	}
}

func TestVerifyCapturesAndWritesEscrow(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	captured := fixture.capture(test, "customer-1", "rental-1", 100_000)

	if captured.State != AttemptStateCaptured {
		test.Fatalf("expected captured, got %s", captured.State)
	}
	if captured.CapturedUnixUTC != testStartUnixUTC {
		test.Fatalf("expected captured_at set")
	}
	if fixture.store.attempt(captured.AttemptID).CodeHash != "" {
		test.Fatalf("expected code hash cleared after capture")
	}
	if balance := fixture.balance(test, "customer-1"); balance != -100_000 {
		test.Fatalf("expected balance -100000, got %d", balance)
	}
	entries, err := fixture.service.History(context.Background(), captured.CustomerID, 0, 10)
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != TransactionChargeEscrow || entries[0].ReferenceID.String() != captured.AttemptID.String() {
		test.Fatalf("unexpected entries %+v", entries)
	}
	if _, err := fixture.service.Verify(context.Background(), captured.CustomerID, captured.AttemptID, fixture.sender.lastCode(test)); !errors.Is(err, ErrAttemptClosed) {
		test.Fatalf("expected attempt closed on replay, got %v", err)
	}
	fixture.initiate(test, "customer-1", "rental-1", 100_000)
}

func TestVerifyThreeWrongCodesAbandonsAttempt(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	attempt := fixture.initiate(test, "customer-1", "target-1", 5_000)
	wrong := wrongCode(fixture.sender.lastCode(test))

	expected := []error{ErrCodeMismatch, ErrCodeMismatch, ErrAttemptLimitExceeded}
	for index, expectedErr := range expected {
		result, err := fixture.service.Verify(context.Background(), attempt.CustomerID, attempt.AttemptID, wrong)
		if !errors.Is(err, expectedErr) {
			test.Fatalf("guess %d: expected %v, got %v", index+1, expectedErr, err)
		}
		if result.AttemptCount != index+1 {
			test.Fatalf("guess %d: expected attempt_count %d, got %d", index+1, index+1, result.AttemptCount)
		}
	}
	if state := fixture.store.attempt(attempt.AttemptID).State; state != AttemptStateAbandoned {
		test.Fatalf("expected abandoned, got %s", state)
	}
	if count := fixture.store.entryCount(); count != 0 {
		test.Fatalf("expected no ledger entries, got %d", count)
	}
	if _, err := fixture.service.Verify(context.Background(), attempt.CustomerID, attempt.AttemptID, fixture.sender.lastCode(test)); !errors.Is(err, ErrAttemptClosed) {
		test.Fatalf("expected attempt closed, got %v", err)
	}
}

func TestVerifyRejectsMalformedCodeWithoutCounting(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	attempt := fixture.initiate(test, "customer-1", "target-1", 5_000)
	for _, malformed := range []string{"12345", "1234567", "12a456", "", "１２３４５６"} {
		if _, err := fixture.service.Verify(context.Background(), attempt.CustomerID, attempt.AttemptID, malformed); !errors.Is(err, ErrInvalidCode) {
			test.Fatalf("%q: expected invalid code, got %v", malformed, err)
		}
	}
	if count := fixture.store.attempt(attempt.AttemptID).AttemptCount; count != 0 {
		test.Fatalf("expected attempt_count 0, got %d", count)
	}
}

func TestVerifyExpiredEvenWithCorrectCode(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	attempt := fixture.initiate(test, "customer-1", "target-1", 5_000)
	code := fixture.sender.lastCode(test)
	fixture.clock.Advance(61)

	result, err := fixture.service.Verify(context.Background(), attempt.CustomerID, attempt.AttemptID, code)
	if !errors.Is(err, ErrExpired) {
		test.Fatalf("expected expired, got %v", err)
	}
	if result.State != AttemptStateCodeSent {
		test.Fatalf("expected attempt to stay code_sent, got %s", result.State)
	}
	if fixture.store.entryCount() != 0 {
		test.Fatalf("expected no ledger entries")
	}
	if _, err := fixture.service.Resend(context.Background(), attempt.CustomerID, attempt.AttemptID); err != nil {
		test.Fatalf("resend: %v", err)
	}
	captured, err := fixture.service.Verify(context.Background(), attempt.CustomerID, attempt.AttemptID, fixture.sender.lastCode(test))
	if err != nil {
		test.Fatalf("verify after resend: %v", err)
	}
	if captured.State != AttemptStateCaptured {
		test.Fatalf("expected captured, got %s", captured.State)
	}
}

func TestVerifyExpiredWithoutResendBudgetClosesAttempt(test *testing.T) {
	test.Parallel()
	policy := DefaultAuthorizationPolicy()
	policy.MaxResends = 0
	fixture := newServiceFixture(test, WithAuthorizationPolicy(policy))
	attempt := fixture.initiate(test, "customer-1", "target-1", 5_000)
	fixture.clock.Advance(61)

	result, err := fixture.service.Verify(context.Background(), attempt.CustomerID, attempt.AttemptID, fixture.sender.lastCode(test))
	if !errors.Is(err, ErrExpired) {
		test.Fatalf("expected expired, got %v", err)
	}
	if result.State != AttemptStateExpired {
		test.Fatalf("expected expired state, got %s", result.State)
	}
	if stored := fixture.store.attempt(attempt.AttemptID); stored.OpenKey() != "" {
		test.Fatalf("expected open key released")
	}
}

func TestResendEnforcesCooldownAndLimit(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test, WithCodeGenerator(sequentialCodes()))
	attempt := fixture.initiate(test, "customer-1", "target-1", 5_000)
	firstCode := fixture.sender.lastCode(test)

	fixture.clock.Advance(20)
	_, err := fixture.service.Resend(context.Background(), attempt.CustomerID, attempt.AttemptID)
	var cooldown CooldownError
	if !errors.As(err, &cooldown) || !errors.Is(err, ErrCooldownActive) {
		test.Fatalf("expected cooldown error, got %v", err)
	}
	if cooldown.RetryAfterSeconds != 40 {
		test.Fatalf("expected 40s remaining, got %d", cooldown.RetryAfterSeconds)
	}

	for resend := 1; resend <= 3; resend++ {
		fixture.clock.Advance(60)
		result, err := fixture.service.Resend(context.Background(), attempt.CustomerID, attempt.AttemptID)
		if err != nil {
			test.Fatalf("resend %d: %v", resend, err)
		}
		if result.ResendCount != resend {
			test.Fatalf("expected resend_count %d, got %d", resend, result.ResendCount)
		}
	}
	fixture.clock.Advance(60)
	if _, err := fixture.service.Resend(context.Background(), attempt.CustomerID, attempt.AttemptID); !errors.Is(err, ErrRetryLimitExceeded) {
		test.Fatalf("expected retry limit, got %v", err)
	}
	if fixture.sender.count() != 4 {
		test.Fatalf("expected 4 deliveries, got %d", fixture.sender.count())
	}
	fixture.clock.Advance(-30)
	if _, err := fixture.service.Verify(context.Background(), attempt.CustomerID, attempt.AttemptID, firstCode); !errors.Is(err, ErrCodeMismatch) {
		test.Fatalf("expected the replaced code to mismatch, got %v", err)
	}
	if _, err := fixture.service.Verify(context.Background(), attempt.CustomerID, attempt.AttemptID, fixture.sender.lastCode(test)); err != nil {
		test.Fatalf("verify newest code: %v", err)
	}
}

func TestResendRejectsClosedAttempt(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	attempt := fixture.initiate(test, "customer-1", "target-1", 5_000)
	if _, err := fixture.service.Abandon(context.Background(), attempt.CustomerID, attempt.AttemptID); err != nil {
		test.Fatalf("abandon: %v", err)
	}
	fixture.clock.Advance(120)
	if _, err := fixture.service.Resend(context.Background(), attempt.CustomerID, attempt.AttemptID); !errors.Is(err, ErrAttemptClosed) {
		test.Fatalf("expected attempt closed, got %v", err)
	}
	if _, err := fixture.service.Abandon(context.Background(), attempt.CustomerID, attempt.AttemptID); !errors.Is(err, ErrAttemptClosed) {
		test.Fatalf("expected attempt closed on second abandon, got %v", err)
	}
	fixture.initiate(test, "customer-1", "target-1", 5_000)
}

func TestAttemptsOfOtherCustomersAreUnknown(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	attempt := fixture.initiate(test, "customer-1", "target-1", 5_000)
	intruder := mustCustomerID(test, "customer-2")
	if _, err := fixture.service.Verify(context.Background(), intruder, attempt.AttemptID, fixture.sender.lastCode(test)); !errors.Is(err, ErrUnknownAttempt) {
		test.Fatalf("expected unknown attempt on verify, got %v", err)
	}
	if _, err := fixture.service.Abandon(context.Background(), intruder, attempt.AttemptID); !errors.Is(err, ErrUnknownAttempt) {
		test.Fatalf("expected unknown attempt on abandon, got %v", err)
	}
	if _, err := fixture.service.GetAttempt(context.Background(), intruder, attempt.AttemptID); !errors.Is(err, ErrUnknownAttempt) {
		test.Fatalf("expected unknown attempt on get, got %v", err)
	}
}

func TestDeliveryFailureDoesNotFailInitiate(test *testing.T) {
	test.Parallel()
	fixture := newServiceFixture(test)
	fixture.sender.err = errors.New("gateway down")

	attempt := fixture.initiate(test, "customer-1", "target-1", 5_000)
	if attempt.State != AttemptStateCodeSent {
		test.Fatalf("expected code_sent, got %s", attempt.State)
	}
	deliveries := fixture.logger.byOperation(OperationDeliverCode)
	if len(deliveries) != 1 || !errors.Is(deliveries[0].Error, ErrCodeDelivery) {
		test.Fatalf("expected logged delivery failure, got %+v", deliveries)
	}
	code := fixture.sender.lastCode(test)
	for _, entry := range fixture.logger.entries {
		if entry.Error != nil && strings.Contains(entry.Error.Error(), code) {
			test.Fatalf("code leaked into operation log: %v", entry.Error)
		}
	}
}
