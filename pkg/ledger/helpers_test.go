package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

var _ Store = (*memStore)(nil)

const testStartUnixUTC = int64(1_700_000_000)

type testClock struct {
	now atomic.Int64
}

func newTestClock() *testClock {
	clock := &testClock{}
	clock.now.Store(testStartUnixUTC)
	return clock
}

func (clock *testClock) Now() int64 {
	return clock.now.Load()
}

func (clock *testClock) Advance(seconds int64) {
	clock.now.Add(seconds)
}

type recordingSender struct {
	mutex      sync.Mutex
	deliveries []CodeDelivery
	err        error
}

func (sender *recordingSender) SendCode(ctx context.Context, delivery CodeDelivery) error {
	sender.mutex.Lock()
	defer sender.mutex.Unlock()
	sender.deliveries = append(sender.deliveries, delivery)
	return sender.err
}

func (sender *recordingSender) lastCode(test *testing.T) string {
	test.Helper()
	sender.mutex.Lock()
	defer sender.mutex.Unlock()
	if len(sender.deliveries) == 0 {
		test.Fatalf("no code delivered")
	}
	return sender.deliveries[len(sender.deliveries)-1].Code.String()
}

func (sender *recordingSender) count() int {
	sender.mutex.Lock()
	defer sender.mutex.Unlock()
	return len(sender.deliveries)
}

type recordingLogger struct {
	mutex   sync.Mutex
	entries []OperationLog
}

func (logger *recordingLogger) LogOperation(ctx context.Context, entry OperationLog) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recordingLogger) byOperation(operation string) []OperationLog {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	matched := make([]OperationLog, 0)
	for _, entry := range logger.entries {
		if entry.Operation == operation {
			matched = append(matched, entry)
		}
	}
	return matched
}

type serviceFixture struct {
	store   *memStore
	clock   *testClock
	sender  *recordingSender
	logger  *recordingLogger
	service *Service
}

func newServiceFixture(test *testing.T, options ...ServiceOption) *serviceFixture {
	test.Helper()
	fixture := &serviceFixture{
		store:  newMemStore(),
		clock:  newTestClock(),
		sender: &recordingSender{},
		logger: &recordingLogger{},
	}
	baseOptions := []ServiceOption{
		WithCodeSender(fixture.sender),
		WithOperationLogger(fixture.logger),
		WithCodeHashCost(bcrypt.MinCost),
	}
	service, err := NewService(fixture.store, fixture.clock.Now, append(baseOptions, options...)...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	fixture.service = service
	return fixture
}

func (fixture *serviceFixture) initiate(test *testing.T, customer string, target string, amount int64) PaymentAttempt {
	test.Helper()
	attempt, err := fixture.service.Initiate(context.Background(), PaymentIntent{
		CustomerID:  mustCustomerID(test, customer),
		TargetID:    mustTargetID(test, target),
		Amount:      mustAmount(test, amount),
		PhoneNumber: mustPhoneNumber(test, "+224 620 00 00 00"),
		Method:      PaymentMethodOrangeMoney,
	})
	if err != nil {
		test.Fatalf("initiate: %v", err)
	}
	return attempt
}

func (fixture *serviceFixture) capture(test *testing.T, customer string, target string, amount int64) PaymentAttempt {
	test.Helper()
	attempt := fixture.initiate(test, customer, target, amount)
	captured, err := fixture.service.Verify(context.Background(), attempt.CustomerID, attempt.AttemptID, fixture.sender.lastCode(test))
	if err != nil {
		test.Fatalf("verify: %v", err)
	}
	return captured
}

func (fixture *serviceFixture) credit(test *testing.T, customer string, amount int64, reference string) {
	test.Helper()
	_, err := fixture.service.AdjustBalance(context.Background(), mustCustomerID(test, customer), SignedAmount(amount), mustReferenceID(test, reference), "seed")
	if err != nil {
		test.Fatalf("adjust balance: %v", err)
	}
}

func (fixture *serviceFixture) balance(test *testing.T, customer string) SignedAmount {
	test.Helper()
	balance, err := fixture.service.Balance(context.Background(), mustCustomerID(test, customer))
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	return balance
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func mustCustomerID(test *testing.T, raw string) CustomerID {
	test.Helper()
	value, err := NewCustomerID(raw)
	if err != nil {
		test.Fatalf("customer id: %v", err)
	}
	return value
}

func mustTargetID(test *testing.T, raw string) TargetID {
	test.Helper()
	value, err := NewTargetID(raw)
	if err != nil {
		test.Fatalf("target id: %v", err)
	}
	return value
}

func mustReferenceID(test *testing.T, raw string) ReferenceID {
	test.Helper()
	value, err := NewReferenceID(raw)
	if err != nil {
		test.Fatalf("reference id: %v", err)
	}
	return value
}

func mustAmount(test *testing.T, raw int64) Amount {
	test.Helper()
	value, err := NewAmount(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return value
}

func mustPhoneNumber(test *testing.T, raw string) PhoneNumber {
	test.Helper()
	value, err := NewPhoneNumber(raw)
	if err != nil {
		test.Fatalf("phone number: %v", err)
	}
	return value
}
