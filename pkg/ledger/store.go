package ledger

import (
	"context"
	"strconv"
)

// Account is the per-customer balance row. Balance caches the sum of the customer's entries.
type Account struct {
	CustomerID     CustomerID
	Balance        SignedAmount
	LastSequence   int64
	CreatedUnixUTC int64
	UpdatedUnixUTC int64
}

// Entry is an immutable ledger row.
type Entry struct {
	EntryID        string
	CustomerID     CustomerID
	Sequence       int64
	Amount         SignedAmount
	Type           TransactionType
	ReferenceID    ReferenceID
	Description    string
	Metadata       MetadataJSON
	BalanceAfter   SignedAmount
	CreatedUnixUTC int64
}

// PaymentAttempt tracks one paid action from intent to capture or abandonment.
type PaymentAttempt struct {
	AttemptID          AttemptID
	CustomerID         CustomerID
	TargetID           TargetID
	Amount             Amount
	Currency           Currency
	PhoneNumber        PhoneNumber
	Method             PaymentMethod
	State              AttemptState
	CodeHash           string
	CodeIssuedUnixUTC  int64
	CodeExpiresUnixUTC int64
	AttemptCount       int
	ResendCount        int
	CapturedUnixUTC    int64
	CreatedUnixUTC     int64
	UpdatedUnixUTC     int64
}

// OpenKey is the customer/target pair while the attempt is live and empty once it is terminal.
func (attempt PaymentAttempt) OpenKey() string {
	if attempt.State.Terminal() {
		return ""
	}
	return OpenAttemptKey(attempt.CustomerID, attempt.TargetID)
}

// OpenAttemptKey builds the uniqueness key for live attempts. The customer part is length-prefixed
// so no pair of identifiers can produce the key of another pair.
func OpenAttemptKey(customerID CustomerID, targetID TargetID) string {
	customer := customerID.String()
	return strconv.Itoa(len(customer)) + openKeyLengthSeparator + customer + openKeyDelimiter + targetID.String()
}

// VisitRequest is the paid request created after a captured attempt.
type VisitRequest struct {
	RequestID        VisitRequestID
	CustomerID       CustomerID
	TargetID         TargetID
	PaymentAttemptID AttemptID
	Amount           Amount
	Outcome          VisitOutcome
	CreatedUnixUTC   int64
	ResolvedUnixUTC  int64
}

// RefundRequest is a customer's claim against the settled balance.
type RefundRequest struct {
	RequestID      RefundRequestID
	CustomerID     CustomerID
	Amount         Amount
	Reason         string
	Status         RefundStatus
	AdminNote      string
	DecidedBy      string
	DecidedUnixUTC int64
	CreatedUnixUTC int64
}

// Store persists ledger state. Get* and Lock* methods take row locks when called inside WithTx.
// Update* methods are compare-and-set on the prior state and fail when it no longer matches.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	CreateAccount(ctx context.Context, customerID CustomerID, createdUnixUTC int64) error
	LockAccount(ctx context.Context, customerID CustomerID) (Account, error)
	GetAccount(ctx context.Context, customerID CustomerID) (Account, error)
	UpdateAccountBalance(ctx context.Context, customerID CustomerID, balance SignedAmount, lastSequence int64, updatedUnixUTC int64) error
	ListAccounts(ctx context.Context) ([]Account, error)

	InsertEntry(ctx context.Context, entry Entry) error
	SumEntries(ctx context.Context, customerID CustomerID) (SignedAmount, error)
	ListEntries(ctx context.Context, customerID CustomerID, beforeSequence int64, limit int) ([]Entry, error)

	CreateAttempt(ctx context.Context, attempt PaymentAttempt) error
	GetAttempt(ctx context.Context, attemptID AttemptID) (PaymentAttempt, error)
	FindOpenAttempt(ctx context.Context, customerID CustomerID, targetID TargetID) (PaymentAttempt, error)
	UpdateAttempt(ctx context.Context, attempt PaymentAttempt, from AttemptState) error

	CreateVisitRequest(ctx context.Context, visit VisitRequest) error
	GetVisitRequest(ctx context.Context, requestID VisitRequestID) (VisitRequest, error)
	UpdateVisitRequest(ctx context.Context, visit VisitRequest, from VisitOutcome) error
	ListPendingVisitRequests(ctx context.Context, createdBeforeUnixUTC int64, limit int) ([]VisitRequest, error)

	CreateRefundRequest(ctx context.Context, refund RefundRequest) error
	GetRefundRequest(ctx context.Context, requestID RefundRequestID) (RefundRequest, error)
	UpdateRefundRequest(ctx context.Context, refund RefundRequest, from RefundStatus) error
	ListRefundRequests(ctx context.Context, status RefundStatus, limit int) ([]RefundRequest, error)
}
