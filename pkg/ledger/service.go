package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Service contains the domain logic over a Store.
type Service struct {
	store                  Store
	nowFn                  func() int64
	logger                 OperationLogger
	sender                 CodeSender
	policy                 AuthorizationPolicy
	currency               Currency
	hashCost               int
	generateCode           func() (OneTimeCode, error)
	deliveryTimeoutSeconds int64
	maxAmount              Amount
	fees                   FeeResolver
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:                  store,
		nowFn:                  now,
		policy:                 DefaultAuthorizationPolicy(),
		currency:               Currency{value: defaultCurrencyCode},
		hashCost:               bcrypt.DefaultCost,
		generateCode:           generateOneTimeCode,
		deliveryTimeoutSeconds: defaultDeliveryTimeoutSecs,
		maxAmount:              defaultMaxAmount,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if err := service.policy.validate(); err != nil {
		return nil, err
	}
	if service.currency.value == "" {
		return nil, fmt.Errorf("%w: currency is empty", ErrInvalidServiceConfig)
	}
	if service.hashCost < bcrypt.MinCost || service.hashCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: code hash cost %d out of range", ErrInvalidServiceConfig, service.hashCost)
	}
	if service.generateCode == nil {
		return nil, fmt.Errorf("%w: code generator is nil", ErrInvalidServiceConfig)
	}
	if service.deliveryTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("%w: delivery timeout must be positive", ErrInvalidServiceConfig)
	}
	if service.maxAmount <= 0 {
		return nil, fmt.Errorf("%w: maximum amount must be positive", ErrInvalidServiceConfig)
	}
	return service, nil
}

// Currency returns the currency every attempt is charged in.
func (service *Service) Currency() Currency {
	return service.currency
}

// Policy returns the active authorization policy.
func (service *Service) Policy() AuthorizationPolicy {
	return service.policy
}

// AppendRequest describes a single ledger write.
type AppendRequest struct {
	CustomerID  CustomerID
	Amount      SignedAmount
	Type        TransactionType
	ReferenceID ReferenceID
	Description string
	Metadata    MetadataJSON
}

// Append writes one entry and moves the cached balance in the same transaction.
func (service *Service) Append(ctx context.Context, request AppendRequest) (Entry, error) {
	var entry Entry
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		appended, err := service.appendEntry(ctx, transactionStore, request)
		if err != nil {
			return err
		}
		entry = appended
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:   OperationAppend,
		CustomerID:  request.CustomerID,
		ReferenceID: request.ReferenceID.String(),
		Amount:      request.Amount,
		Error:       operationError,
	})
	if operationError != nil {
		return Entry{}, operationError
	}
	return entry, nil
}

// AdjustBalance writes an admin_adjustment entry. The reference is the idempotency key.
func (service *Service) AdjustBalance(ctx context.Context, customerID CustomerID, amount SignedAmount, referenceID ReferenceID, description string) (Entry, error) {
	var entry Entry
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if amount > service.maxAmount.Signed() || amount < service.maxAmount.Negated() {
			return fmt.Errorf("%w: %d exceeds the maximum of %d", ErrInvalidAmount, amount, service.maxAmount)
		}
		appended, err := service.appendEntry(ctx, transactionStore, AppendRequest{
			CustomerID:  customerID,
			Amount:      amount,
			Type:        TransactionAdminAdjustment,
			ReferenceID: referenceID,
			Description: description,
		})
		if err != nil {
			return err
		}
		entry = appended
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:   OperationAdjust,
		CustomerID:  customerID,
		ReferenceID: referenceID.String(),
		Amount:      amount,
		Error:       operationError,
	})
	if operationError != nil {
		return Entry{}, operationError
	}
	return entry, nil
}

// Balance sums the customer's entries.
func (service *Service) Balance(ctx context.Context, customerID CustomerID) (SignedAmount, error) {
	if customerID.value == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidCustomerID)
	}
	if _, err := service.store.GetAccount(ctx, customerID); err != nil {
		return 0, err
	}
	return service.store.SumEntries(ctx, customerID)
}

// History lists entries newest first. A zero beforeSequence starts at the newest entry.
func (service *Service) History(ctx context.Context, customerID CustomerID, beforeSequence int64, limit int) ([]Entry, error) {
	if customerID.value == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidCustomerID)
	}
	if beforeSequence < 0 {
		return nil, fmt.Errorf("%w: before_sequence must not be negative", ErrInvalidListLimit)
	}
	normalizedLimit, err := normalizeListLimit(limit)
	if err != nil {
		return nil, err
	}
	return service.store.ListEntries(ctx, customerID, beforeSequence, normalizedLimit)
}

// AuditMismatch reports an account whose cached balance disagrees with its entries.
type AuditMismatch struct {
	CustomerID         CustomerID
	CachedBalance      SignedAmount
	EntrySum           SignedAmount
	LatestBalanceAfter SignedAmount
}

// Audit checks every account's cached balance against the sum of its entries and the newest balance_after.
func (service *Service) Audit(ctx context.Context) ([]AuditMismatch, error) {
	accounts, err := service.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	mismatches := make([]AuditMismatch, 0)
	for _, account := range accounts {
		sum, err := service.store.SumEntries(ctx, account.CustomerID)
		if err != nil {
			return nil, err
		}
		latest, err := service.store.ListEntries(ctx, account.CustomerID, 0, 1)
		if err != nil {
			return nil, err
		}
		var latestBalanceAfter SignedAmount
		if len(latest) > 0 {
			latestBalanceAfter = latest[0].BalanceAfter
		}
		if account.Balance != sum || latestBalanceAfter != sum {
			mismatches = append(mismatches, AuditMismatch{
				CustomerID:         account.CustomerID,
				CachedBalance:      account.Balance,
				EntrySum:           sum,
				LatestBalanceAfter: latestBalanceAfter,
			})
		}
	}
	return mismatches, nil
}

func (service *Service) appendEntry(ctx context.Context, transactionStore Store, request AppendRequest) (Entry, error) {
	if request.CustomerID.value == "" {
		return Entry{}, fmt.Errorf("%w: empty value", ErrInvalidCustomerID)
	}
	if request.ReferenceID.value == "" {
		return Entry{}, fmt.Errorf("%w: empty value", ErrInvalidReferenceID)
	}
	if _, err := ParseTransactionType(request.Type.String()); err != nil {
		return Entry{}, err
	}
	if !request.Type.acceptsAmount(request.Amount) {
		return Entry{}, fmt.Errorf("%w: %d is not valid for %s", ErrInvalidAmount, request.Amount, request.Type)
	}
	nowUnixUTC := service.nowFn()
	if request.Type.opensAccount() {
		if err := transactionStore.CreateAccount(ctx, request.CustomerID, nowUnixUTC); err != nil {
			return Entry{}, err
		}
	}
	account, err := transactionStore.LockAccount(ctx, request.CustomerID)
	if err != nil {
		return Entry{}, err
	}
	balanceAfter, ok := addSigned(account.Balance, request.Amount)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %d would overflow balance %d", ErrInvalidAmount, request.Amount, account.Balance)
	}
	if request.Amount < 0 && !request.Type.preAuthorized() && balanceAfter < 0 {
		return Entry{}, fmt.Errorf("%w: balance %d cannot cover %d", ErrInsufficientBalance, account.Balance, -request.Amount)
	}
	entryID, err := uuid.NewV7()
	if err != nil {
		return Entry{}, WrapError(errorOperationService, "entry", "id", err)
	}
	entry := Entry{
		EntryID:        entryID.String(),
		CustomerID:     request.CustomerID,
		Sequence:       account.LastSequence + 1,
		Amount:         request.Amount,
		Type:           request.Type,
		ReferenceID:    request.ReferenceID,
		Description:    request.Description,
		Metadata:       request.Metadata,
		BalanceAfter:   balanceAfter,
		CreatedUnixUTC: nowUnixUTC,
	}
	if err := transactionStore.InsertEntry(ctx, entry); err != nil {
		return Entry{}, err
	}
	if err := transactionStore.UpdateAccountBalance(ctx, request.CustomerID, balanceAfter, entry.Sequence, nowUnixUTC); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func addSigned(left SignedAmount, right SignedAmount) (SignedAmount, bool) {
	sum := left + right
	if (right > 0 && sum < left) || (right < 0 && sum > left) {
		return 0, false
	}
	return sum, true
}

func normalizeListLimit(limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, fmt.Errorf("%w: %d", ErrInvalidListLimit, limit)
	case limit == 0:
		return defaultHistoryLimit, nil
	case limit > maxHistoryLimit:
		return maxHistoryLimit, nil
	}
	return limit, nil
}

func newRecordID() string {
	return uuid.NewString()
}
