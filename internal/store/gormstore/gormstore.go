package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/visitpay/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pgUniqueViolationCode       = "23505"
	sqliteConstraintUnique      = 2067
	sqliteConstraintPrimaryKey  = 1555
	sqliteUniqueFailurePrefix   = "UNIQUE constraint failed: "
	sqliteConstraintColumnsJoin = ", "
	errorOperationStore         = "store"
	errorSubjectAccount         = "account"
	errorSubjectBalance         = "balance"
	errorSubjectEntry           = "entry"
	errorSubjectAttempt         = "attempt"
	errorSubjectVisit           = "visit_request"
	errorSubjectRefund          = "refund_request"
	errorCodeCreate             = "create"
	errorCodeDuplicate          = "duplicate"
	errorCodeGet                = "get"
	errorCodeInsert             = "insert"
	errorCodeInvalid            = "invalid"
	errorCodeList               = "list"
	errorCodeLock               = "lock"
	errorCodeSum                = "sum"
	errorCodeUpdate             = "update"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateAccount(ctx context.Context, customerID ledger.CustomerID, createdUnixUTC int64) error {
	createdAt := unixTime(createdUnixUTC)
	account := CustomerAccount{
		CustomerID: customerID.String(),
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "customer_id"}}, DoNothing: true}).
		Create(&account).Error
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) LockAccount(ctx context.Context, customerID ledger.CustomerID) (ledger.Account, error) {
	var model CustomerAccount
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("customer_id = ?", customerID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLock, ledger.ErrUnknownCustomer)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLock, err)
	}
	return mapAccount(model)
}

func (store *Store) GetAccount(ctx context.Context, customerID ledger.CustomerID) (ledger.Account, error) {
	var model CustomerAccount
	err := store.db.WithContext(ctx).
		Where("customer_id = ?", customerID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrUnknownCustomer)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(model)
}

func (store *Store) UpdateAccountBalance(ctx context.Context, customerID ledger.CustomerID, balance ledger.SignedAmount, lastSequence int64, updatedUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&CustomerAccount{}).
		Where("customer_id = ?", customerID.String()).
		Updates(map[string]interface{}{
			"balance":       balance.Int64(),
			"last_sequence": lastSequence,
			"updated_at":    unixTime(updatedUnixUTC),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrUnknownCustomer)
	}
	return nil
}

func (store *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	var rows []CustomerAccount
	if err := store.db.WithContext(ctx).Order("customer_id").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	accounts := make([]ledger.Account, 0, len(rows))
	for _, row := range rows {
		account, err := mapAccount(row)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (store *Store) InsertEntry(ctx context.Context, entry ledger.Entry) error {
	model := LedgerEntry{
		EntryID:         entry.EntryID,
		CustomerID:      entry.CustomerID.String(),
		Sequence:        entry.Sequence,
		Amount:          entry.Amount.Int64(),
		TransactionType: entry.Type.String(),
		ReferenceID:     entry.ReferenceID.String(),
		Description:     entry.Description,
		Metadata:        datatypesJSON(entry.Metadata.String()),
		BalanceAfter:    entry.BalanceAfter.Int64(),
		CreatedAt:       unixTime(entry.CreatedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, entrySequenceConstraint, entryReferenceConstraint) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateEntry)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) SumEntries(ctx context.Context, customerID ledger.CustomerID) (ledger.SignedAmount, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("coalesce(sum(amount),0) as total").
		Where("customer_id = ?", customerID.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	return ledger.SignedAmount(sum.Total), nil
}

func (store *Store) ListEntries(ctx context.Context, customerID ledger.CustomerID, beforeSequence int64, limit int) ([]ledger.Entry, error) {
	query := store.db.WithContext(ctx).Where("customer_id = ?", customerID.String())
	if beforeSequence > 0 {
		query = query.Where("sequence < ?", beforeSequence)
	}
	var rows []LedgerEntry
	if err := query.Order("sequence DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) CreateAttempt(ctx context.Context, attempt ledger.PaymentAttempt) error {
	model := attemptModel(attempt)
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, attemptOpenKeyConstraint) {
		return wrapStoreError(errorSubjectAttempt, errorCodeDuplicate, ledger.ErrConcurrentAttemptExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAttempt, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetAttempt(ctx context.Context, attemptID ledger.AttemptID) (ledger.PaymentAttempt, error) {
	var model PaymentAttempt
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("attempt_id = ?", attemptID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.PaymentAttempt{}, wrapStoreError(errorSubjectAttempt, errorCodeGet, ledger.ErrUnknownAttempt)
		}
		return ledger.PaymentAttempt{}, wrapStoreError(errorSubjectAttempt, errorCodeGet, err)
	}
	return mapAttempt(model)
}

func (store *Store) FindOpenAttempt(ctx context.Context, customerID ledger.CustomerID, targetID ledger.TargetID) (ledger.PaymentAttempt, error) {
	var model PaymentAttempt
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("open_key = ?", ledger.OpenAttemptKey(customerID, targetID)).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.PaymentAttempt{}, wrapStoreError(errorSubjectAttempt, errorCodeGet, ledger.ErrUnknownAttempt)
		}
		return ledger.PaymentAttempt{}, wrapStoreError(errorSubjectAttempt, errorCodeGet, err)
	}
	return mapAttempt(model)
}

func (store *Store) UpdateAttempt(ctx context.Context, attempt ledger.PaymentAttempt, from ledger.AttemptState) error {
	model := attemptModel(attempt)
	result := store.db.WithContext(ctx).
		Model(&PaymentAttempt{}).
		Where("attempt_id = ? AND state = ?", attempt.AttemptID.String(), from.String()).
		Updates(map[string]interface{}{
			"state":           model.State,
			"code_hash":       model.CodeHash,
			"code_issued_at":  model.CodeIssuedAt,
			"code_expires_at": model.CodeExpiresAt,
			"attempt_count":   model.AttemptCount,
			"resend_count":    model.ResendCount,
			"open_key":        model.OpenKey,
			"captured_at":     model.CapturedAt,
			"updated_at":      model.UpdatedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAttempt, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAttempt, errorCodeUpdate, ledger.ErrAttemptClosed)
	}
	return nil
}

func (store *Store) CreateVisitRequest(ctx context.Context, visit ledger.VisitRequest) error {
	model := VisitRequest{
		RequestID:        visit.RequestID.String(),
		CustomerID:       visit.CustomerID.String(),
		TargetID:         visit.TargetID.String(),
		PaymentAttemptID: visit.PaymentAttemptID.String(),
		Amount:           visit.Amount.Int64(),
		Outcome:          visit.Outcome.String(),
		CreatedAt:        unixTime(visit.CreatedUnixUTC),
		ResolvedAt:       optionalUnixTime(visit.ResolvedUnixUTC),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, visitAttemptConstraint) {
		return wrapStoreError(errorSubjectVisit, errorCodeDuplicate, ledger.ErrVisitRequestExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectVisit, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetVisitRequest(ctx context.Context, requestID ledger.VisitRequestID) (ledger.VisitRequest, error) {
	var model VisitRequest
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("request_id = ?", requestID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.VisitRequest{}, wrapStoreError(errorSubjectVisit, errorCodeGet, ledger.ErrUnknownVisitRequest)
		}
		return ledger.VisitRequest{}, wrapStoreError(errorSubjectVisit, errorCodeGet, err)
	}
	return mapVisitRequest(model)
}

func (store *Store) UpdateVisitRequest(ctx context.Context, visit ledger.VisitRequest, from ledger.VisitOutcome) error {
	result := store.db.WithContext(ctx).
		Model(&VisitRequest{}).
		Where("request_id = ? AND outcome = ?", visit.RequestID.String(), from.String()).
		Updates(map[string]interface{}{
			"outcome":     visit.Outcome.String(),
			"resolved_at": optionalUnixTime(visit.ResolvedUnixUTC),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectVisit, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectVisit, errorCodeUpdate, ledger.ErrAlreadyFinalized)
	}
	return nil
}

func (store *Store) ListPendingVisitRequests(ctx context.Context, createdBeforeUnixUTC int64, limit int) ([]ledger.VisitRequest, error) {
	var rows []VisitRequest
	err := store.db.WithContext(ctx).
		Where("outcome = ? AND created_at < ?", ledger.VisitOutcomePending.String(), unixTime(createdBeforeUnixUTC)).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectVisit, errorCodeList, err)
	}
	visits := make([]ledger.VisitRequest, 0, len(rows))
	for _, row := range rows {
		visit, err := mapVisitRequest(row)
		if err != nil {
			return nil, err
		}
		visits = append(visits, visit)
	}
	return visits, nil
}

func (store *Store) CreateRefundRequest(ctx context.Context, refund ledger.RefundRequest) error {
	model := RefundRequest{
		RequestID:  refund.RequestID.String(),
		CustomerID: refund.CustomerID.String(),
		Amount:     refund.Amount.Int64(),
		Reason:     refund.Reason,
		Status:     refund.Status.String(),
		AdminNote:  refund.AdminNote,
		DecidedBy:  refund.DecidedBy,
		DecidedAt:  optionalUnixTime(refund.DecidedUnixUTC),
		CreatedAt:  unixTime(refund.CreatedUnixUTC),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectRefund, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetRefundRequest(ctx context.Context, requestID ledger.RefundRequestID) (ledger.RefundRequest, error) {
	var model RefundRequest
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("request_id = ?", requestID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.RefundRequest{}, wrapStoreError(errorSubjectRefund, errorCodeGet, ledger.ErrUnknownRefundRequest)
		}
		return ledger.RefundRequest{}, wrapStoreError(errorSubjectRefund, errorCodeGet, err)
	}
	return mapRefundRequest(model)
}

func (store *Store) UpdateRefundRequest(ctx context.Context, refund ledger.RefundRequest, from ledger.RefundStatus) error {
	result := store.db.WithContext(ctx).
		Model(&RefundRequest{}).
		Where("request_id = ? AND status = ?", refund.RequestID.String(), from.String()).
		Updates(map[string]interface{}{
			"status":     refund.Status.String(),
			"admin_note": refund.AdminNote,
			"decided_by": refund.DecidedBy,
			"decided_at": optionalUnixTime(refund.DecidedUnixUTC),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectRefund, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectRefund, errorCodeUpdate, ledger.ErrAlreadyDecided)
	}
	return nil
}

func (store *Store) ListRefundRequests(ctx context.Context, status ledger.RefundStatus, limit int) ([]ledger.RefundRequest, error) {
	query := store.db.WithContext(ctx)
	if status != "" {
		query = query.Where("status = ?", status.String())
	}
	var rows []RefundRequest
	if err := query.Order("created_at ASC").Order("request_id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectRefund, errorCodeList, err)
	}
	refunds := make([]ledger.RefundRequest, 0, len(rows))
	for _, row := range rows {
		refund, err := mapRefundRequest(row)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, refund)
	}
	return refunds, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

// uniqueConstraint names a unique index and the table.column list SQLite
// reports when it fails, since SQLite error messages omit index names.
type uniqueConstraint struct {
	name    string
	columns []string
}

var (
	entrySequenceConstraint = uniqueConstraint{
		name:    indexEntrySequence,
		columns: []string{"ledger_entries.customer_id", "ledger_entries.sequence"},
	}
	entryReferenceConstraint = uniqueConstraint{
		name:    indexEntryReference,
		columns: []string{"ledger_entries.customer_id", "ledger_entries.transaction_type", "ledger_entries.reference_id"},
	}
	attemptOpenKeyConstraint = uniqueConstraint{
		name:    indexAttemptOpenKey,
		columns: []string{"payment_attempts.open_key"},
	}
	visitAttemptConstraint = uniqueConstraint{
		name:    indexVisitAttempt,
		columns: []string{"visit_requests.payment_attempt_id"},
	}
)

func (constraint uniqueConstraint) sqliteMessage() string {
	return sqliteUniqueFailurePrefix + strings.Join(constraint.columns, sqliteConstraintColumnsJoin)
}

// isUniqueViolation reports whether err is a unique violation of one of the
// given constraints. Other constraint failures (NOT NULL, CHECK, foreign keys,
// unrelated unique indexes) are left for the caller to surface as-is.
func isUniqueViolation(err error, constraints ...uniqueConstraint) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolationCode {
			return false
		}
		for _, constraint := range constraints {
			if pgErr.ConstraintName == constraint.name {
				return true
			}
		}
		return false
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		if code != sqliteConstraintUnique && code != sqliteConstraintPrimaryKey {
			return false
		}
		message := sqliteErr.Error()
		for _, constraint := range constraints {
			if strings.Contains(message, constraint.sqliteMessage()) {
				return true
			}
		}
		return false
	}
	return false
}

func unixTime(value int64) time.Time {
	return time.Unix(value, 0).UTC()
}

func optionalUnixTime(value int64) *time.Time {
	if value == 0 {
		return nil
	}
	converted := unixTime(value)
	return &converted
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}
