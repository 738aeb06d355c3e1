package pgstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/visitpay/pkg/ledger"
	"github.com/jackc/pgx/v5"
)

const (
	sqlCreateAccount = `
insert into customer_accounts (customer_id, balance, last_sequence, created_at, updated_at)
values ($1, 0, 0, to_timestamp($2), to_timestamp($2))
on conflict (customer_id) do nothing`

	sqlSelectAccount = `
select customer_id, balance, last_sequence, extract(epoch from created_at)::bigint, extract(epoch from updated_at)::bigint
from customer_accounts
where customer_id = $1`

	sqlLockAccount = sqlSelectAccount + `
for update`

	sqlListAccounts = `
select customer_id, balance, last_sequence, extract(epoch from created_at)::bigint, extract(epoch from updated_at)::bigint
from customer_accounts
order by customer_id`

	sqlUpdateAccountBalance = `
update customer_accounts
set balance = $2, last_sequence = $3, updated_at = to_timestamp($4)
where customer_id = $1`

	sqlInsertEntry = `
insert into ledger_entries (entry_id, customer_id, sequence, amount, transaction_type, reference_id, description, metadata, balance_after, created_at)
values ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, to_timestamp($10))`

	sqlSumEntries = `
select coalesce(sum(amount), 0)::bigint
from ledger_entries
where customer_id = $1`

	sqlListEntries = `
select entry_id::text, customer_id, sequence, amount, transaction_type, reference_id, description, metadata::text, balance_after, extract(epoch from created_at)::bigint
from ledger_entries
where customer_id = $1 and ($2::bigint = 0 or sequence < $2)
order by sequence desc
limit $3`

	attemptColumns = `
attempt_id, customer_id, target_id, amount, currency, phone_number, method, state, code_hash,
coalesce(extract(epoch from code_issued_at)::bigint, 0),
coalesce(extract(epoch from code_expires_at)::bigint, 0),
attempt_count, resend_count,
coalesce(extract(epoch from captured_at)::bigint, 0),
extract(epoch from created_at)::bigint,
extract(epoch from updated_at)::bigint`

	sqlInsertAttempt = `
insert into payment_attempts (attempt_id, customer_id, target_id, amount, currency, phone_number, method, state, code_hash,
	code_issued_at, code_expires_at, attempt_count, resend_count, open_key, captured_at, created_at, updated_at)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9,
	to_timestamp(nullif($10::bigint, 0)), to_timestamp(nullif($11::bigint, 0)), $12, $13, nullif($14::text, ''),
	to_timestamp(nullif($15::bigint, 0)), to_timestamp($16), to_timestamp($17))`

	sqlSelectAttempt = `select` + attemptColumns + `
from payment_attempts
where attempt_id = $1
for update`

	sqlSelectOpenAttempt = `select` + attemptColumns + `
from payment_attempts
where open_key = $1
for update`

	sqlUpdateAttempt = `
update payment_attempts
set state = $3, code_hash = $4,
	code_issued_at = to_timestamp(nullif($5::bigint, 0)),
	code_expires_at = to_timestamp(nullif($6::bigint, 0)),
	attempt_count = $7, resend_count = $8, open_key = nullif($9::text, ''),
	captured_at = to_timestamp(nullif($10::bigint, 0)),
	updated_at = to_timestamp($11)
where attempt_id = $1 and state = $2`

	visitColumns = `
request_id, customer_id, target_id, payment_attempt_id, amount, outcome,
extract(epoch from created_at)::bigint,
coalesce(extract(epoch from resolved_at)::bigint, 0)`

	sqlInsertVisit = `
insert into visit_requests (request_id, customer_id, target_id, payment_attempt_id, amount, outcome, created_at, resolved_at)
values ($1, $2, $3, $4, $5, $6, to_timestamp($7), to_timestamp(nullif($8::bigint, 0)))`

	sqlSelectVisit = `select` + visitColumns + `
from visit_requests
where request_id = $1
for update`

	sqlUpdateVisit = `
update visit_requests
set outcome = $3, resolved_at = to_timestamp(nullif($4::bigint, 0))
where request_id = $1 and outcome = $2`

	sqlListPendingVisits = `select` + visitColumns + `
from visit_requests
where outcome = 'pending' and created_at < to_timestamp($1)
order by created_at asc
limit $2`

	refundColumns = `
request_id, customer_id, amount, reason, status, admin_note, decided_by,
coalesce(extract(epoch from decided_at)::bigint, 0),
extract(epoch from created_at)::bigint`

	sqlInsertRefund = `
insert into refund_requests (request_id, customer_id, amount, reason, status, admin_note, decided_by, decided_at, created_at)
values ($1, $2, $3, $4, $5, $6, $7, to_timestamp(nullif($8::bigint, 0)), to_timestamp($9))`

	sqlSelectRefund = `select` + refundColumns + `
from refund_requests
where request_id = $1
for update`

	sqlUpdateRefund = `
update refund_requests
set status = $3, admin_note = $4, decided_by = $5, decided_at = to_timestamp(nullif($6::bigint, 0))
where request_id = $1 and status = $2`

	sqlListRefunds = `select` + refundColumns + `
from refund_requests
where ($1::text = '' or status = $1)
order by created_at asc, request_id asc
limit $2`
)

// queries holds the statements shared by Store and TxStore.
type queries struct {
	db querier
}

func (q queries) CreateAccount(ctx context.Context, customerID ledger.CustomerID, createdUnixUTC int64) error {
	if _, err := q.db.Exec(ctx, sqlCreateAccount, customerID.String(), createdUnixUTC); err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (q queries) LockAccount(ctx context.Context, customerID ledger.CustomerID) (ledger.Account, error) {
	return q.selectAccount(ctx, sqlLockAccount, errorCodeLock, customerID)
}

func (q queries) GetAccount(ctx context.Context, customerID ledger.CustomerID) (ledger.Account, error) {
	return q.selectAccount(ctx, sqlSelectAccount, errorCodeGet, customerID)
}

func (q queries) selectAccount(ctx context.Context, statement string, code string, customerID ledger.CustomerID) (ledger.Account, error) {
	account, err := scanAccount(q.db.QueryRow(ctx, statement, customerID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, code, ledger.ErrUnknownCustomer)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, code, err)
	}
	return account, nil
}

func (q queries) UpdateAccountBalance(ctx context.Context, customerID ledger.CustomerID, balance ledger.SignedAmount, lastSequence int64, updatedUnixUTC int64) error {
	tag, err := q.db.Exec(ctx, sqlUpdateAccountBalance, customerID.String(), balance.Int64(), lastSequence, updatedUnixUTC)
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrUnknownCustomer)
	}
	return nil
}

func (q queries) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := q.db.Query(ctx, sqlListAccounts)
	if err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	defer rows.Close()
	var accounts []ledger.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	return accounts, nil
}

func (q queries) InsertEntry(ctx context.Context, entry ledger.Entry) error {
	_, err := q.db.Exec(ctx, sqlInsertEntry,
		entry.EntryID,
		entry.CustomerID.String(),
		entry.Sequence,
		entry.Amount.Int64(),
		entry.Type.String(),
		entry.ReferenceID.String(),
		entry.Description,
		entry.Metadata.String(),
		entry.BalanceAfter.Int64(),
		entry.CreatedUnixUTC,
	)
	if isUniqueViolation(err, constraintEntrySequence, constraintEntryReference) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateEntry)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (q queries) SumEntries(ctx context.Context, customerID ledger.CustomerID) (ledger.SignedAmount, error) {
	var total int64
	if err := q.db.QueryRow(ctx, sqlSumEntries, customerID.String()).Scan(&total); err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSum, err)
	}
	return ledger.SignedAmount(total), nil
}

func (q queries) ListEntries(ctx context.Context, customerID ledger.CustomerID, beforeSequence int64, limit int) ([]ledger.Entry, error) {
	rows, err := q.db.Query(ctx, sqlListEntries, customerID.String(), beforeSequence, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entries, nil
}

func (q queries) CreateAttempt(ctx context.Context, attempt ledger.PaymentAttempt) error {
	_, err := q.db.Exec(ctx, sqlInsertAttempt,
		attempt.AttemptID.String(),
		attempt.CustomerID.String(),
		attempt.TargetID.String(),
		attempt.Amount.Int64(),
		attempt.Currency.String(),
		attempt.PhoneNumber.String(),
		attempt.Method.String(),
		attempt.State.String(),
		attempt.CodeHash,
		attempt.CodeIssuedUnixUTC,
		attempt.CodeExpiresUnixUTC,
		attempt.AttemptCount,
		attempt.ResendCount,
		attempt.OpenKey(),
		attempt.CapturedUnixUTC,
		attempt.CreatedUnixUTC,
		attempt.UpdatedUnixUTC,
	)
	if isUniqueViolation(err, constraintAttemptOpenKey) {
		return wrapStoreError(errorSubjectAttempt, errorCodeDuplicate, ledger.ErrConcurrentAttemptExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAttempt, errorCodeCreate, err)
	}
	return nil
}

func (q queries) GetAttempt(ctx context.Context, attemptID ledger.AttemptID) (ledger.PaymentAttempt, error) {
	return q.selectAttempt(ctx, sqlSelectAttempt, attemptID.String())
}

func (q queries) FindOpenAttempt(ctx context.Context, customerID ledger.CustomerID, targetID ledger.TargetID) (ledger.PaymentAttempt, error) {
	return q.selectAttempt(ctx, sqlSelectOpenAttempt, ledger.OpenAttemptKey(customerID, targetID))
}

func (q queries) selectAttempt(ctx context.Context, statement string, key string) (ledger.PaymentAttempt, error) {
	attempt, err := scanAttempt(q.db.QueryRow(ctx, statement, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.PaymentAttempt{}, wrapStoreError(errorSubjectAttempt, errorCodeGet, ledger.ErrUnknownAttempt)
		}
		return ledger.PaymentAttempt{}, wrapStoreError(errorSubjectAttempt, errorCodeGet, err)
	}
	return attempt, nil
}

func (q queries) UpdateAttempt(ctx context.Context, attempt ledger.PaymentAttempt, from ledger.AttemptState) error {
	tag, err := q.db.Exec(ctx, sqlUpdateAttempt,
		attempt.AttemptID.String(),
		from.String(),
		attempt.State.String(),
		attempt.CodeHash,
		attempt.CodeIssuedUnixUTC,
		attempt.CodeExpiresUnixUTC,
		attempt.AttemptCount,
		attempt.ResendCount,
		attempt.OpenKey(),
		attempt.CapturedUnixUTC,
		attempt.UpdatedUnixUTC,
	)
	if isUniqueViolation(err, constraintAttemptOpenKey) {
		return wrapStoreError(errorSubjectAttempt, errorCodeDuplicate, ledger.ErrConcurrentAttemptExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAttempt, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectAttempt, errorCodeUpdate, ledger.ErrAttemptClosed)
	}
	return nil
}

func (q queries) CreateVisitRequest(ctx context.Context, visit ledger.VisitRequest) error {
	_, err := q.db.Exec(ctx, sqlInsertVisit,
		visit.RequestID.String(),
		visit.CustomerID.String(),
		visit.TargetID.String(),
		visit.PaymentAttemptID.String(),
		visit.Amount.Int64(),
		visit.Outcome.String(),
		visit.CreatedUnixUTC,
		visit.ResolvedUnixUTC,
	)
	if isUniqueViolation(err, constraintVisitAttempt) {
		return wrapStoreError(errorSubjectVisit, errorCodeDuplicate, ledger.ErrVisitRequestExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectVisit, errorCodeCreate, err)
	}
	return nil
}

func (q queries) GetVisitRequest(ctx context.Context, requestID ledger.VisitRequestID) (ledger.VisitRequest, error) {
	visit, err := scanVisit(q.db.QueryRow(ctx, sqlSelectVisit, requestID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.VisitRequest{}, wrapStoreError(errorSubjectVisit, errorCodeGet, ledger.ErrUnknownVisitRequest)
		}
		return ledger.VisitRequest{}, wrapStoreError(errorSubjectVisit, errorCodeGet, err)
	}
	return visit, nil
}

func (q queries) UpdateVisitRequest(ctx context.Context, visit ledger.VisitRequest, from ledger.VisitOutcome) error {
	tag, err := q.db.Exec(ctx, sqlUpdateVisit, visit.RequestID.String(), from.String(), visit.Outcome.String(), visit.ResolvedUnixUTC)
	if err != nil {
		return wrapStoreError(errorSubjectVisit, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectVisit, errorCodeUpdate, ledger.ErrAlreadyFinalized)
	}
	return nil
}

func (q queries) ListPendingVisitRequests(ctx context.Context, createdBeforeUnixUTC int64, limit int) ([]ledger.VisitRequest, error) {
	rows, err := q.db.Query(ctx, sqlListPendingVisits, createdBeforeUnixUTC, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectVisit, errorCodeList, err)
	}
	defer rows.Close()
	var visits []ledger.VisitRequest
	for rows.Next() {
		visit, err := scanVisit(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectVisit, errorCodeList, err)
		}
		visits = append(visits, visit)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectVisit, errorCodeList, err)
	}
	return visits, nil
}

func (q queries) CreateRefundRequest(ctx context.Context, refund ledger.RefundRequest) error {
	_, err := q.db.Exec(ctx, sqlInsertRefund,
		refund.RequestID.String(),
		refund.CustomerID.String(),
		refund.Amount.Int64(),
		refund.Reason,
		refund.Status.String(),
		refund.AdminNote,
		refund.DecidedBy,
		refund.DecidedUnixUTC,
		refund.CreatedUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectRefund, errorCodeCreate, err)
	}
	return nil
}

func (q queries) GetRefundRequest(ctx context.Context, requestID ledger.RefundRequestID) (ledger.RefundRequest, error) {
	refund, err := scanRefund(q.db.QueryRow(ctx, sqlSelectRefund, requestID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.RefundRequest{}, wrapStoreError(errorSubjectRefund, errorCodeGet, ledger.ErrUnknownRefundRequest)
		}
		return ledger.RefundRequest{}, wrapStoreError(errorSubjectRefund, errorCodeGet, err)
	}
	return refund, nil
}

func (q queries) UpdateRefundRequest(ctx context.Context, refund ledger.RefundRequest, from ledger.RefundStatus) error {
	tag, err := q.db.Exec(ctx, sqlUpdateRefund,
		refund.RequestID.String(),
		from.String(),
		refund.Status.String(),
		refund.AdminNote,
		refund.DecidedBy,
		refund.DecidedUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectRefund, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectRefund, errorCodeUpdate, ledger.ErrAlreadyDecided)
	}
	return nil
}

func (q queries) ListRefundRequests(ctx context.Context, status ledger.RefundStatus, limit int) ([]ledger.RefundRequest, error) {
	rows, err := q.db.Query(ctx, sqlListRefunds, status.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectRefund, errorCodeList, err)
	}
	defer rows.Close()
	var refunds []ledger.RefundRequest
	for rows.Next() {
		refund, err := scanRefund(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRefund, errorCodeList, err)
		}
		refunds = append(refunds, refund)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectRefund, errorCodeList, err)
	}
	return refunds, nil
}
