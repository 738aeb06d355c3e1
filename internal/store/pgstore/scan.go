package pgstore

import (
	"github.com/MarkoPoloResearchLab/visitpay/pkg/ledger"
	"github.com/jackc/pgx/v5"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (ledger.Account, error) {
	var (
		rawCustomerID string
		account       ledger.Account
		balance       int64
	)
	if err := row.Scan(&rawCustomerID, &balance, &account.LastSequence, &account.CreatedUnixUTC, &account.UpdatedUnixUTC); err != nil {
		return ledger.Account{}, err
	}
	customerID, err := ledger.NewCustomerID(rawCustomerID)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	account.CustomerID = customerID
	account.Balance = ledger.SignedAmount(balance)
	return account, nil
}

func scanEntries(rows pgx.Rows) ([]ledger.Entry, error) {
	var entries []ledger.Entry
	for rows.Next() {
		var (
			entry          ledger.Entry
			rawCustomerID  string
			rawType        string
			rawReferenceID string
			rawMetadata    string
			amount         int64
			balanceAfter   int64
		)
		if err := rows.Scan(
			&entry.EntryID,
			&rawCustomerID,
			&entry.Sequence,
			&amount,
			&rawType,
			&rawReferenceID,
			&entry.Description,
			&rawMetadata,
			&balanceAfter,
			&entry.CreatedUnixUTC,
		); err != nil {
			return nil, err
		}
		customerID, err := ledger.NewCustomerID(rawCustomerID)
		if err != nil {
			return nil, err
		}
		transactionType, err := ledger.ParseTransactionType(rawType)
		if err != nil {
			return nil, err
		}
		referenceID, err := ledger.NewReferenceID(rawReferenceID)
		if err != nil {
			return nil, err
		}
		metadata, err := ledger.NewMetadataJSON(rawMetadata)
		if err != nil {
			return nil, err
		}
		entry.CustomerID = customerID
		entry.Type = transactionType
		entry.ReferenceID = referenceID
		entry.Metadata = metadata
		entry.Amount = ledger.SignedAmount(amount)
		entry.BalanceAfter = ledger.SignedAmount(balanceAfter)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanAttempt(row rowScanner) (ledger.PaymentAttempt, error) {
	var (
		attempt                                    ledger.PaymentAttempt
		rawAttemptID, rawCustomerID, rawTargetID   string
		rawCurrency, rawPhone, rawMethod, rawState string
		amount                                     int64
	)
	if err := row.Scan(
		&rawAttemptID,
		&rawCustomerID,
		&rawTargetID,
		&amount,
		&rawCurrency,
		&rawPhone,
		&rawMethod,
		&rawState,
		&attempt.CodeHash,
		&attempt.CodeIssuedUnixUTC,
		&attempt.CodeExpiresUnixUTC,
		&attempt.AttemptCount,
		&attempt.ResendCount,
		&attempt.CapturedUnixUTC,
		&attempt.CreatedUnixUTC,
		&attempt.UpdatedUnixUTC,
	); err != nil {
		return ledger.PaymentAttempt{}, err
	}
	invalid := func(err error) (ledger.PaymentAttempt, error) {
		return ledger.PaymentAttempt{}, wrapStoreError(errorSubjectAttempt, errorCodeInvalid, err)
	}
	var err error
	if attempt.AttemptID, err = ledger.NewAttemptID(rawAttemptID); err != nil {
		return invalid(err)
	}
	if attempt.CustomerID, err = ledger.NewCustomerID(rawCustomerID); err != nil {
		return invalid(err)
	}
	if attempt.TargetID, err = ledger.NewTargetID(rawTargetID); err != nil {
		return invalid(err)
	}
	if attempt.Amount, err = ledger.NewAmount(amount); err != nil {
		return invalid(err)
	}
	if attempt.Currency, err = ledger.NewCurrency(rawCurrency); err != nil {
		return invalid(err)
	}
	if attempt.PhoneNumber, err = ledger.NewPhoneNumber(rawPhone); err != nil {
		return invalid(err)
	}
	if attempt.Method, err = ledger.ParsePaymentMethod(rawMethod); err != nil {
		return invalid(err)
	}
	if attempt.State, err = ledger.ParseAttemptState(rawState); err != nil {
		return invalid(err)
	}
	return attempt, nil
}

func scanVisit(row rowScanner) (ledger.VisitRequest, error) {
	var (
		visit                                    ledger.VisitRequest
		rawRequestID, rawCustomerID, rawTargetID string
		rawAttemptID, rawOutcome                 string
		amount                                   int64
	)
	if err := row.Scan(
		&rawRequestID,
		&rawCustomerID,
		&rawTargetID,
		&rawAttemptID,
		&amount,
		&rawOutcome,
		&visit.CreatedUnixUTC,
		&visit.ResolvedUnixUTC,
	); err != nil {
		return ledger.VisitRequest{}, err
	}
	invalid := func(err error) (ledger.VisitRequest, error) {
		return ledger.VisitRequest{}, wrapStoreError(errorSubjectVisit, errorCodeInvalid, err)
	}
	var err error
	if visit.RequestID, err = ledger.NewVisitRequestID(rawRequestID); err != nil {
		return invalid(err)
	}
	if visit.CustomerID, err = ledger.NewCustomerID(rawCustomerID); err != nil {
		return invalid(err)
	}
	if visit.TargetID, err = ledger.NewTargetID(rawTargetID); err != nil {
		return invalid(err)
	}
	if visit.PaymentAttemptID, err = ledger.NewAttemptID(rawAttemptID); err != nil {
		return invalid(err)
	}
	if visit.Amount, err = ledger.NewAmount(amount); err != nil {
		return invalid(err)
	}
	if visit.Outcome, err = ledger.ParseVisitOutcome(rawOutcome); err != nil {
		return invalid(err)
	}
	return visit, nil
}

func scanRefund(row rowScanner) (ledger.RefundRequest, error) {
	var (
		refund                                 ledger.RefundRequest
		rawRequestID, rawCustomerID, rawStatus string
		amount                                 int64
	)
	if err := row.Scan(
		&rawRequestID,
		&rawCustomerID,
		&amount,
		&refund.Reason,
		&rawStatus,
		&refund.AdminNote,
		&refund.DecidedBy,
		&refund.DecidedUnixUTC,
		&refund.CreatedUnixUTC,
	); err != nil {
		return ledger.RefundRequest{}, err
	}
	invalid := func(err error) (ledger.RefundRequest, error) {
		return ledger.RefundRequest{}, wrapStoreError(errorSubjectRefund, errorCodeInvalid, err)
	}
	var err error
	if refund.RequestID, err = ledger.NewRefundRequestID(rawRequestID); err != nil {
		return invalid(err)
	}
	if refund.CustomerID, err = ledger.NewCustomerID(rawCustomerID); err != nil {
		return invalid(err)
	}
	if refund.Amount, err = ledger.NewAmount(amount); err != nil {
		return invalid(err)
	}
	if refund.Status, err = ledger.ParseRefundStatus(rawStatus); err != nil {
		return invalid(err)
	}
	return refund, nil
}
