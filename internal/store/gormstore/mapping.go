package gormstore

import (
	"github.com/MarkoPoloResearchLab/visitpay/pkg/ledger"
)

func mapAccount(row CustomerAccount) (ledger.Account, error) {
	customerID, err := ledger.NewCustomerID(row.CustomerID)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return ledger.Account{
		CustomerID:     customerID,
		Balance:        ledger.SignedAmount(row.Balance),
		LastSequence:   row.LastSequence,
		CreatedUnixUTC: row.CreatedAt.Unix(),
		UpdatedUnixUTC: row.UpdatedAt.Unix(),
	}, nil
}

func mapLedgerEntry(row LedgerEntry) (ledger.Entry, error) {
	customerID, err := ledger.NewCustomerID(row.CustomerID)
	if err != nil {
		return ledger.Entry{}, err
	}
	transactionType, err := ledger.ParseTransactionType(row.TransactionType)
	if err != nil {
		return ledger.Entry{}, err
	}
	referenceID, err := ledger.NewReferenceID(row.ReferenceID)
	if err != nil {
		return ledger.Entry{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Entry{}, err
	}
	return ledger.Entry{
		EntryID:        row.EntryID,
		CustomerID:     customerID,
		Sequence:       row.Sequence,
		Amount:         ledger.SignedAmount(row.Amount),
		Type:           transactionType,
		ReferenceID:    referenceID,
		Description:    row.Description,
		Metadata:       metadata,
		BalanceAfter:   ledger.SignedAmount(row.BalanceAfter),
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func attemptModel(attempt ledger.PaymentAttempt) PaymentAttempt {
	var openKey *string
	if value := attempt.OpenKey(); value != "" {
		openKey = &value
	}
	return PaymentAttempt{
		AttemptID:     attempt.AttemptID.String(),
		CustomerID:    attempt.CustomerID.String(),
		TargetID:      attempt.TargetID.String(),
		Amount:        attempt.Amount.Int64(),
		Currency:      attempt.Currency.String(),
		PhoneNumber:   attempt.PhoneNumber.String(),
		Method:        attempt.Method.String(),
		State:         attempt.State.String(),
		CodeHash:      attempt.CodeHash,
		CodeIssuedAt:  optionalUnixTime(attempt.CodeIssuedUnixUTC),
		CodeExpiresAt: optionalUnixTime(attempt.CodeExpiresUnixUTC),
		AttemptCount:  attempt.AttemptCount,
		ResendCount:   attempt.ResendCount,
		OpenKey:       openKey,
		CapturedAt:    optionalUnixTime(attempt.CapturedUnixUTC),
		CreatedAt:     unixTime(attempt.CreatedUnixUTC),
		UpdatedAt:     unixTime(attempt.UpdatedUnixUTC),
	}
}

func mapAttempt(row PaymentAttempt) (ledger.PaymentAttempt, error) {
	invalid := func(err error) (ledger.PaymentAttempt, error) {
		return ledger.PaymentAttempt{}, wrapStoreError(errorSubjectAttempt, errorCodeInvalid, err)
	}
	attemptID, err := ledger.NewAttemptID(row.AttemptID)
	if err != nil {
		return invalid(err)
	}
	customerID, err := ledger.NewCustomerID(row.CustomerID)
	if err != nil {
		return invalid(err)
	}
	targetID, err := ledger.NewTargetID(row.TargetID)
	if err != nil {
		return invalid(err)
	}
	amount, err := ledger.NewAmount(row.Amount)
	if err != nil {
		return invalid(err)
	}
	currency, err := ledger.NewCurrency(row.Currency)
	if err != nil {
		return invalid(err)
	}
	phoneNumber, err := ledger.NewPhoneNumber(row.PhoneNumber)
	if err != nil {
		return invalid(err)
	}
	method, err := ledger.ParsePaymentMethod(row.Method)
	if err != nil {
		return invalid(err)
	}
	state, err := ledger.ParseAttemptState(row.State)
	if err != nil {
		return invalid(err)
	}
	return ledger.PaymentAttempt{
		AttemptID:          attemptID,
		CustomerID:         customerID,
		TargetID:           targetID,
		Amount:             amount,
		Currency:           currency,
		PhoneNumber:        phoneNumber,
		Method:             method,
		State:              state,
		CodeHash:           row.CodeHash,
		CodeIssuedUnixUTC:  timeOrZero(row.CodeIssuedAt),
		CodeExpiresUnixUTC: timeOrZero(row.CodeExpiresAt),
		AttemptCount:       row.AttemptCount,
		ResendCount:        row.ResendCount,
		CapturedUnixUTC:    timeOrZero(row.CapturedAt),
		CreatedUnixUTC:     row.CreatedAt.Unix(),
		UpdatedUnixUTC:     row.UpdatedAt.Unix(),
	}, nil
}

func mapVisitRequest(row VisitRequest) (ledger.VisitRequest, error) {
	invalid := func(err error) (ledger.VisitRequest, error) {
		return ledger.VisitRequest{}, wrapStoreError(errorSubjectVisit, errorCodeInvalid, err)
	}
	requestID, err := ledger.NewVisitRequestID(row.RequestID)
	if err != nil {
		return invalid(err)
	}
	customerID, err := ledger.NewCustomerID(row.CustomerID)
	if err != nil {
		return invalid(err)
	}
	targetID, err := ledger.NewTargetID(row.TargetID)
	if err != nil {
		return invalid(err)
	}
	attemptID, err := ledger.NewAttemptID(row.PaymentAttemptID)
	if err != nil {
		return invalid(err)
	}
	amount, err := ledger.NewAmount(row.Amount)
	if err != nil {
		return invalid(err)
	}
	outcome, err := ledger.ParseVisitOutcome(row.Outcome)
	if err != nil {
		return invalid(err)
	}
	return ledger.VisitRequest{
		RequestID:        requestID,
		CustomerID:       customerID,
		TargetID:         targetID,
		PaymentAttemptID: attemptID,
		Amount:           amount,
		Outcome:          outcome,
		CreatedUnixUTC:   row.CreatedAt.Unix(),
		ResolvedUnixUTC:  timeOrZero(row.ResolvedAt),
	}, nil
}

func mapRefundRequest(row RefundRequest) (ledger.RefundRequest, error) {
	invalid := func(err error) (ledger.RefundRequest, error) {
		return ledger.RefundRequest{}, wrapStoreError(errorSubjectRefund, errorCodeInvalid, err)
	}
	requestID, err := ledger.NewRefundRequestID(row.RequestID)
	if err != nil {
		return invalid(err)
	}
	customerID, err := ledger.NewCustomerID(row.CustomerID)
	if err != nil {
		return invalid(err)
	}
	amount, err := ledger.NewAmount(row.Amount)
	if err != nil {
		return invalid(err)
	}
	status, err := ledger.ParseRefundStatus(row.Status)
	if err != nil {
		return invalid(err)
	}
	return ledger.RefundRequest{
		RequestID:      requestID,
		CustomerID:     customerID,
		Amount:         amount,
		Reason:         row.Reason,
		Status:         status,
		AdminNote:      row.AdminNote,
		DecidedBy:      row.DecidedBy,
		DecidedUnixUTC: timeOrZero(row.DecidedAt),
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}
