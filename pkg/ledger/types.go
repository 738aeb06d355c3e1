package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	phoneNumberMinDigits = 9
	phoneNumberMaxDigits = 15
	oneTimeCodeLength    = 6
	currencyCodeLength   = 3
)

// Amount is a strictly positive quantity of minor currency units.
type Amount int64

// SignedAmount is a signed quantity of minor currency units (entry amounts and balances).
type SignedAmount int64

// NewAmount validates an amount and ensures it is strictly positive.
func NewAmount(raw int64) (Amount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Amount(raw), nil
}

// Int64 returns the raw value.
func (amount Amount) Int64() int64 {
	return int64(amount)
}

// Signed returns the amount as a credit.
func (amount Amount) Signed() SignedAmount {
	return SignedAmount(amount)
}

// Negated returns the amount as a debit.
func (amount Amount) Negated() SignedAmount {
	return SignedAmount(-amount)
}

// Int64 returns the raw value.
func (amount SignedAmount) Int64() int64 {
	return int64(amount)
}

// CustomerID identifies an authenticated customer and owns all ledger rows.
type CustomerID struct {
	value string
}

// TargetID identifies what a charge is for (a rental, a provider).
type TargetID struct {
	value string
}

// AttemptID identifies a payment attempt.
type AttemptID struct {
	value string
}

// VisitRequestID identifies a paid visit request.
type VisitRequestID struct {
	value string
}

// RefundRequestID identifies a refund request.
type RefundRequestID struct {
	value string
}

// ReferenceID links a ledger entry to the record that caused it.
type ReferenceID struct {
	value string
}

// NewCustomerID validates and normalizes a customer id.
func NewCustomerID(raw string) (CustomerID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidCustomerID)
	return CustomerID{value: value}, err
}

// String returns the normalized identifier.
func (id CustomerID) String() string {
	return id.value
}

// NewTargetID validates and normalizes a target id.
func NewTargetID(raw string) (TargetID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidTargetID)
	return TargetID{value: value}, err
}

// String returns the normalized identifier.
func (id TargetID) String() string {
	return id.value
}

// NewAttemptID validates and normalizes an attempt id.
func NewAttemptID(raw string) (AttemptID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidAttemptID)
	return AttemptID{value: value}, err
}

// String returns the normalized identifier.
func (id AttemptID) String() string {
	return id.value
}

// Reference returns the ledger reference for entries caused by this attempt.
func (id AttemptID) Reference() ReferenceID {
	return ReferenceID{value: id.value}
}

// NewVisitRequestID validates and normalizes a visit request id.
func NewVisitRequestID(raw string) (VisitRequestID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidRequestID)
	return VisitRequestID{value: value}, err
}

// String returns the normalized identifier.
func (id VisitRequestID) String() string {
	return id.value
}

// Reference returns the ledger reference for entries caused by this visit request.
func (id VisitRequestID) Reference() ReferenceID {
	return ReferenceID{value: id.value}
}

// NewRefundRequestID validates and normalizes a refund request id.
func NewRefundRequestID(raw string) (RefundRequestID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidRequestID)
	return RefundRequestID{value: value}, err
}

// String returns the normalized identifier.
func (id RefundRequestID) String() string {
	return id.value
}

// Reference returns the ledger reference for entries caused by this refund request.
func (id RefundRequestID) Reference() ReferenceID {
	return ReferenceID{value: id.value}
}

// NewReferenceID validates and normalizes a reference id.
func NewReferenceID(raw string) (ReferenceID, error) {
	value, err := normalizeIdentifier(raw, ErrInvalidReferenceID)
	return ReferenceID{value: value}, err
}

// String returns the normalized identifier.
func (id ReferenceID) String() string {
	return id.value
}

func normalizeIdentifier(raw string, kind error) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", kind)
	}
	return trimmed, nil
}

// PhoneNumber is the payment channel a one-time code is delivered to.
type PhoneNumber struct {
	value string
}

// NewPhoneNumber strips separators and accepts an optional leading "+" followed by 9 to 15 digits.
func NewPhoneNumber(raw string) (PhoneNumber, error) {
	trimmed := strings.TrimSpace(raw)
	var builder strings.Builder
	for index, character := range trimmed {
		switch {
		case character >= '0' && character <= '9':
			builder.WriteRune(character)
		case character == '+' && index == 0:
			builder.WriteRune(character)
		case character == ' ' || character == '-' || character == '.':
		default:
			return PhoneNumber{}, fmt.Errorf("%w: unexpected character %q", ErrInvalidPhoneNumber, character)
		}
	}
	normalized := builder.String()
	digits := len(strings.TrimPrefix(normalized, "+"))
	if digits < phoneNumberMinDigits || digits > phoneNumberMaxDigits {
		return PhoneNumber{}, fmt.Errorf("%w: expected %d to %d digits", ErrInvalidPhoneNumber, phoneNumberMinDigits, phoneNumberMaxDigits)
	}
	return PhoneNumber{value: normalized}, nil
}

// String returns the normalized phone number.
func (phone PhoneNumber) String() string {
	return phone.value
}

// Masked hides all but the last three digits.
func (phone PhoneNumber) Masked() string {
	if len(phone.value) <= 3 {
		return phone.value
	}
	return strings.Repeat("*", len(phone.value)-3) + phone.value[len(phone.value)-3:]
}

// Currency is an ISO-4217 style code.
type Currency struct {
	value string
}

// NewCurrency validates a three-letter currency code.
func NewCurrency(raw string) (Currency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if len(normalized) != currencyCodeLength {
		return Currency{}, fmt.Errorf("%w: expected %d letters", ErrInvalidCurrency, currencyCodeLength)
	}
	for _, character := range normalized {
		if character < 'A' || character > 'Z' {
			return Currency{}, fmt.Errorf("%w: expected letters only", ErrInvalidCurrency)
		}
	}
	return Currency{value: normalized}, nil
}

// String returns the currency code.
func (currency Currency) String() string {
	return currency.value
}

// OneTimeCode is a six digit verification code.
type OneTimeCode struct {
	value string
}

// ParseOneTimeCode accepts exactly six ASCII digits.
func ParseOneTimeCode(raw string) (OneTimeCode, error) {
	if len(raw) != oneTimeCodeLength {
		return OneTimeCode{}, fmt.Errorf("%w: expected %d digits", ErrInvalidCode, oneTimeCodeLength)
	}
	for index := 0; index < len(raw); index++ {
		if raw[index] < '0' || raw[index] > '9' {
			return OneTimeCode{}, fmt.Errorf("%w: expected digits only", ErrInvalidCode)
		}
	}
	return OneTimeCode{value: raw}, nil
}

// String returns the code. Callers must never log it.
func (code OneTimeCode) String() string {
	return code.value
}

// MetadataJSON stores arbitrary entry metadata.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// TransactionType enumerates ledger entry kinds.
type TransactionType string

const (
	TransactionChargeEscrow    TransactionType = "charge_escrow"
	TransactionChargeCapture   TransactionType = "charge_capture"
	TransactionChargeReversal  TransactionType = "charge_reversal"
	TransactionAdminAdjustment TransactionType = "admin_adjustment"
	TransactionRefund          TransactionType = "refund"
)

// ParseTransactionType validates a stored or requested entry type.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(raw) {
	case TransactionChargeEscrow, TransactionChargeCapture, TransactionChargeReversal, TransactionAdminAdjustment, TransactionRefund:
		return TransactionType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
}

// String returns the stored representation.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// preAuthorized reports whether a debit of this type was authorized outside the free balance.
func (transactionType TransactionType) preAuthorized() bool {
	return transactionType == TransactionChargeEscrow || transactionType == TransactionChargeCapture
}

// opensAccount reports whether an entry of this type may be the first one a customer receives.
func (transactionType TransactionType) opensAccount() bool {
	return transactionType == TransactionChargeEscrow || transactionType == TransactionAdminAdjustment
}

// acceptsAmount enforces the sign each entry type carries.
func (transactionType TransactionType) acceptsAmount(amount SignedAmount) bool {
	switch transactionType {
	case TransactionChargeEscrow, TransactionChargeCapture, TransactionRefund:
		return amount < 0
	case TransactionChargeReversal:
		return amount > 0
	default:
		return amount != 0
	}
}

// PaymentMethod identifies the mobile-money network.
type PaymentMethod string

const (
	PaymentMethodOrangeMoney PaymentMethod = "orange_money"
	PaymentMethodMTNMoney    PaymentMethod = "mtn_money"
)

// ParsePaymentMethod validates a payment method.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch PaymentMethod(strings.TrimSpace(raw)) {
	case PaymentMethodOrangeMoney:
		return PaymentMethodOrangeMoney, nil
	case PaymentMethodMTNMoney:
		return PaymentMethodMTNMoney, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, raw)
}

// String returns the stored representation.
func (method PaymentMethod) String() string {
	return string(method)
}

// AttemptState defines the payment attempt lifecycle.
type AttemptState string

const (
	AttemptStateInitiated AttemptState = "initiated"
	AttemptStateCodeSent  AttemptState = "code_sent"
	AttemptStateCaptured  AttemptState = "captured"
	AttemptStateReversed  AttemptState = "reversed"
	AttemptStateAbandoned AttemptState = "abandoned"
	AttemptStateExpired   AttemptState = "expired"
)

// ParseAttemptState validates a stored attempt state.
func ParseAttemptState(raw string) (AttemptState, error) {
	switch AttemptState(raw) {
	case AttemptStateInitiated, AttemptStateCodeSent, AttemptStateCaptured, AttemptStateReversed, AttemptStateAbandoned, AttemptStateExpired:
		return AttemptState(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAttemptState, raw)
}

// String returns the stored representation.
func (state AttemptState) String() string {
	return string(state)
}

// Terminal reports whether no further authorization step is possible.
func (state AttemptState) Terminal() bool {
	return state != AttemptStateInitiated && state != AttemptStateCodeSent
}

// VisitOutcome defines how a paid visit request was resolved.
type VisitOutcome string

const (
	VisitOutcomePending          VisitOutcome = "pending"
	VisitOutcomeFulfilled        VisitOutcome = "fulfilled"
	VisitOutcomeRejectedByTarget VisitOutcome = "rejected_by_target"
	VisitOutcomeNoShowReported   VisitOutcome = "no_show_reported"
)

// ParseVisitOutcome validates a stored or reported outcome.
func ParseVisitOutcome(raw string) (VisitOutcome, error) {
	switch VisitOutcome(strings.TrimSpace(raw)) {
	case VisitOutcomePending, VisitOutcomeFulfilled, VisitOutcomeRejectedByTarget, VisitOutcomeNoShowReported:
		return VisitOutcome(strings.TrimSpace(raw)), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOutcome, raw)
}

// String returns the stored representation.
func (outcome VisitOutcome) String() string {
	return string(outcome)
}

// reversesCharge reports whether the customer is owed the escrowed amount back.
func (outcome VisitOutcome) reversesCharge() bool {
	return outcome == VisitOutcomeRejectedByTarget || outcome == VisitOutcomeNoShowReported
}

// RefundStatus defines the refund request lifecycle.
type RefundStatus string

const (
	RefundStatusPending  RefundStatus = "pending"
	RefundStatusApproved RefundStatus = "approved"
	RefundStatusRejected RefundStatus = "rejected"
)

// ParseRefundStatus validates a stored refund status.
func ParseRefundStatus(raw string) (RefundStatus, error) {
	switch RefundStatus(strings.TrimSpace(raw)) {
	case RefundStatusPending, RefundStatusApproved, RefundStatusRejected:
		return RefundStatus(strings.TrimSpace(raw)), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRefundStatus, raw)
}

// String returns the stored representation.
func (status RefundStatus) String() string {
	return string(status)
}

// RefundDecision is an admin's verdict on a pending refund request.
type RefundDecision string

const (
	RefundDecisionApprove RefundDecision = "approved"
	RefundDecisionReject  RefundDecision = "rejected"
)

// ParseRefundDecision accepts "approved"/"approve" and "rejected"/"reject".
func ParseRefundDecision(raw string) (RefundDecision, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved", "approve":
		return RefundDecisionApprove, nil
	case "rejected", "reject":
		return RefundDecisionReject, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDecision, raw)
}

// String returns the decision.
func (decision RefundDecision) String() string {
	return string(decision)
}
