package ledger

import (
	"context"
	"errors"
	"fmt"
)

// FeeResolver prices the paid action for a target.
type FeeResolver interface {
	ResolveFee(ctx context.Context, targetID TargetID) (Amount, error)
}

// FixedFee charges the same amount for every target.
type FixedFee Amount

func (fee FixedFee) ResolveFee(ctx context.Context, targetID TargetID) (Amount, error) {
	return NewAmount(int64(fee))
}

// PaymentIntent is the validated input of Initiate. A zero Currency means the service currency.
type PaymentIntent struct {
	CustomerID  CustomerID
	TargetID    TargetID
	Amount      Amount
	Currency    Currency
	PhoneNumber PhoneNumber
	Method      PaymentMethod
}

func (service *Service) validateIntent(intent PaymentIntent) (PaymentIntent, error) {
	if intent.CustomerID.value == "" {
		return PaymentIntent{}, fmt.Errorf("%w: empty value", ErrInvalidCustomerID)
	}
	if intent.TargetID.value == "" {
		return PaymentIntent{}, fmt.Errorf("%w: empty value", ErrInvalidTargetID)
	}
	if intent.Amount <= 0 {
		return PaymentIntent{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if intent.Amount > service.maxAmount {
		return PaymentIntent{}, fmt.Errorf("%w: %d exceeds the maximum of %d", ErrInvalidAmount, intent.Amount, service.maxAmount)
	}
	if intent.PhoneNumber.value == "" {
		return PaymentIntent{}, fmt.Errorf("%w: empty value", ErrInvalidPhoneNumber)
	}
	if _, err := ParsePaymentMethod(intent.Method.String()); err != nil {
		return PaymentIntent{}, err
	}
	if intent.Currency.value == "" {
		intent.Currency = service.currency
	}
	if intent.Currency != service.currency {
		return PaymentIntent{}, fmt.Errorf("%w: only %s is accepted", ErrInvalidCurrency, service.currency)
	}
	return intent, nil
}

// priceIntent fills the amount from the fee resolver. A caller-supplied amount must match the fee.
func (service *Service) priceIntent(ctx context.Context, intent PaymentIntent) (PaymentIntent, error) {
	if service.fees == nil {
		return intent, nil
	}
	if intent.TargetID.value == "" {
		return PaymentIntent{}, fmt.Errorf("%w: empty value", ErrInvalidTargetID)
	}
	fee, err := service.fees.ResolveFee(ctx, intent.TargetID)
	if err != nil {
		return PaymentIntent{}, err
	}
	if intent.Amount != 0 && intent.Amount != fee {
		return PaymentIntent{}, fmt.Errorf("%w: %d does not match the fee of %d", ErrInvalidAmount, intent.Amount, fee)
	}
	intent.Amount = fee
	return intent, nil
}

// Initiate opens a payment attempt for a customer/target pair and sends a one-time code.
// A live attempt whose code already expired is closed as expired; any other live attempt blocks.
func (service *Service) Initiate(ctx context.Context, intent PaymentIntent) (PaymentAttempt, error) {
	priced, pricingError := service.priceIntent(ctx, intent)
	if pricingError != nil {
		service.logOperation(ctx, OperationLog{Operation: OperationInitiate, CustomerID: intent.CustomerID, Error: pricingError})
		return PaymentAttempt{}, pricingError
	}
	validated, validationError := service.validateIntent(priced)
	if validationError != nil {
		service.logOperation(ctx, OperationLog{Operation: OperationInitiate, CustomerID: intent.CustomerID, Error: validationError})
		return PaymentAttempt{}, validationError
	}
	code, codeHash, issueError := service.issueCode()
	if issueError != nil {
		service.logOperation(ctx, OperationLog{Operation: OperationInitiate, CustomerID: intent.CustomerID, Error: issueError})
		return PaymentAttempt{}, issueError
	}
	var attempt PaymentAttempt
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		nowUnixUTC := service.nowFn()
		existing, err := transactionStore.FindOpenAttempt(ctx, validated.CustomerID, validated.TargetID)
		switch {
		case err == nil:
			if existing.CustomerID != validated.CustomerID || existing.TargetID != validated.TargetID {
				return WrapError(errorOperationService, errorSubjectAttempt, errorCodeOpenKey, ErrConcurrentAttemptExists)
			}
			if existing.State != AttemptStateCodeSent || nowUnixUTC <= existing.CodeExpiresUnixUTC {
				return ErrConcurrentAttemptExists
			}
			existing.State = AttemptStateExpired
			existing.CodeHash = ""
			existing.UpdatedUnixUTC = nowUnixUTC
			if err := transactionStore.UpdateAttempt(ctx, existing, AttemptStateCodeSent); err != nil {
				return err
			}
		case errors.Is(err, ErrUnknownAttempt):
		default:
			return err
		}
		attemptID, err := NewAttemptID(newRecordID())
		if err != nil {
			return err
		}
		attempt = PaymentAttempt{
			AttemptID:      attemptID,
			CustomerID:     validated.CustomerID,
			TargetID:       validated.TargetID,
			Amount:         validated.Amount,
			Currency:       validated.Currency,
			PhoneNumber:    validated.PhoneNumber,
			Method:         validated.Method,
			State:          AttemptStateInitiated,
			CreatedUnixUTC: nowUnixUTC,
			UpdatedUnixUTC: nowUnixUTC,
		}
		if err := transactionStore.CreateAttempt(ctx, attempt); err != nil {
			return err
		}
		attempt.State = AttemptStateCodeSent
		attempt.CodeHash = codeHash
		attempt.CodeIssuedUnixUTC = nowUnixUTC
		attempt.CodeExpiresUnixUTC = nowUnixUTC + service.policy.CodeTTLSeconds
		return transactionStore.UpdateAttempt(ctx, attempt, AttemptStateInitiated)
	})
	service.logOperation(ctx, OperationLog{
		Operation:   OperationInitiate,
		CustomerID:  validated.CustomerID,
		ReferenceID: attempt.AttemptID.String(),
		Amount:      validated.Amount.Negated(),
		Error:       operationError,
	})
	if operationError != nil {
		return PaymentAttempt{}, operationError
	}
	service.deliverCode(ctx, attempt.CustomerID, CodeDelivery{
		AttemptID:      attempt.AttemptID,
		PhoneNumber:    attempt.PhoneNumber,
		Method:         attempt.Method,
		Code:           code,
		ExpiresUnixUTC: attempt.CodeExpiresUnixUTC,
	})
	return attempt.redacted(), nil
}

// Resend replaces the code of a code_sent attempt once the cooldown has elapsed.
func (service *Service) Resend(ctx context.Context, customerID CustomerID, attemptID AttemptID) (PaymentAttempt, error) {
	var attempt PaymentAttempt
	var code OneTimeCode
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		loaded, err := loadOwnedAttempt(ctx, transactionStore, customerID, attemptID)
		if err != nil {
			return err
		}
		if loaded.State != AttemptStateCodeSent {
			return fmt.Errorf("%w: state %s", ErrAttemptClosed, loaded.State)
		}
		if loaded.ResendCount >= service.policy.MaxResends {
			return ErrRetryLimitExceeded
		}
		nowUnixUTC := service.nowFn()
		availableUnixUTC := loaded.CodeIssuedUnixUTC + service.policy.ResendCooldownSeconds
		if nowUnixUTC < availableUnixUTC {
			return CooldownError{RetryAfterSeconds: availableUnixUTC - nowUnixUTC}
		}
		issuedCode, codeHash, err := service.issueCode()
		if err != nil {
			return err
		}
		loaded.CodeHash = codeHash
		loaded.CodeIssuedUnixUTC = nowUnixUTC
		loaded.CodeExpiresUnixUTC = nowUnixUTC + service.policy.CodeTTLSeconds
		loaded.ResendCount++
		loaded.UpdatedUnixUTC = nowUnixUTC
		if err := transactionStore.UpdateAttempt(ctx, loaded, AttemptStateCodeSent); err != nil {
			return err
		}
		attempt = loaded
		code = issuedCode
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:   OperationResend,
		CustomerID:  customerID,
		ReferenceID: attemptID.String(),
		Error:       operationError,
	})
	if operationError != nil {
		return PaymentAttempt{}, operationError
	}
	service.deliverCode(ctx, customerID, CodeDelivery{
		AttemptID:      attempt.AttemptID,
		PhoneNumber:    attempt.PhoneNumber,
		Method:         attempt.Method,
		Code:           code,
		ExpiresUnixUTC: attempt.CodeExpiresUnixUTC,
	})
	return attempt.redacted(), nil
}

// Verify checks a code. A match writes the escrow debit and captures the attempt in one transaction.
// Mismatches and expiry still commit their counter and state changes before the error is returned.
func (service *Service) Verify(ctx context.Context, customerID CustomerID, attemptID AttemptID, rawCode string) (PaymentAttempt, error) {
	code, err := ParseOneTimeCode(rawCode)
	if err != nil {
		return PaymentAttempt{}, err
	}
	var attempt PaymentAttempt
	var verifyError error
	transactionError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		loaded, err := loadOwnedAttempt(ctx, transactionStore, customerID, attemptID)
		if err != nil {
			return err
		}
		if loaded.State != AttemptStateCodeSent {
			return fmt.Errorf("%w: state %s", ErrAttemptClosed, loaded.State)
		}
		nowUnixUTC := service.nowFn()
		if nowUnixUTC > loaded.CodeExpiresUnixUTC {
			verifyError = ErrExpired
			if loaded.ResendCount < service.policy.MaxResends {
				attempt = loaded
				return nil
			}
			loaded.State = AttemptStateExpired
			loaded.CodeHash = ""
			loaded.UpdatedUnixUTC = nowUnixUTC
			attempt = loaded
			return transactionStore.UpdateAttempt(ctx, loaded, AttemptStateCodeSent)
		}
		matched, err := codeMatches(loaded.CodeHash, code)
		if err != nil {
			return err
		}
		if !matched {
			loaded.AttemptCount++
			loaded.UpdatedUnixUTC = nowUnixUTC
			verifyError = ErrCodeMismatch
			if loaded.AttemptCount >= service.policy.MaxVerifyAttempts {
				loaded.State = AttemptStateAbandoned
				loaded.CodeHash = ""
				verifyError = ErrAttemptLimitExceeded
			}
			attempt = loaded
			return transactionStore.UpdateAttempt(ctx, loaded, AttemptStateCodeSent)
		}
		metadata, err := NewMetadataJSON(fmt.Sprintf(`{"target_id":%q,"method":%q}`, loaded.TargetID.String(), loaded.Method.String()))
		if err != nil {
			return err
		}
		if _, err := service.appendEntry(ctx, transactionStore, AppendRequest{
			CustomerID:  loaded.CustomerID,
			Amount:      loaded.Amount.Negated(),
			Type:        TransactionChargeEscrow,
			ReferenceID: loaded.AttemptID.Reference(),
			Description: "visit fee for " + loaded.TargetID.String(),
			Metadata:    metadata,
		}); err != nil {
			return err
		}
		loaded.State = AttemptStateCaptured
		loaded.CodeHash = ""
		loaded.CapturedUnixUTC = nowUnixUTC
		loaded.UpdatedUnixUTC = nowUnixUTC
		attempt = loaded
		return transactionStore.UpdateAttempt(ctx, loaded, AttemptStateCodeSent)
	})
	operationError := transactionError
	if operationError == nil {
		operationError = verifyError
	}
	logAmount := SignedAmount(0)
	if operationError == nil {
		logAmount = attempt.Amount.Negated()
	}
	service.logOperation(ctx, OperationLog{
		Operation:   OperationVerify,
		CustomerID:  customerID,
		ReferenceID: attemptID.String(),
		Amount:      logAmount,
		Error:       operationError,
	})
	if transactionError != nil {
		return PaymentAttempt{}, transactionError
	}
	return attempt.redacted(), verifyError
}

// Abandon closes a live attempt without touching the ledger.
func (service *Service) Abandon(ctx context.Context, customerID CustomerID, attemptID AttemptID) (PaymentAttempt, error) {
	var attempt PaymentAttempt
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		loaded, err := loadOwnedAttempt(ctx, transactionStore, customerID, attemptID)
		if err != nil {
			return err
		}
		if loaded.State.Terminal() {
			return fmt.Errorf("%w: state %s", ErrAttemptClosed, loaded.State)
		}
		from := loaded.State
		loaded.State = AttemptStateAbandoned
		loaded.CodeHash = ""
		loaded.UpdatedUnixUTC = service.nowFn()
		if err := transactionStore.UpdateAttempt(ctx, loaded, from); err != nil {
			return err
		}
		attempt = loaded
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:   OperationAbandon,
		CustomerID:  customerID,
		ReferenceID: attemptID.String(),
		Error:       operationError,
	})
	if operationError != nil {
		return PaymentAttempt{}, operationError
	}
	return attempt.redacted(), nil
}

// GetAttempt returns the customer's attempt without its code hash.
func (service *Service) GetAttempt(ctx context.Context, customerID CustomerID, attemptID AttemptID) (PaymentAttempt, error) {
	attempt, err := loadOwnedAttempt(ctx, service.store, customerID, attemptID)
	if err != nil {
		return PaymentAttempt{}, err
	}
	return attempt.redacted(), nil
}

// ResendAvailableUnixUTC is the earliest time Resend will be accepted.
func (service *Service) ResendAvailableUnixUTC(attempt PaymentAttempt) int64 {
	return attempt.CodeIssuedUnixUTC + service.policy.ResendCooldownSeconds
}

func loadOwnedAttempt(ctx context.Context, store Store, customerID CustomerID, attemptID AttemptID) (PaymentAttempt, error) {
	if customerID.value == "" {
		return PaymentAttempt{}, fmt.Errorf("%w: empty value", ErrInvalidCustomerID)
	}
	if attemptID.value == "" {
		return PaymentAttempt{}, fmt.Errorf("%w: empty value", ErrInvalidAttemptID)
	}
	attempt, err := store.GetAttempt(ctx, attemptID)
	if err != nil {
		return PaymentAttempt{}, err
	}
	if attempt.CustomerID != customerID {
		return PaymentAttempt{}, ErrUnknownAttempt
	}
	return attempt, nil
}

func (attempt PaymentAttempt) redacted() PaymentAttempt {
	attempt.CodeHash = ""
	return attempt
}
