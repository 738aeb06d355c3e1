package ledger

import (
	"context"
	"errors"
	"fmt"
)

// CreateVisitRequest opens the paid request backed by a captured attempt. Each attempt backs at most one request.
func (service *Service) CreateVisitRequest(ctx context.Context, customerID CustomerID, attemptID AttemptID) (VisitRequest, error) {
	var visit VisitRequest
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		attempt, err := loadOwnedAttempt(ctx, transactionStore, customerID, attemptID)
		if err != nil {
			return err
		}
		if attempt.State != AttemptStateCaptured {
			return fmt.Errorf("%w: state %s", ErrAttemptNotCaptured, attempt.State)
		}
		requestID, err := NewVisitRequestID(newRecordID())
		if err != nil {
			return err
		}
		visit = VisitRequest{
			RequestID:        requestID,
			CustomerID:       attempt.CustomerID,
			TargetID:         attempt.TargetID,
			PaymentAttemptID: attempt.AttemptID,
			Amount:           attempt.Amount,
			Outcome:          VisitOutcomePending,
			CreatedUnixUTC:   service.nowFn(),
		}
		return transactionStore.CreateVisitRequest(ctx, visit)
	})
	service.logOperation(ctx, OperationLog{
		Operation:   OperationCreateVisit,
		CustomerID:  customerID,
		ReferenceID: visit.RequestID.String(),
		Error:       operationError,
	})
	if operationError != nil {
		return VisitRequest{}, operationError
	}
	return visit, nil
}

// GetVisitRequest loads a visit request by id.
func (service *Service) GetVisitRequest(ctx context.Context, requestID VisitRequestID) (VisitRequest, error) {
	if requestID.value == "" {
		return VisitRequest{}, fmt.Errorf("%w: empty value", ErrInvalidRequestID)
	}
	return service.store.GetVisitRequest(ctx, requestID)
}

// ReportOutcome finalizes a pending visit request. Rejections and no-shows credit the escrowed amount back
// and move the attempt to reversed; fulfilment records the outcome only.
func (service *Service) ReportOutcome(ctx context.Context, requestID VisitRequestID, outcome VisitOutcome) (VisitRequest, error) {
	return service.finalizeVisit(ctx, OperationReportOutcome, requestID, outcome)
}

// SettleStaleVisits fulfils every pending visit request older than the resolution window.
// It returns the number of requests settled.
func (service *Service) SettleStaleVisits(ctx context.Context, windowSeconds int64, limit int) (int, error) {
	if windowSeconds <= 0 {
		return 0, fmt.Errorf("%w: settle window must be positive", ErrInvalidServiceConfig)
	}
	normalizedLimit, err := normalizeListLimit(limit)
	if err != nil {
		return 0, err
	}
	cutoffUnixUTC := service.nowFn() - windowSeconds
	stale, err := service.store.ListPendingVisitRequests(ctx, cutoffUnixUTC, normalizedLimit)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, visit := range stale {
		_, err := service.finalizeVisit(ctx, OperationSettleStale, visit.RequestID, VisitOutcomeFulfilled)
		if errors.Is(err, ErrAlreadyFinalized) {
			continue
		}
		if err != nil {
			return settled, err
		}
		settled++
	}
	return settled, nil
}

func (service *Service) finalizeVisit(ctx context.Context, operation string, requestID VisitRequestID, outcome VisitOutcome) (VisitRequest, error) {
	var visit VisitRequest
	var logAmount SignedAmount
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if requestID.value == "" {
			return fmt.Errorf("%w: empty value", ErrInvalidRequestID)
		}
		if _, err := ParseVisitOutcome(outcome.String()); err != nil || outcome == VisitOutcomePending {
			return fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
		}
		loaded, err := transactionStore.GetVisitRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if loaded.Outcome != VisitOutcomePending {
			return fmt.Errorf("%w: outcome %s", ErrAlreadyFinalized, loaded.Outcome)
		}
		nowUnixUTC := service.nowFn()
		if outcome.reversesCharge() {
			if _, err := service.appendEntry(ctx, transactionStore, AppendRequest{
				CustomerID:  loaded.CustomerID,
				Amount:      loaded.Amount.Signed(),
				Type:        TransactionChargeReversal,
				ReferenceID: loaded.RequestID.Reference(),
				Description: "visit fee returned: " + outcome.String(),
			}); err != nil {
				return err
			}
			logAmount = loaded.Amount.Signed()
			attempt, err := transactionStore.GetAttempt(ctx, loaded.PaymentAttemptID)
			if err != nil {
				return err
			}
			if attempt.State == AttemptStateCaptured {
				attempt.State = AttemptStateReversed
				attempt.UpdatedUnixUTC = nowUnixUTC
				if err := transactionStore.UpdateAttempt(ctx, attempt, AttemptStateCaptured); err != nil {
					return err
				}
			}
		}
		loaded.Outcome = outcome
		loaded.ResolvedUnixUTC = nowUnixUTC
		if err := transactionStore.UpdateVisitRequest(ctx, loaded, VisitOutcomePending); err != nil {
			return err
		}
		visit = loaded
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:   operation,
		CustomerID:  visit.CustomerID,
		ReferenceID: requestID.String(),
		Amount:      logAmount,
		Error:       operationError,
	})
	if operationError != nil {
		return VisitRequest{}, operationError
	}
	return visit, nil
}
