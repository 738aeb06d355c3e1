package ledger

import (
	"context"
	"fmt"
	"strings"
)

// RequestRefund files a pending refund against the current balance. The amount may equal the balance.
func (service *Service) RequestRefund(ctx context.Context, customerID CustomerID, amount Amount, reason string) (RefundRequest, error) {
	var refund RefundRequest
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if customerID.value == "" {
			return fmt.Errorf("%w: empty value", ErrInvalidCustomerID)
		}
		if amount <= 0 {
			return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
		}
		trimmedReason := strings.TrimSpace(reason)
		if trimmedReason == "" {
			return fmt.Errorf("%w: empty value", ErrInvalidReason)
		}
		if _, err := transactionStore.GetAccount(ctx, customerID); err != nil {
			return err
		}
		balance, err := transactionStore.SumEntries(ctx, customerID)
		if err != nil {
			return err
		}
		if amount.Signed() > balance {
			return fmt.Errorf("%w: balance %d cannot cover %d", ErrInsufficientBalance, balance, amount)
		}
		requestID, err := NewRefundRequestID(newRecordID())
		if err != nil {
			return err
		}
		refund = RefundRequest{
			RequestID:      requestID,
			CustomerID:     customerID,
			Amount:         amount,
			Reason:         trimmedReason,
			Status:         RefundStatusPending,
			CreatedUnixUTC: service.nowFn(),
		}
		return transactionStore.CreateRefundRequest(ctx, refund)
	})
	service.logOperation(ctx, OperationLog{
		Operation:   OperationRequestRefund,
		CustomerID:  customerID,
		ReferenceID: refund.RequestID.String(),
		Amount:      amount.Negated(),
		Error:       operationError,
	})
	if operationError != nil {
		return RefundRequest{}, operationError
	}
	return refund, nil
}

// DecideRefund records an admin's single terminal decision. Approval debits the ledger and fails,
// leaving the request pending, when the balance no longer covers the amount.
func (service *Service) DecideRefund(ctx context.Context, requestID RefundRequestID, decision RefundDecision, adminNote string, adminID string) (RefundRequest, error) {
	var refund RefundRequest
	var logAmount SignedAmount
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if requestID.value == "" {
			return fmt.Errorf("%w: empty value", ErrInvalidRequestID)
		}
		if _, err := ParseRefundDecision(decision.String()); err != nil {
			return err
		}
		loaded, err := transactionStore.GetRefundRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if loaded.Status != RefundStatusPending {
			return fmt.Errorf("%w: status %s", ErrAlreadyDecided, loaded.Status)
		}
		nowUnixUTC := service.nowFn()
		if decision == RefundDecisionApprove {
			if _, err := service.appendEntry(ctx, transactionStore, AppendRequest{
				CustomerID:  loaded.CustomerID,
				Amount:      loaded.Amount.Negated(),
				Type:        TransactionRefund,
				ReferenceID: loaded.RequestID.Reference(),
				Description: "refund payout",
			}); err != nil {
				return err
			}
			logAmount = loaded.Amount.Negated()
			loaded.Status = RefundStatusApproved
		} else {
			loaded.Status = RefundStatusRejected
		}
		loaded.AdminNote = strings.TrimSpace(adminNote)
		loaded.DecidedBy = strings.TrimSpace(adminID)
		loaded.DecidedUnixUTC = nowUnixUTC
		if err := transactionStore.UpdateRefundRequest(ctx, loaded, RefundStatusPending); err != nil {
			return err
		}
		refund = loaded
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:   OperationDecideRefund,
		CustomerID:  refund.CustomerID,
		ReferenceID: requestID.String(),
		Amount:      logAmount,
		Error:       operationError,
	})
	if operationError != nil {
		return RefundRequest{}, operationError
	}
	return refund, nil
}

// ListRefundRequests returns refund requests oldest first. An empty status lists every request.
func (service *Service) ListRefundRequests(ctx context.Context, status RefundStatus, limit int) ([]RefundRequest, error) {
	if status != "" {
		if _, err := ParseRefundStatus(status.String()); err != nil {
			return nil, err
		}
	}
	normalizedLimit, err := normalizeListLimit(limit)
	if err != nil {
		return nil, err
	}
	return service.store.ListRefundRequests(ctx, status, normalizedLimit)
}
