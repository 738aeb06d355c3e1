package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/visitpay/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeUnauthorized   = "unauthorized"
	codeForbidden      = "forbidden"
	codeInvalidPayload = "invalid_payload"
	codeInvalidRequest = "invalid_request"
	codeUnavailable    = "unavailable"
	codeInternal       = "internal_error"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// errorMappings is ordered: the first matching sentinel wins.
var errorMappings = []errorMapping{
	{ledger.ErrInvalidCode, http.StatusBadRequest, "invalid_code"},
	{ledger.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{ledger.ErrInvalidPhoneNumber, http.StatusBadRequest, "invalid_phone_number"},
	{ledger.ErrInvalidPaymentMethod, http.StatusBadRequest, "invalid_payment_method"},
	{ledger.ErrInvalidCurrency, http.StatusBadRequest, "invalid_currency"},
	{ledger.ErrInvalidOutcome, http.StatusBadRequest, "invalid_outcome"},
	{ledger.ErrInvalidDecision, http.StatusBadRequest, "invalid_decision"},
	{ledger.ErrInvalidReason, http.StatusBadRequest, "invalid_reason"},
	{ledger.ErrInvalidTargetID, http.StatusBadRequest, "invalid_target_id"},
	{ledger.ErrInvalidCustomerID, http.StatusBadRequest, "invalid_customer_id"},
	{ledger.ErrInvalidAttemptID, http.StatusBadRequest, "invalid_attempt_id"},
	{ledger.ErrInvalidRequestID, http.StatusBadRequest, "invalid_request_id"},
	{ledger.ErrInvalidReferenceID, http.StatusBadRequest, "invalid_reference_id"},
	{ledger.ErrInvalidMetadataJSON, http.StatusBadRequest, "invalid_metadata"},
	{ledger.ErrInvalidRefundStatus, http.StatusBadRequest, "invalid_status"},
	{ledger.ErrInvalidListLimit, http.StatusBadRequest, "invalid_limit"},
	{ledger.ErrUnknownCustomer, http.StatusNotFound, "unknown_customer"},
	{ledger.ErrUnknownAttempt, http.StatusNotFound, "unknown_attempt"},
	{ledger.ErrUnknownVisitRequest, http.StatusNotFound, "unknown_visit_request"},
	{ledger.ErrUnknownRefundRequest, http.StatusNotFound, "unknown_refund_request"},
	{ledger.ErrConcurrentAttemptExists, http.StatusConflict, "concurrent_attempt_exists"},
	{ledger.ErrAttemptClosed, http.StatusConflict, "attempt_closed"},
	{ledger.ErrAttemptNotCaptured, http.StatusConflict, "attempt_not_captured"},
	{ledger.ErrVisitRequestExists, http.StatusConflict, "visit_request_exists"},
	{ledger.ErrAlreadyFinalized, http.StatusConflict, "already_finalized"},
	{ledger.ErrAlreadyDecided, http.StatusConflict, "already_decided"},
	{ledger.ErrDuplicateEntry, http.StatusConflict, "duplicate_entry"},
	{ledger.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{ledger.ErrCodeMismatch, http.StatusUnprocessableEntity, "code_mismatch"},
	{ledger.ErrAttemptLimitExceeded, http.StatusUnprocessableEntity, "attempt_limit_exceeded"},
	{ledger.ErrExpired, http.StatusGone, "expired"},
	{ledger.ErrRetryLimitExceeded, http.StatusTooManyRequests, "retry_limit_exceeded"},
	{ledger.ErrCooldownActive, http.StatusTooManyRequests, "cooldown_active"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, codeUnavailable},
}

func mapError(err error) (int, string) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			return mapping.status, mapping.code
		}
	}
	return http.StatusInternalServerError, codeInternal
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// respondError writes the stable error envelope. Cooldowns carry retry_after_seconds.
func (handler *Handler) respondError(ctx *gin.Context, err error, extra gin.H) {
	status, code := mapError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.String("route", ctx.FullPath()), zap.Error(err))
		message = "internal error"
	}
	body := errorResponse(code, message)
	var cooldown ledger.CooldownError
	if errors.As(err, &cooldown) {
		body["retry_after_seconds"] = cooldown.RetryAfterSeconds
	}
	for key, value := range extra {
		body[key] = value
	}
	ctx.JSON(status, body)
}
