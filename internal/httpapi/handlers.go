package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/MarkoPoloResearchLab/visitpay/pkg/ledger"
	"github.com/gin-gonic/gin"
)

type initiateRequest struct {
	TargetID string `json:"target_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Phone    string `json:"phone"`
	Method   string `json:"method"`
}

type verifyRequest struct {
	Code string `json:"code"`
}

type createVisitRequest struct {
	AttemptID string `json:"attempt_id"`
}

type outcomeRequest struct {
	Outcome string `json:"outcome"`
}

type refundRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type decisionRequest struct {
	Decision  string `json:"decision"`
	AdminNote string `json:"admin_note"`
}

type adjustmentRequest struct {
	CustomerID  string `json:"customer_id"`
	Amount      int64  `json:"amount"`
	ReferenceID string `json:"reference_id"`
	Description string `json:"description"`
}

type attemptPayload struct {
	AttemptID         string `json:"attempt_id"`
	TargetID          string `json:"target_id"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	Method            string `json:"method"`
	Phone             string `json:"phone"`
	State             string `json:"state"`
	CodeExpiresAt     int64  `json:"code_expires_at"`
	ResendAvailableAt int64  `json:"resend_available_at"`
	ResendsRemaining  int    `json:"resends_remaining"`
	AttemptsRemaining int    `json:"attempts_remaining"`
}

type visitPayload struct {
	RequestID  string `json:"request_id"`
	CustomerID string `json:"customer_id"`
	TargetID   string `json:"target_id"`
	AttemptID  string `json:"attempt_id"`
	Amount     int64  `json:"amount"`
	Outcome    string `json:"outcome"`
	CreatedAt  int64  `json:"created_at"`
	ResolvedAt int64  `json:"resolved_at,omitempty"`
}

type entryPayload struct {
	EntryID      string          `json:"entry_id"`
	Sequence     int64           `json:"sequence"`
	Amount       int64           `json:"amount"`
	Type         string          `json:"type"`
	ReferenceID  string          `json:"reference_id"`
	Description  string          `json:"description"`
	Metadata     json.RawMessage `json:"metadata"`
	BalanceAfter int64           `json:"balance_after"`
	CreatedAt    int64           `json:"created_at"`
}

type refundPayload struct {
	RequestID  string `json:"request_id"`
	CustomerID string `json:"customer_id"`
	Amount     int64  `json:"amount"`
	Reason     string `json:"reason"`
	Status     string `json:"status"`
	AdminNote  string `json:"admin_note,omitempty"`
	DecidedBy  string `json:"decided_by,omitempty"`
	DecidedAt  int64  `json:"decided_at,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

func (handler *Handler) handleSession(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "missing session"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id": claims.GetUserID(),
		"display": claims.GetUserDisplayName(),
		"roles":   claims.GetUserRoles(),
		"admin":   handler.isAdmin(claims),
	})
}

func (handler *Handler) handleInitiate(ctx *gin.Context) {
	customerID, ok := customer(ctx)
	if !ok {
		return
	}
	var request initiateRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	intent, err := buildIntent(customerID, request)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	attempt, err := handler.service.Initiate(requestCtx, intent)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	ctx.JSON(http.StatusCreated, handler.attemptPayload(attempt))
}

func buildIntent(customerID ledger.CustomerID, request initiateRequest) (ledger.PaymentIntent, error) {
	targetID, err := ledger.NewTargetID(request.TargetID)
	if err != nil {
		return ledger.PaymentIntent{}, err
	}
	// An omitted amount is priced by the service's fee resolver.
	var amount ledger.Amount
	if request.Amount != 0 {
		amount, err = ledger.NewAmount(request.Amount)
		if err != nil {
			return ledger.PaymentIntent{}, err
		}
	}
	phoneNumber, err := ledger.NewPhoneNumber(request.Phone)
	if err != nil {
		return ledger.PaymentIntent{}, err
	}
	method, err := ledger.ParsePaymentMethod(request.Method)
	if err != nil {
		return ledger.PaymentIntent{}, err
	}
	intent := ledger.PaymentIntent{
		CustomerID:  customerID,
		TargetID:    targetID,
		Amount:      amount,
		PhoneNumber: phoneNumber,
		Method:      method,
	}
	if request.Currency != "" {
		currency, err := ledger.NewCurrency(request.Currency)
		if err != nil {
			return ledger.PaymentIntent{}, err
		}
		intent.Currency = currency
	}
	return intent, nil
}

func (handler *Handler) handleGetAttempt(ctx *gin.Context) {
	handler.withAttempt(ctx, http.StatusOK, handler.service.GetAttempt)
}

func (handler *Handler) handleResend(ctx *gin.Context) {
	handler.withAttempt(ctx, http.StatusOK, handler.service.Resend)
}

func (handler *Handler) handleAbandon(ctx *gin.Context) {
	handler.withAttempt(ctx, http.StatusOK, handler.service.Abandon)
}

type attemptOperation func(ctx context.Context, customerID ledger.CustomerID, attemptID ledger.AttemptID) (ledger.PaymentAttempt, error)

func (handler *Handler) withAttempt(ctx *gin.Context, status int, operation attemptOperation) {
	customerID, ok := customer(ctx)
	if !ok {
		return
	}
	attemptID, err := ledger.NewAttemptID(ctx.Param("attempt_id"))
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	attempt, err := operation(requestCtx, customerID, attemptID)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	ctx.JSON(status, handler.attemptPayload(attempt))
}

func (handler *Handler) handleVerify(ctx *gin.Context) {
	customerID, ok := customer(ctx)
	if !ok {
		return
	}
	attemptID, err := ledger.NewAttemptID(ctx.Param("attempt_id"))
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	var request verifyRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	attempt, err := handler.service.Verify(requestCtx, customerID, attemptID, request.Code)
	if err != nil {
		var extra gin.H
		if attempt.AttemptID.String() != "" {
			extra = gin.H{"attempt": handler.attemptPayload(attempt)}
		}
		handler.respondError(ctx, err, extra)
		return
	}
	ctx.JSON(http.StatusOK, handler.attemptPayload(attempt))
}

func (handler *Handler) handleCreateVisit(ctx *gin.Context) {
	customerID, ok := customer(ctx)
	if !ok {
		return
	}
	var request createVisitRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	attemptID, err := ledger.NewAttemptID(request.AttemptID)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	visit, err := handler.service.CreateVisitRequest(requestCtx, customerID, attemptID)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	ctx.JSON(http.StatusCreated, mapVisit(visit))
}

func (handler *Handler) handleGetVisit(ctx *gin.Context) {
	visit, ok := handler.loadVisitForCaller(ctx, true)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, mapVisit(visit))
}

func (handler *Handler) handleReportOutcome(ctx *gin.Context) {
	visit, ok := handler.loadVisitForCaller(ctx, false)
	if !ok {
		return
	}
	var request outcomeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	outcome, err := ledger.ParseVisitOutcome(request.Outcome)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	finalized, err := handler.service.ReportOutcome(requestCtx, visit.RequestID, outcome)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"ok": true, "visit_request": mapVisit(finalized)})
}

// loadVisitForCaller returns the visit when the caller is its target or an admin.
// Readers may also be the paying customer.
func (handler *Handler) loadVisitForCaller(ctx *gin.Context, allowCustomer bool) (ledger.VisitRequest, bool) {
	callerID, ok := customer(ctx)
	if !ok {
		return ledger.VisitRequest{}, false
	}
	requestID, err := ledger.NewVisitRequestID(ctx.Param("request_id"))
	if err != nil {
		handler.respondError(ctx, err, nil)
		return ledger.VisitRequest{}, false
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	visit, err := handler.service.GetVisitRequest(requestCtx, requestID)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return ledger.VisitRequest{}, false
	}
	allowed := handler.isAdmin(getClaims(ctx)) ||
		visit.TargetID.String() == callerID.String() ||
		(allowCustomer && visit.CustomerID == callerID)
	if !allowed {
		handler.respondError(ctx, ledger.ErrUnknownVisitRequest, nil)
		return ledger.VisitRequest{}, false
	}
	return visit, true
}

func (handler *Handler) handleBalance(ctx *gin.Context) {
	customerID, ok := customer(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	balance, err := handler.service.Balance(requestCtx, customerID)
	if err != nil && !errors.Is(err, ledger.ErrUnknownCustomer) {
		handler.respondError(ctx, err, nil)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"customer_id": customerID.String(),
		"balance":     balance.Int64(),
		"currency":    handler.service.Currency().String(),
	})
}

func (handler *Handler) handleHistory(ctx *gin.Context) {
	customerID, ok := customer(ctx)
	if !ok {
		return
	}
	beforeSequence, err := queryInt64(ctx, "before_sequence")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidRequest, "before_sequence must be an integer"))
		return
	}
	limit, err := queryInt64(ctx, "limit")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidRequest, "limit must be an integer"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	entries, err := handler.service.History(requestCtx, customerID, beforeSequence, int(limit))
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	payload := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, mapEntry(entry))
	}
	response := gin.H{"entries": payload}
	if len(entries) > 0 {
		response["next_before_sequence"] = entries[len(entries)-1].Sequence
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *Handler) handleRequestRefund(ctx *gin.Context) {
	customerID, ok := customer(ctx)
	if !ok {
		return
	}
	var request refundRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	amount, err := ledger.NewAmount(request.Amount)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	refund, err := handler.service.RequestRefund(requestCtx, customerID, amount, request.Reason)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	ctx.JSON(http.StatusCreated, mapRefund(refund))
}

func (handler *Handler) handleListRefunds(ctx *gin.Context) {
	var status ledger.RefundStatus
	if raw := ctx.Query("status"); raw != "" {
		parsed, err := ledger.ParseRefundStatus(raw)
		if err != nil {
			handler.respondError(ctx, err, nil)
			return
		}
		status = parsed
	}
	limit, err := queryInt64(ctx, "limit")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidRequest, "limit must be an integer"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	refunds, err := handler.service.ListRefundRequests(requestCtx, status, int(limit))
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	payload := make([]refundPayload, 0, len(refunds))
	for _, refund := range refunds {
		payload = append(payload, mapRefund(refund))
	}
	ctx.JSON(http.StatusOK, gin.H{"refund_requests": payload})
}

func (handler *Handler) handleDecideRefund(ctx *gin.Context) {
	requestID, err := ledger.NewRefundRequestID(ctx.Param("request_id"))
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	var request decisionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	decision, err := ledger.ParseRefundDecision(request.Decision)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	refund, err := handler.service.DecideRefund(requestCtx, requestID, decision, request.AdminNote, getClaims(ctx).GetUserID())
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	ctx.JSON(http.StatusOK, mapRefund(refund))
}

func (handler *Handler) handleAdjust(ctx *gin.Context) {
	var request adjustmentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return
	}
	customerID, err := ledger.NewCustomerID(request.CustomerID)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	referenceID, err := ledger.NewReferenceID(request.ReferenceID)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	entry, err := handler.service.AdjustBalance(requestCtx, customerID, ledger.SignedAmount(request.Amount), referenceID, request.Description)
	if err != nil {
		handler.respondError(ctx, err, nil)
		return
	}
	ctx.JSON(http.StatusCreated, mapEntry(entry))
}

func (handler *Handler) attemptPayload(attempt ledger.PaymentAttempt) attemptPayload {
	policy := handler.service.Policy()
	payload := attemptPayload{
		AttemptID:         attempt.AttemptID.String(),
		TargetID:          attempt.TargetID.String(),
		Amount:            attempt.Amount.Int64(),
		Currency:          attempt.Currency.String(),
		Method:            attempt.Method.String(),
		Phone:             attempt.PhoneNumber.Masked(),
		State:             attempt.State.String(),
		CodeExpiresAt:     attempt.CodeExpiresUnixUTC,
		ResendAvailableAt: handler.service.ResendAvailableUnixUTC(attempt),
		ResendsRemaining:  max(policy.MaxResends-attempt.ResendCount, 0),
		AttemptsRemaining: max(policy.MaxVerifyAttempts-attempt.AttemptCount, 0),
	}
	if attempt.State.Terminal() {
		payload.CodeExpiresAt = 0
		payload.ResendAvailableAt = 0
		payload.ResendsRemaining = 0
		payload.AttemptsRemaining = 0
	}
	return payload
}

func mapVisit(visit ledger.VisitRequest) visitPayload {
	return visitPayload{
		RequestID:  visit.RequestID.String(),
		CustomerID: visit.CustomerID.String(),
		TargetID:   visit.TargetID.String(),
		AttemptID:  visit.PaymentAttemptID.String(),
		Amount:     visit.Amount.Int64(),
		Outcome:    visit.Outcome.String(),
		CreatedAt:  visit.CreatedUnixUTC,
		ResolvedAt: visit.ResolvedUnixUTC,
	}
}

func mapEntry(entry ledger.Entry) entryPayload {
	return entryPayload{
		EntryID:      entry.EntryID,
		Sequence:     entry.Sequence,
		Amount:       entry.Amount.Int64(),
		Type:         entry.Type.String(),
		ReferenceID:  entry.ReferenceID.String(),
		Description:  entry.Description,
		Metadata:     json.RawMessage(entry.Metadata.String()),
		BalanceAfter: entry.BalanceAfter.Int64(),
		CreatedAt:    entry.CreatedUnixUTC,
	}
}

func mapRefund(refund ledger.RefundRequest) refundPayload {
	return refundPayload{
		RequestID:  refund.RequestID.String(),
		CustomerID: refund.CustomerID.String(),
		Amount:     refund.Amount.Int64(),
		Reason:     refund.Reason,
		Status:     refund.Status.String(),
		AdminNote:  refund.AdminNote,
		DecidedBy:  refund.DecidedBy,
		DecidedAt:  refund.DecidedUnixUTC,
		CreatedAt:  refund.CreatedUnixUTC,
	}
}

func queryInt64(ctx *gin.Context, name string) (int64, error) {
	raw := ctx.Query(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
