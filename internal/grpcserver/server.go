package grpcserver

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/visitpay/pkg/ledger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	errorInvalidCustomerID    = "invalid_customer_id"
	errorInvalidRequestID     = "invalid_request_id"
	errorInvalidReferenceID   = "invalid_reference_id"
	errorInvalidAmount        = "invalid_amount"
	errorInvalidOutcome       = "invalid_outcome"
	errorInvalidDecision      = "invalid_decision"
	errorInvalidRefundStatus  = "invalid_status"
	errorInvalidListLimit     = "invalid_list_limit"
	errorInvalidServiceConfig = "invalid_argument"
	errorUnknownCustomer      = "unknown_customer"
	errorUnknownVisitRequest  = "unknown_visit_request"
	errorUnknownRefund        = "unknown_refund_request"
	errorUnknownAttempt       = "unknown_attempt"
	errorInsufficientBalance  = "insufficient_balance"
	errorDuplicateEntry       = "duplicate_entry"
	errorAlreadyFinalized     = "already_finalized"
	errorAlreadyDecided       = "already_decided"
	errorAttemptClosed        = "attempt_closed"
	errorUnavailable          = "unavailable"
)

// AdminServer is the contract served under visitpay.admin.v1.AdminService.
type AdminServer interface {
	GetBalance(ctx context.Context, request *BalanceRequest) (*BalanceResponse, error)
	ListEntries(ctx context.Context, request *ListEntriesRequest) (*ListEntriesResponse, error)
	AdjustBalance(ctx context.Context, request *AdjustBalanceRequest) (*Entry, error)
	ListRefundRequests(ctx context.Context, request *ListRefundRequestsRequest) (*ListRefundRequestsResponse, error)
	DecideRefund(ctx context.Context, request *DecideRefundRequest) (*RefundRequest, error)
	ReportOutcome(ctx context.Context, request *ReportOutcomeRequest) (*VisitRequest, error)
	SettleStaleVisits(ctx context.Context, request *SettleStaleVisitsRequest) (*SettleStaleVisitsResponse, error)
	Audit(ctx context.Context, request *AuditRequest) (*AuditResponse, error)
}

// AdminServiceServer exposes ledger administration over gRPC.
type AdminServiceServer struct {
	service *ledger.Service
}

// NewAdminServiceServer constructs a gRPC server for the ledger service.
func NewAdminServiceServer(service *ledger.Service) *AdminServiceServer {
	return &AdminServiceServer{service: service}
}

func (server *AdminServiceServer) GetBalance(ctx context.Context, request *BalanceRequest) (*BalanceResponse, error) {
	customerID, err := ledger.NewCustomerID(request.CustomerID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	balance, err := server.service.Balance(ctx, customerID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &BalanceResponse{
		CustomerID: customerID.String(),
		Balance:    balance.Int64(),
		Currency:   server.service.Currency().String(),
	}, nil
}

func (server *AdminServiceServer) ListEntries(ctx context.Context, request *ListEntriesRequest) (*ListEntriesResponse, error) {
	customerID, err := ledger.NewCustomerID(request.CustomerID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	entries, err := server.service.History(ctx, customerID, request.BeforeSequence, int(request.Limit))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	response := &ListEntriesResponse{Entries: make([]Entry, 0, len(entries))}
	for _, entry := range entries {
		response.Entries = append(response.Entries, mapEntry(entry))
	}
	return response, nil
}

func (server *AdminServiceServer) AdjustBalance(ctx context.Context, request *AdjustBalanceRequest) (*Entry, error) {
	customerID, err := ledger.NewCustomerID(request.CustomerID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	referenceID, err := ledger.NewReferenceID(request.ReferenceID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	entry, err := server.service.AdjustBalance(ctx, customerID, ledger.SignedAmount(request.Amount), referenceID, request.Description)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	mapped := mapEntry(entry)
	return &mapped, nil
}

func (server *AdminServiceServer) ListRefundRequests(ctx context.Context, request *ListRefundRequestsRequest) (*ListRefundRequestsResponse, error) {
	var refundStatus ledger.RefundStatus
	if request.Status != "" {
		parsed, err := ledger.ParseRefundStatus(request.Status)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		refundStatus = parsed
	}
	refunds, err := server.service.ListRefundRequests(ctx, refundStatus, int(request.Limit))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	response := &ListRefundRequestsResponse{RefundRequests: make([]RefundRequest, 0, len(refunds))}
	for _, refund := range refunds {
		response.RefundRequests = append(response.RefundRequests, mapRefund(refund))
	}
	return response, nil
}

func (server *AdminServiceServer) DecideRefund(ctx context.Context, request *DecideRefundRequest) (*RefundRequest, error) {
	requestID, err := ledger.NewRefundRequestID(request.RequestID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	decision, err := ledger.ParseRefundDecision(request.Decision)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	refund, err := server.service.DecideRefund(ctx, requestID, decision, request.AdminNote, request.AdminID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	mapped := mapRefund(refund)
	return &mapped, nil
}

func (server *AdminServiceServer) ReportOutcome(ctx context.Context, request *ReportOutcomeRequest) (*VisitRequest, error) {
	requestID, err := ledger.NewVisitRequestID(request.RequestID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	outcome, err := ledger.ParseVisitOutcome(request.Outcome)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	visit, err := server.service.ReportOutcome(ctx, requestID, outcome)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	mapped := mapVisit(visit)
	return &mapped, nil
}

func (server *AdminServiceServer) SettleStaleVisits(ctx context.Context, request *SettleStaleVisitsRequest) (*SettleStaleVisitsResponse, error) {
	settled, err := server.service.SettleStaleVisits(ctx, request.WindowSeconds, int(request.Limit))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &SettleStaleVisitsResponse{Settled: int32(settled)}, nil
}

func (server *AdminServiceServer) Audit(ctx context.Context, request *AuditRequest) (*AuditResponse, error) {
	mismatches, err := server.service.Audit(ctx)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	response := &AuditResponse{Mismatches: make([]AuditMismatch, 0, len(mismatches))}
	for _, mismatch := range mismatches {
		response.Mismatches = append(response.Mismatches, AuditMismatch{
			CustomerID:         mismatch.CustomerID.String(),
			CachedBalance:      mismatch.CachedBalance.Int64(),
			EntrySum:           mismatch.EntrySum.Int64(),
			LatestBalanceAfter: mismatch.LatestBalanceAfter.Int64(),
		})
	}
	return response, nil
}

func mapEntry(entry ledger.Entry) Entry {
	return Entry{
		EntryID:        entry.EntryID,
		CustomerID:     entry.CustomerID.String(),
		Sequence:       entry.Sequence,
		Amount:         entry.Amount.Int64(),
		Type:           entry.Type.String(),
		ReferenceID:    entry.ReferenceID.String(),
		Description:    entry.Description,
		MetadataJSON:   entry.Metadata.String(),
		BalanceAfter:   entry.BalanceAfter.Int64(),
		CreatedUnixUTC: entry.CreatedUnixUTC,
	}
}

func mapRefund(refund ledger.RefundRequest) RefundRequest {
	return RefundRequest{
		RequestID:      refund.RequestID.String(),
		CustomerID:     refund.CustomerID.String(),
		Amount:         refund.Amount.Int64(),
		Reason:         refund.Reason,
		Status:         refund.Status.String(),
		AdminNote:      refund.AdminNote,
		DecidedBy:      refund.DecidedBy,
		DecidedUnixUTC: refund.DecidedUnixUTC,
		CreatedUnixUTC: refund.CreatedUnixUTC,
	}
}

func mapVisit(visit ledger.VisitRequest) VisitRequest {
	return VisitRequest{
		RequestID:       visit.RequestID.String(),
		CustomerID:      visit.CustomerID.String(),
		TargetID:        visit.TargetID.String(),
		AttemptID:       visit.PaymentAttemptID.String(),
		Amount:          visit.Amount.Int64(),
		Outcome:         visit.Outcome.String(),
		CreatedUnixUTC:  visit.CreatedUnixUTC,
		ResolvedUnixUTC: visit.ResolvedUnixUTC,
	}
}

func mapToGRPCError(source error) error {
	if errors.Is(source, ledger.ErrInvalidCustomerID) {
		return status.Error(codes.InvalidArgument, errorInvalidCustomerID)
	}
	if errors.Is(source, ledger.ErrInvalidRequestID) {
		return status.Error(codes.InvalidArgument, errorInvalidRequestID)
	}
	if errors.Is(source, ledger.ErrInvalidReferenceID) {
		return status.Error(codes.InvalidArgument, errorInvalidReferenceID)
	}
	if errors.Is(source, ledger.ErrInvalidAmount) {
		return status.Error(codes.InvalidArgument, errorInvalidAmount)
	}
	if errors.Is(source, ledger.ErrInvalidOutcome) {
		return status.Error(codes.InvalidArgument, errorInvalidOutcome)
	}
	if errors.Is(source, ledger.ErrInvalidDecision) {
		return status.Error(codes.InvalidArgument, errorInvalidDecision)
	}
	if errors.Is(source, ledger.ErrInvalidRefundStatus) {
		return status.Error(codes.InvalidArgument, errorInvalidRefundStatus)
	}
	if errors.Is(source, ledger.ErrInvalidListLimit) {
		return status.Error(codes.InvalidArgument, errorInvalidListLimit)
	}
	if errors.Is(source, ledger.ErrInvalidServiceConfig) {
		return status.Error(codes.InvalidArgument, errorInvalidServiceConfig)
	}
	if errors.Is(source, ledger.ErrUnknownCustomer) {
		return status.Error(codes.NotFound, errorUnknownCustomer)
	}
	if errors.Is(source, ledger.ErrUnknownVisitRequest) {
		return status.Error(codes.NotFound, errorUnknownVisitRequest)
	}
	if errors.Is(source, ledger.ErrUnknownRefundRequest) {
		return status.Error(codes.NotFound, errorUnknownRefund)
	}
	if errors.Is(source, ledger.ErrUnknownAttempt) {
		return status.Error(codes.NotFound, errorUnknownAttempt)
	}
	if errors.Is(source, ledger.ErrInsufficientBalance) {
		return status.Error(codes.FailedPrecondition, errorInsufficientBalance)
	}
	if errors.Is(source, ledger.ErrDuplicateEntry) {
		return status.Error(codes.AlreadyExists, errorDuplicateEntry)
	}
	if errors.Is(source, ledger.ErrAlreadyFinalized) {
		return status.Error(codes.FailedPrecondition, errorAlreadyFinalized)
	}
	if errors.Is(source, ledger.ErrAlreadyDecided) {
		return status.Error(codes.FailedPrecondition, errorAlreadyDecided)
	}
	if errors.Is(source, ledger.ErrAttemptClosed) {
		return status.Error(codes.FailedPrecondition, errorAttemptClosed)
	}
	if errors.Is(source, context.DeadlineExceeded) || errors.Is(source, context.Canceled) {
		return status.Error(codes.Unavailable, errorUnavailable)
	}
	return status.Error(codes.Internal, source.Error())
}
