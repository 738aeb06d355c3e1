package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

// Client calls the admin service over a gRPC connection using the JSON codec.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func invoke[Response any](ctx context.Context, client *Client, method string, request any) (*Response, error) {
	response := new(Response)
	if err := client.conn.Invoke(ctx, fullMethod(method), request, response, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) GetBalance(ctx context.Context, request *BalanceRequest) (*BalanceResponse, error) {
	return invoke[BalanceResponse](ctx, client, methodGetBalance, request)
}

func (client *Client) ListEntries(ctx context.Context, request *ListEntriesRequest) (*ListEntriesResponse, error) {
	return invoke[ListEntriesResponse](ctx, client, methodListEntries, request)
}

func (client *Client) AdjustBalance(ctx context.Context, request *AdjustBalanceRequest) (*Entry, error) {
	return invoke[Entry](ctx, client, methodAdjustBalance, request)
}

func (client *Client) ListRefundRequests(ctx context.Context, request *ListRefundRequestsRequest) (*ListRefundRequestsResponse, error) {
	return invoke[ListRefundRequestsResponse](ctx, client, methodListRefundRequests, request)
}

func (client *Client) DecideRefund(ctx context.Context, request *DecideRefundRequest) (*RefundRequest, error) {
	return invoke[RefundRequest](ctx, client, methodDecideRefund, request)
}

func (client *Client) ReportOutcome(ctx context.Context, request *ReportOutcomeRequest) (*VisitRequest, error) {
	return invoke[VisitRequest](ctx, client, methodReportOutcome, request)
}

func (client *Client) SettleStaleVisits(ctx context.Context, request *SettleStaleVisitsRequest) (*SettleStaleVisitsResponse, error) {
	return invoke[SettleStaleVisitsResponse](ctx, client, methodSettleStaleVisits, request)
}

func (client *Client) Audit(ctx context.Context) (*AuditResponse, error) {
	return invoke[AuditResponse](ctx, client, methodAudit, &AuditRequest{})
}
