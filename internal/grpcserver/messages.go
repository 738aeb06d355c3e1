package grpcserver

type BalanceRequest struct {
	CustomerID string `json:"customer_id"`
}

type BalanceResponse struct {
	CustomerID string `json:"customer_id"`
	Balance    int64  `json:"balance"`
	Currency   string `json:"currency"`
}

type ListEntriesRequest struct {
	CustomerID     string `json:"customer_id"`
	BeforeSequence int64  `json:"before_sequence"`
	Limit          int32  `json:"limit"`
}

type Entry struct {
	EntryID        string `json:"entry_id"`
	CustomerID     string `json:"customer_id"`
	Sequence       int64  `json:"sequence"`
	Amount         int64  `json:"amount"`
	Type           string `json:"type"`
	ReferenceID    string `json:"reference_id"`
	Description    string `json:"description"`
	MetadataJSON   string `json:"metadata_json"`
	BalanceAfter   int64  `json:"balance_after"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

type ListEntriesResponse struct {
	Entries []Entry `json:"entries"`
}

type AdjustBalanceRequest struct {
	CustomerID  string `json:"customer_id"`
	Amount      int64  `json:"amount"`
	ReferenceID string `json:"reference_id"`
	Description string `json:"description"`
}

type ListRefundRequestsRequest struct {
	Status string `json:"status"`
	Limit  int32  `json:"limit"`
}

type RefundRequest struct {
	RequestID      string `json:"request_id"`
	CustomerID     string `json:"customer_id"`
	Amount         int64  `json:"amount"`
	Reason         string `json:"reason"`
	Status         string `json:"status"`
	AdminNote      string `json:"admin_note"`
	DecidedBy      string `json:"decided_by"`
	DecidedUnixUTC int64  `json:"decided_unix_utc"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

type ListRefundRequestsResponse struct {
	RefundRequests []RefundRequest `json:"refund_requests"`
}

type DecideRefundRequest struct {
	RequestID string `json:"request_id"`
	Decision  string `json:"decision"`
	AdminNote string `json:"admin_note"`
	AdminID   string `json:"admin_id"`
}

type ReportOutcomeRequest struct {
	RequestID string `json:"request_id"`
	Outcome   string `json:"outcome"`
}

type VisitRequest struct {
	RequestID       string `json:"request_id"`
	CustomerID      string `json:"customer_id"`
	TargetID        string `json:"target_id"`
	AttemptID       string `json:"attempt_id"`
	Amount          int64  `json:"amount"`
	Outcome         string `json:"outcome"`
	CreatedUnixUTC  int64  `json:"created_unix_utc"`
	ResolvedUnixUTC int64  `json:"resolved_unix_utc"`
}

type SettleStaleVisitsRequest struct {
	WindowSeconds int64 `json:"window_seconds"`
	Limit         int32 `json:"limit"`
}

type SettleStaleVisitsResponse struct {
	Settled int32 `json:"settled"`
}

type AuditRequest struct{}

type AuditMismatch struct {
	CustomerID         string `json:"customer_id"`
	CachedBalance      int64  `json:"cached_balance"`
	EntrySum           int64  `json:"entry_sum"`
	LatestBalanceAfter int64  `json:"latest_balance_after"`
}

type AuditResponse struct {
	Mismatches []AuditMismatch `json:"mismatches"`
}
