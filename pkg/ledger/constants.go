package ledger

const (
	OperationAppend        = "append"
	OperationAdjust        = "adjust_balance"
	OperationInitiate      = "initiate_payment"
	OperationResend        = "resend_code"
	OperationVerify        = "verify_code"
	OperationAbandon       = "abandon_payment"
	OperationDeliverCode   = "deliver_code"
	OperationCreateVisit   = "create_visit_request"
	OperationReportOutcome = "report_outcome"
	OperationRequestRefund = "request_refund"
	OperationDecideRefund  = "decide_refund"
	OperationSettleStale   = "settle_stale_visit"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	errorOperationService = "service"
	errorSubjectCode      = "code"
	errorCodeGenerate     = "generate"
	errorCodeHash         = "hash"
	errorCodeCompare      = "compare"
	errorSubjectAttempt   = "attempt"
	errorCodeOpenKey      = "open_key"

	defaultCurrencyCode        = "GNF"
	defaultCodeTTLSeconds      = 60
	defaultResendCooldown      = 60
	defaultMaxResends          = 3
	defaultMaxVerifyAttempts   = 3
	defaultHistoryLimit        = 50
	maxHistoryLimit            = 200
	defaultDeliveryTimeoutSecs = 5
	openKeyDelimiter           = "|"
	openKeyLengthSeparator     = ":"
	defaultMaxAmount           = Amount(1_000_000_000_000)
)
