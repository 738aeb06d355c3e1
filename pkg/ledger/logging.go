package ledger

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation. It never carries a one-time code.
type OperationLog struct {
	Operation   string
	CustomerID  CustomerID
	ReferenceID string
	Amount      SignedAmount
	Status      string
	Error       error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithCodeSender wires the out-of-band delivery channel for one-time codes.
func WithCodeSender(sender CodeSender) ServiceOption {
	return func(service *Service) {
		service.sender = sender
	}
}

// WithAuthorizationPolicy overrides the code lifetime and retry limits.
func WithAuthorizationPolicy(policy AuthorizationPolicy) ServiceOption {
	return func(service *Service) {
		service.policy = policy
	}
}

// WithCurrency sets the single currency the service accepts.
func WithCurrency(currency Currency) ServiceOption {
	return func(service *Service) {
		service.currency = currency
	}
}

// WithCodeHashCost sets the bcrypt cost used to hash one-time codes.
func WithCodeHashCost(cost int) ServiceOption {
	return func(service *Service) {
		service.hashCost = cost
	}
}

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(generator func() (OneTimeCode, error)) ServiceOption {
	return func(service *Service) {
		service.generateCode = generator
	}
}

// WithDeliveryTimeout bounds each CodeSender call in seconds.
func WithDeliveryTimeout(seconds int64) ServiceOption {
	return func(service *Service) {
		service.deliveryTimeoutSeconds = seconds
	}
}

// WithMaxAmount caps a single charge or adjustment in minor units.
func WithMaxAmount(amount Amount) ServiceOption {
	return func(service *Service) {
		service.maxAmount = amount
	}
}

// WithFeeResolver prices attempts server-side instead of trusting the caller's amount.
func WithFeeResolver(resolver FeeResolver) ServiceOption {
	return func(service *Service) {
		service.fees = resolver
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
