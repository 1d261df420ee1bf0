package types

// ExecutionStatus classifies the outcome of one executeIntent call.
type ExecutionStatus string

const (
	StatusRejected   ExecutionStatus = "rejected"
	StatusAccepted   ExecutionStatus = "accepted"
	StatusPlaced     ExecutionStatus = "placed"
	StatusDryRun     ExecutionStatus = "dry_run"
	StatusDowngraded ExecutionStatus = "downgraded"
)

// ExecutionResult is the immutable outcome of a single execution attempt.
type ExecutionResult struct {
	Status        ExecutionStatus        `json:"status"`
	Decision      RiskDecision           `json:"decision"`
	BrokerOrderID string                 `json:"broker_order_id,omitempty"`
	Raw           map[string]interface{} `json:"raw,omitempty"`
	Message       string                 `json:"message,omitempty"`
	CorrelationID string                 `json:"correlation_id"`
}
