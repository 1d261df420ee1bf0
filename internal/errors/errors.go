package errors

import (
	"errors"
	"fmt"
)

// Category separates the error taxonomy the execution core operates under.
// AUTHZ, EMERGENCY_STOP, and INVARIANT are fatal for the current call and are
// never retried; POLICY is an ordinary rejection the caller may act on.
type Category string

const (
	// CategoryAuthz is a fatal authorization-boundary violation: the kill
	// switch was engaged on a path that reaches the broker, or the broker
	// client refused an unauthorized host or mode.
	CategoryAuthz Category = "AUTHZ"
	// CategoryEmergencyStop is raised when the operating mode is HALTED.
	CategoryEmergencyStop Category = "EMERGENCY_STOP"
	// CategoryPolicy is an ordinary rejection: risk disallowed, cooldown
	// active, budget exceeded. Recoverable for the caller.
	CategoryPolicy Category = "POLICY"
	// CategoryDataUnavailable means a store or read dependency failed.
	CategoryDataUnavailable Category = "DATA_UNAVAILABLE"
	// CategoryInvariant is a programming defect: an internal invariant that
	// would otherwise let a breach slip through as "allowed".
	CategoryInvariant Category = "INVARIANT"
	// CategoryBroker is a broker or transport failure, propagated after
	// guaranteed reservation release.
	CategoryBroker Category = "BROKER"
	// CategoryStore is a persistence failure on a write path.
	CategoryStore Category = "STORE"
	// CategoryConfig is an invalid configuration detected at load time.
	CategoryConfig Category = "CONFIG"
)

// ExecError is a categorized error with component and operation context.
type ExecError struct {
	Category   Category
	Component  string
	Operation  string
	Reason     string
	Message    string
	Underlying error
	Context    map[string]interface{}
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s in %s: %v", e.Category, e.Component, e.Message, e.Operation, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s in %s", e.Category, e.Component, e.Message, e.Operation)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ExecError) Unwrap() error {
	return e.Underlying
}

// IsFatal reports whether this error must terminate the call path rather than
// surface as an ordinary rejection value.
func (e *ExecError) IsFatal() bool {
	switch e.Category {
	case CategoryAuthz, CategoryEmergencyStop, CategoryInvariant, CategoryConfig:
		return true
	}
	return false
}

// WithContext attaches context information to the error.
func (e *ExecError) WithContext(key string, value interface{}) *ExecError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithReason sets the stable reason code callers and tests assert on.
func (e *ExecError) WithReason(reason string) *ExecError {
	e.Reason = reason
	return e
}

// New creates a new categorized error.
func New(category Category, component, operation, message string) *ExecError {
	return &ExecError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with execution error context.
func Wrap(err error, category Category, component, operation string) *ExecError {
	if err == nil {
		return nil
	}
	return &ExecError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Context:    make(map[string]interface{}),
	}
}

// NewAuthzError creates a fatal authorization-boundary violation.
func NewAuthzError(component, operation, message string) *ExecError {
	return New(CategoryAuthz, component, operation, message)
}

// NewEmergencyStopError creates the distinct HALTED-mode error.
func NewEmergencyStopError(component, operation string) *ExecError {
	return New(CategoryEmergencyStop, component, operation, "operating mode is HALTED")
}

// NewPolicyError creates an ordinary policy rejection error.
func NewPolicyError(component, operation, reason string) *ExecError {
	return New(CategoryPolicy, component, operation, "rejected by policy").WithReason(reason)
}

// NewInvariantError creates a crash-loud internal invariant violation.
func NewInvariantError(component, operation, message string) *ExecError {
	return New(CategoryInvariant, component, operation, message)
}

// NewDataUnavailableError wraps a failed read dependency.
func NewDataUnavailableError(component, operation string, err error) *ExecError {
	return Wrap(err, CategoryDataUnavailable, component, operation).WithReason("risk_data_unavailable")
}

// NewBrokerError wraps a broker or transport failure.
func NewBrokerError(component, operation string, err error) *ExecError {
	return Wrap(err, CategoryBroker, component, operation)
}

// NewStoreError wraps a persistence failure.
func NewStoreError(component, operation string, err error) *ExecError {
	return Wrap(err, CategoryStore, component, operation)
}

// NewConfigError creates a load-time configuration error.
func NewConfigError(component, message string) *ExecError {
	return New(CategoryConfig, component, "load", message)
}

// CategoryOf returns the category of err when it is an ExecError, or "".
func CategoryOf(err error) Category {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Category
	}
	return ""
}

// ReasonOf returns the stable reason code of err when it is an ExecError.
func ReasonOf(err error) string {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Reason
	}
	return ""
}

// IsFatal reports whether err is a fatal ExecError.
func IsFatal(err error) bool {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.IsFatal()
	}
	return false
}
