package actor

import "fmt"

// ErrorKind distinguishes an application-raised error from a
// framework-produced one (spec §3, §7).
type ErrorKind string

const (
	KindApplication ErrorKind = "application"
	KindFramework   ErrorKind = "framework"
)

// Framework error codes (spec §7).
const (
	CodeUnknownActorType     = "UNKNOWN_ACTOR_TYPE"
	CodeUnknownAction        = "UNKNOWN_ACTION"
	CodeIncorrectState       = "INCORRECT_STATE"
	CodeFinalizing           = "FINALIZING"
	CodeActorLockFailed      = "ACTOR_LOCK_FAILED"
	CodeNoReceiversAvailable = "NO_RECEIVERS_AVAILABLE"
	CodeInvokeError          = "INVOKE_ERROR"
	CodeMigrationError       = "MIGRATION_ERROR"
	CodeCallInterrupted      = "CALL_INTERRUPTED"

	CodeTransportError            = "TRANSPORT_ERROR"
	CodeTransportCallTimeout      = "TRANSPORT_CALL_TIMEOUT"
	CodeTransportCallInterrupted  = "TRANSPORT_CALL_INTERRUPTED"
	CodeUnknownReceiver           = "UNKNOWN_RECEIVER"
	CodeNoAck                     = "NO_ACK"
)

// Parameter keys carried in Framework.Parameters.
const (
	ParamRedirectDestination = "REDIRECT_DESTINATION"
	ParamMigrationVersion    = "MIGRATION_VERSION"
)

// ActionError is the tagged union that flows on the wire as the `error`
// field of a call response (spec §3, §7). Exactly one of Application or
// Framework is non-nil.
type ActionError struct {
	Application *ApplicationError `json:"application,omitempty"`
	Framework   *FrameworkError   `json:"framework,omitempty"`
}

// ApplicationError is raised by user action code. It is always surfaced
// to the caller; the portal never retries on it.
type ApplicationError struct {
	Code       string            `json:"code"`
	Template   string            `json:"template,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Message    string            `json:"message"`
	Stack      string            `json:"stack,omitempty"`
	Nested     []ActionError     `json:"nested,omitempty"`
}

// FrameworkError is produced by the runtime itself. Depending on its
// Code, the portal may retry, redirect, or abort (spec §7).
type FrameworkError struct {
	Code       string            `json:"code"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Message    string            `json:"message,omitempty"`
	Nested     []ActionError     `json:"nested,omitempty"`
}

func (e *ActionError) Error() string {
	if e == nil {
		return "<nil ActionError>"
	}
	if e.Application != nil {
		return fmt.Sprintf("application error %s: %s", e.Application.Code, e.Application.Message)
	}
	if e.Framework != nil {
		return fmt.Sprintf("framework error %s: %s", e.Framework.Code, e.Framework.Message)
	}
	return "<empty ActionError>"
}

// Kind reports which side of the tagged union is populated.
func (e *ActionError) Kind() ErrorKind {
	if e.Application != nil {
		return KindApplication
	}
	return KindFramework
}

// NewFrameworkError builds a framework error with the given code/message.
func NewFrameworkError(code, message string, params map[string]string) *ActionError {
	return &ActionError{Framework: &FrameworkError{Code: code, Message: message, Parameters: params}}
}

// NewApplicationError wraps an arbitrary Go error raised by action code
// into an ApplicationError, per the classification rule in §4.1: "any
// other thrown value is wrapped into an ApplicationError".
func NewApplicationError(err error) *ActionError {
	if ae, ok := err.(*actionErrorCarrier); ok {
		return ae.err
	}
	return &ActionError{Application: &ApplicationError{
		Code:    "ACTION_ERROR",
		Message: err.Error(),
	}}
}

// actionErrorCarrier lets action code raise an already-classified
// ActionError (e.g. a MIGRATION_ERROR) that must propagate verbatim
// instead of being wrapped as an ApplicationError.
type actionErrorCarrier struct {
	err *ActionError
}

func (c *actionErrorCarrier) Error() string { return c.err.Error() }

// AsError wraps an ActionError so it can be returned/propagated as a Go
// error through normal error-handling paths while preserving its
// classification.
func (e *ActionError) AsError() error {
	if e == nil {
		return nil
	}
	return &actionErrorCarrier{err: e}
}

// FromErr extracts the *ActionError carried by err if it was built via
// AsError, so a collaborator's already-classified error (e.g. a
// lock.Client.Acquire failure carrying a REDIRECT_DESTINATION
// parameter) can be propagated verbatim instead of rebuilt from
// err.Error(), which would drop its Parameters.
func FromErr(err error) (*ActionError, bool) {
	if carrier, ok := err.(*actionErrorCarrier); ok {
		return carrier.err, true
	}
	return nil, false
}

// ClassifyActionResult implements the error classification rule from
// spec §4.1: a FrameworkError with Code MIGRATION_ERROR propagates
// verbatim; any other error is wrapped as an ApplicationError.
func ClassifyActionResult(err error) *ActionError {
	if err == nil {
		return nil
	}
	if carrier, ok := err.(*actionErrorCarrier); ok {
		if carrier.err.Framework != nil && carrier.err.Framework.Code == CodeMigrationError {
			return carrier.err
		}
		if carrier.err.Kind() == KindApplication {
			return carrier.err
		}
		// Any other framework error raised by action code is still
		// wrapped as an application error: only MIGRATION_ERROR and
		// already-application errors propagate verbatim.
		return &ActionError{Application: &ApplicationError{
			Code:    "ACTION_ERROR",
			Message: carrier.err.Error(),
		}}
	}
	return NewApplicationError(err)
}
