package agent

import "fmt"

// FailureKind classifies a recoverable agent call failure. Every kind
// degrades to a fixed user-facing fallback text; none aborts the pipeline.
type FailureKind string

const (
	FailureTimeout    FailureKind = "timeout"
	FailureRemote     FailureKind = "remote_error"
	FailureEmptyReply FailureKind = "empty_reply"
	FailureConnection FailureKind = "connection_error"
)

// Fallback texts substituted for the agent reply on failure.
const (
	FallbackTimeout    = "Sorry, this is taking longer than expected to answer. Please try again."
	FallbackRemote     = "Sorry, I ran into an error while processing your message. Please try again."
	FallbackEmptyReply = "Sorry, I could not come up with a reply. Please try again."
	FallbackConnection = "Sorry, I had trouble reaching my brain. Please try again."
)

// CallError is a typed, recoverable agent failure.
type CallError struct {
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("agent call failed (%s, status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("agent call failed (%s): %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Fallback returns the user-facing text substituted for this failure.
func (e *CallError) Fallback() string {
	switch e.Kind {
	case FailureTimeout:
		return FallbackTimeout
	case FailureRemote:
		return FallbackRemote
	case FailureEmptyReply:
		return FallbackEmptyReply
	default:
		return FallbackConnection
	}
}
