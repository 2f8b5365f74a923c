package cluster

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// OutcomeKind is the coarse result of a management call.
type OutcomeKind int

const (
	Success OutcomeKind = iota
	Rejected
	TransportFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case Rejected:
		return "rejected"
	case TransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// Reason refines a non-successful outcome for operators. It never changes
// control flow.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonBadRequest             Reason = "bad_request"
	ReasonInsufficientPermission Reason = "insufficient_permission"
	ReasonInternalError          Reason = "internal_error"
	ReasonUnexpectedStatus       Reason = "unexpected_status"
	ReasonTimeout                Reason = "timeout"
	ReasonConnection             Reason = "connection_error"
)

// Outcome is the tagged result of one management operation.
type Outcome struct {
	Kind       OutcomeKind
	Reason     Reason
	StatusCode int
	Err        error
}

// OK reports whether the remote side explicitly acknowledged success.
func (o Outcome) OK() bool { return o.Kind == Success }

// Retryable reports whether the failure was in transport rather than a
// decision by the remote side.
func (o Outcome) Retryable() bool { return o.Kind == TransportFailure }

func (o Outcome) String() string {
	switch o.Kind {
	case Success:
		return "success"
	case Rejected:
		return fmt.Sprintf("rejected (%s, status %d)", o.Reason, o.StatusCode)
	default:
		if o.Err != nil {
			return fmt.Sprintf("transport failure (%s): %v", o.Reason, o.Err)
		}
		return fmt.Sprintf("transport failure (%s)", o.Reason)
	}
}

// Hint is the operator-facing remediation for a reason.
func (r Reason) Hint() string {
	switch r {
	case ReasonBadRequest:
		return "check URL, malformed syntax or illegal characters"
	case ReasonInsufficientPermission:
		return "refresh session ID and client token"
	case ReasonInternalError:
		return "check if the API method is still valid"
	case ReasonConnection:
		return "check connection to the internal network"
	case ReasonTimeout:
		return "re-authenticate session"
	default:
		return ""
	}
}

// Classify maps an HTTP exchange onto an Outcome. A non-nil err means the
// exchange did not complete and statusCode is ignored.
func Classify(statusCode int, err error) Outcome {
	if err != nil {
		return Outcome{Kind: TransportFailure, Reason: transportReason(err), Err: err}
	}

	out := Outcome{StatusCode: statusCode}
	switch {
	case statusCode >= 200 && statusCode < 300:
		out.Kind = Success
	case statusCode == http.StatusBadRequest:
		out.Kind, out.Reason = Rejected, ReasonBadRequest
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		out.Kind, out.Reason = Rejected, ReasonInsufficientPermission
	case statusCode >= 500:
		out.Kind, out.Reason = Rejected, ReasonInternalError
	default:
		out.Kind, out.Reason = Rejected, ReasonUnexpectedStatus
	}
	return out
}

func transportReason(err error) Reason {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}
	return ReasonConnection
}
