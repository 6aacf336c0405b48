package errors

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Context carries the information about a failed operation that the
// classifier needs beyond the error itself.
type Context struct {
	// Op is the operation that failed
	Op Operation

	// Component that raised the error
	Component string

	// EntityID identifies the line or aggregate being operated on, if any
	EntityID string

	// TempID marks an operation addressed to a not-yet-confirmed identifier.
	// Such operations are never retried: the identity itself may change
	// before a retry fires.
	TempID bool

	// StatusCode is the remote response status, or 0 when no response arrived
	StatusCode int
}

// kindRetryable is the retryability rule of thumb: network, timeout and
// server-side failures can be retried; everything the caller has to change
// first cannot.
var kindRetryable = map[Kind]bool{
	KindNetwork:    true,
	KindSession:    false,
	KindCache:      true,
	KindSync:       false,
	KindValidation: false,
	KindPermission: false,
	KindServer:     true,
	KindTimeout:    true,
	KindClient:     false,
	KindUnknown:    false,
}

var kindSeverity = map[Kind]Severity{
	KindNetwork:    SeverityMedium,
	KindSession:    SeverityHigh,
	KindCache:      SeverityLow,
	KindSync:       SeverityMedium,
	KindValidation: SeverityLow,
	KindPermission: SeverityHigh,
	KindServer:     SeverityHigh,
	KindTimeout:    SeverityMedium,
	KindClient:     SeverityMedium,
	KindUnknown:    SeverityMedium,
}

var userMessages = map[Kind]string{
	KindNetwork:    "Connection problem. Your changes are saved locally and will sync when the connection recovers.",
	KindSession:    "Your session has expired. Please sign in again.",
	KindCache:      "Locally cached data could not be used.",
	KindSync:       "Some changes could not be synchronized automatically.",
	KindValidation: "Some values are invalid and could not be saved.",
	KindPermission: "You do not have permission to make this change.",
	KindServer:     "The server reported a problem. We will retry shortly.",
	KindTimeout:    "The server took too long to respond. We will retry shortly.",
	KindClient:     "The request could not be processed.",
	KindUnknown:    "An unexpected error occurred.",
}

var suggestions = map[Kind][]string{
	KindNetwork:    {"Check your network connection", "Changes will be retried automatically"},
	KindSession:    {"Sign in again to continue"},
	KindCache:      {"Refresh to reload the latest data"},
	KindSync:       {"Review the conflicting changes", "Choose which version to keep"},
	KindValidation: {"Correct the highlighted values", "Save again"},
	KindPermission: {"Contact an administrator for access"},
	KindServer:     {"Wait a moment and try again"},
	KindTimeout:    {"Wait a moment and try again"},
	KindClient:     {"Refresh and repeat the operation"},
	KindUnknown:    {"Try again", "Contact support if the problem persists"},
}

// Classify maps any failure plus its operation context to a taxonomy entry.
// If the error is already a SyncError its kind is preserved and only the
// missing fields are filled in. Classification is pure: the same error and
// context always produce the same entry.
func Classify(err error, opCtx Context) *SyncError {
	if err == nil {
		return nil
	}

	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		out := *syncErr
		if out.Op == "" {
			out.Op = opCtx.Op
		}
		if out.Component == "" {
			out.Component = opCtx.Component
		}
		if out.Kind == "" {
			out.Kind = KindUnknown
		}
		if out.Severity == "" {
			out.Severity = kindSeverity[out.Kind]
		}
		if out.UserMessage == "" {
			out.UserMessage = userMessages[out.Kind]
		}
		if len(out.Suggestions) == 0 {
			out.Suggestions = suggestions[out.Kind]
		}
		applyContext(&out, opCtx)
		return &out
	}

	kind := classifyKind(err, opCtx)
	retryable := kindRetryable[kind]
	if opCtx.StatusCode == 404 {
		// Not-found is the lone 4xx worth retrying: the entity may not have
		// propagated to the remote store yet.
		retryable = true
	}
	out := &SyncError{
		Op:          opCtx.Op,
		Component:   opCtx.Component,
		Kind:        kind,
		Severity:    kindSeverity[kind],
		Err:         err,
		Retryable:   retryable,
		UserMessage: userMessages[kind],
		Suggestions: suggestions[kind],
	}
	applyContext(out, opCtx)
	return out
}

func applyContext(e *SyncError, opCtx Context) {
	if opCtx.EntityID != "" {
		e.WithMetadata("entity_id", opCtx.EntityID)
	}
	if opCtx.StatusCode != 0 {
		e.WithMetadata("status_code", opCtx.StatusCode)
	}
	if opCtx.TempID {
		// Retrying against a temporary identifier can never succeed.
		e.Retryable = false
		e.WithMetadata("temp_id", true)
	}
}

func classifyKind(err error, opCtx Context) Kind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindClient
	}

	if opCtx.StatusCode != 0 {
		return kindFromStatus(opCtx.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "network is unreachable"),
		strings.Contains(msg, "broken pipe"):
		return KindNetwork
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return KindTimeout
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "session expired"),
		strings.Contains(msg, "token expired"):
		return KindSession
	case strings.Contains(msg, "forbidden"), strings.Contains(msg, "permission denied"):
		return KindPermission
	case strings.Contains(msg, "validation"), strings.Contains(msg, "invalid"):
		return KindValidation
	}

	return KindUnknown
}

func kindFromStatus(status int) Kind {
	switch {
	case status == 401:
		return KindSession
	case status == 403:
		return KindPermission
	case status == 404:
		// The entity may simply not be visible yet; treated as a sync
		// condition rather than a hard client failure.
		return KindSync
	case status == 408:
		return KindTimeout
	case status == 429:
		return KindServer
	case status == 400 || status == 422:
		return KindValidation
	case status >= 500:
		return KindServer
	case status >= 400:
		return KindClient
	default:
		return KindUnknown
	}
}
