package remote

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/roach88/sadhana/internal/journal"
)

// Kind classifies a failed remote call.
type Kind int

const (
	// Hard is a genuine fault the caller must surface.
	Hard Kind = iota
	// Transient covers connectivity loss, 408, 429 and 5xx responses.
	Transient
	// Timeout means the gateway's own request deadline expired.
	Timeout
	// Conflict means the remote already holds a first-class record for the
	// event. It encodes policy, not a fault.
	Conflict
	// Unauthorized covers 401 and 403.
	Unauthorized
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Timeout:
		return "timeout"
	case Conflict:
		return "conflict"
	case Unauthorized:
		return "unauthorized"
	default:
		return "hard"
	}
}

// ConflictCode is the structured error code for a duplicate completion.
const ConflictCode = "ALREADY_OPTED"

// conflictPhrase is matched case-insensitively against server messages that
// predate ConflictCode.
const conflictPhrase = "already opted"

// Error is returned for every failed gateway request.
type Error struct {
	Kind    Kind
	Status  int    // HTTP status, 0 when no response was received
	Message string // server message, or the best available fallback
	Code    string // structured server code, if any
	Body    string // raw response body
	Key     *journal.Key
	Err     error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("remote %s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("remote %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err is a duplicate-completion conflict.
func IsConflict(err error) bool {
	return hasKind(err, Conflict)
}

// IsTimeout reports whether err is a gateway timeout.
func IsTimeout(err error) bool {
	return hasKind(err, Timeout)
}

// IsTransient reports whether err is a transient fault, timeouts included.
func IsTransient(err error) bool {
	return hasKind(err, Transient) || hasKind(err, Timeout)
}

// IsUnauthorized reports whether the remote rejected the credentials.
func IsUnauthorized(err error) bool {
	return hasKind(err, Unauthorized)
}

func hasKind(err error, k Kind) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == k
	}
	return false
}

// classify turns a non-2xx response into an Error. The structured code and
// 409 are preferred; the message substring is a fallback for older servers.
func classify(status int, msg, code, body string) *Error {
	e := &Error{Status: status, Message: msg, Code: code, Body: body}
	switch {
	case status == http.StatusConflict,
		strings.EqualFold(code, ConflictCode),
		strings.Contains(strings.ToLower(msg), conflictPhrase),
		strings.Contains(strings.ToLower(body), conflictPhrase):
		e.Kind = Conflict
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		e.Kind = Unauthorized
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		e.Kind = Transient
	default:
		e.Kind = Hard
	}
	return e
}

// failureMessage picks the message surfaced for a failed call: the server's
// message, then one derived from the status, then the raw body.
func failureMessage(status int, msg, body string) string {
	if m := strings.TrimSpace(msg); m != "" {
		return m
	}
	if status > 0 {
		return fmt.Sprintf("HTTP %d", status)
	}
	if b := strings.TrimSpace(body); b != "" {
		return b
	}
	return "Network error"
}
