// Package gameerr defines the error taxonomy shared by the game core.
package gameerr

import "errors"

// Kind groups error codes by how callers must react to them.
type Kind string

const (
	// KindTransport is a network or HTTP failure calling the model. The
	// turn is aborted and state is untouched.
	KindTransport Kind = "transport"
	// KindMalformedResponse is non-JSON or schema-violating model output.
	KindMalformedResponse Kind = "malformed_response"
	// KindQualityDefect is salvageable output that breaks a style rule.
	KindQualityDefect Kind = "quality_defect"
	// KindConfiguration is fatal at startup.
	KindConfiguration Kind = "configuration"
	// KindBusy is returned when a turn is already in flight.
	KindBusy Kind = "busy"
	// KindStale marks a response that arrived after the session was reset.
	KindStale Kind = "stale"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeTransportFailed  Code = "transport_failed"
	CodeTransportTimeout Code = "transport_timeout"
	CodeMalformedJSON    Code = "malformed_json"
	CodeSchemaViolation  Code = "schema_violation"
	CodeMissingConfig    Code = "missing_config"
	CodeTurnInProgress   Code = "turn_in_progress"
	CodeStaleResponse    Code = "stale_response"
	CodeNoSession        Code = "no_session"

	CodeNarrativeLength   Code = "narrative_length"
	CodeVagueLanguage     Code = "vague_language"
	CodeInertOption       Code = "inert_option"
	CodeOptionCount       Code = "option_count"
	CodeTrivialAction     Code = "trivial_action"
	CodeZeroField         Code = "zero_field"
	CodeUnknownAttribute  Code = "unknown_attribute"
	CodeUnknownReputation Code = "unknown_reputation"
	CodeUnknownMeridian   Code = "unknown_meridian"
)

var codeKinds = map[Code]Kind{
	CodeTransportFailed:   KindTransport,
	CodeTransportTimeout:  KindTransport,
	CodeMalformedJSON:     KindMalformedResponse,
	CodeSchemaViolation:   KindMalformedResponse,
	CodeMissingConfig:     KindConfiguration,
	CodeTurnInProgress:    KindBusy,
	CodeStaleResponse:     KindStale,
	CodeNoSession:         KindBusy,
	CodeNarrativeLength:   KindQualityDefect,
	CodeVagueLanguage:     KindQualityDefect,
	CodeInertOption:       KindQualityDefect,
	CodeOptionCount:       KindQualityDefect,
	CodeTrivialAction:     KindQualityDefect,
	CodeZeroField:         KindQualityDefect,
	CodeUnknownAttribute:  KindQualityDefect,
	CodeUnknownReputation: KindQualityDefect,
	CodeUnknownMeridian:   KindQualityDefect,
}

// Kind returns the kind a code belongs to.
func (c Code) Kind() Kind {
	return codeKinds[c]
}

// Error is the domain error type with a machine-readable code.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Message for logs and display
	Cause   error  // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Kind returns the kind of the error's code.
func (e *Error) Kind() Kind {
	return e.Code.Kind()
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// KindOf returns the kind of the first domain error in err's chain, or
// the empty kind when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind()
	}
	return ""
}

// IsKind reports whether err carries a domain error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Sentinels usable with errors.Is.
var (
	ErrBusy          = New(CodeTurnInProgress, "a turn is already in progress")
	ErrStale         = New(CodeStaleResponse, "response arrived after the session was reset")
	ErrNoSession     = New(CodeNoSession, "no game session is active")
	ErrMalformedJSON = New(CodeMalformedJSON, "model output is not valid JSON")
)
