package types

import "fmt"

// ErrorKind buckets an EngineError into the propagation-policy groups the
// error-handling design lays out: some kinds recover locally, some surface
// to the operator over the stdio protocol, some are fatal to one subsystem.
type ErrorKind string

const (
	ErrKindTransient    ErrorKind = "transient"     // network blip, rate limit — retry
	ErrKindRejected     ErrorKind = "rejected"       // venue or risk rejection — surface
	ErrKindProtocol     ErrorKind = "protocol"       // malformed wire data — surface + drop
	ErrKindCorruption   ErrorKind = "corruption"     // WAL/checksum failure — fatal to subsystem
	ErrKindConfig       ErrorKind = "config"         // bad configuration — fatal at startup
)

// EngineError is the module's typed error, carrying a stable Code string
// (suitable for a log field or a stdio protocol "error" event) in addition
// to the usual wrapped cause.
type EngineError struct {
	Kind  ErrorKind
	Code  string
	Msg   string
	Cause error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *EngineError) Unwrap() error { return e.Cause }

// NewError builds an EngineError, optionally wrapping cause.
func NewError(kind ErrorKind, code, msg string, cause error) *EngineError {
	return &EngineError{Kind: kind, Code: code, Msg: msg, Cause: cause}
}
