package domain

import (
	"context"
	"errors"
	"fmt"
)

// Category sentinels. Wrap them with NewSubSystemError so ErrorCodeOf can
// resolve a subsystem-specific code.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	// Upstream resilience errors.
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrUpstreamFailure = fmt.Errorf("upstream request failed")
	ErrCircuitOpen     = fmt.Errorf("circuit breaker open")

	// Streaming errors.
	ErrStreamClosed = fmt.Errorf("stream already terminated")

	// Persistence errors.
	ErrStoreFailure = fmt.Errorf("chat store operation failed")

	// Relay request errors.
	ErrMethodNotAllowed = fmt.Errorf("method not allowed")
	ErrBodyTooLarge     = fmt.Errorf("request body too large")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Relay.Chat")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "dictionary"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsCancellation reports whether err is the result of a superseded or
// abandoned operation. Cancellation is never surfaced to the user.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// ErrorCode is a machine-parseable error category. The relay returns it in
// rejection bodies and the clients show it next to the friendly message.
type ErrorCode string

const (
	CodeUnknown         ErrorCode = "UNKNOWN"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeInvalidInput    ErrorCode = "INVALID_INPUT"
	CodeProviderError   ErrorCode = "PROVIDER_ERROR"
	CodeRateLimit       ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid     ErrorCode = "AUTH_INVALID"
	CodeContextOverflow ErrorCode = "CONTEXT_OVERFLOW"
	CodeUpstreamFailure ErrorCode = "UPSTREAM_FAILURE"
	CodeCircuitOpen     ErrorCode = "CIRCUIT_OPEN"
	CodeStreamClosed    ErrorCode = "STREAM_CLOSED"
	CodeChatNotFound    ErrorCode = "CHAT_NOT_FOUND"
	CodeStoreFailure    ErrorCode = "STORE_FAILURE"
	CodeCancelled       ErrorCode = "CANCELLED"

	// Relay rejections.
	CodeMethodNotAllowed ErrorCode = "METHOD_NOT_ALLOWED"
	CodeBodyTooLarge     ErrorCode = "BODY_TOO_LARGE"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeWordNotFound    ErrorCode = "DICTIONARY_WORD_NOT_FOUND"
	CodeArticleNotFound ErrorCode = "ENCYCLOPEDIA_ARTICLE_NOT_FOUND"
	CodeChatInvalid     ErrorCode = "RELAY_CHAT_INVALID"
	CodeExplainInvalid  ErrorCode = "RELAY_EXPLAIN_INVALID"
	CodeLookupInvalid   ErrorCode = "LOOKUP_INVALID"
)

var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:        CodeNotFound,
	ErrTimeout:         CodeTimeout,
	ErrInvalidInput:    CodeInvalidInput,
	ErrProviderError:   CodeProviderError,
	ErrRateLimit:       CodeRateLimit,
	ErrAuthInvalid:     CodeAuthInvalid,
	ErrContextOverflow: CodeContextOverflow,
	ErrUpstreamFailure: CodeUpstreamFailure,
	ErrCircuitOpen:     CodeCircuitOpen,
	ErrStreamClosed:    CodeStreamClosed,
	ErrStoreFailure:    CodeStoreFailure,
	context.Canceled:   CodeCancelled,

	ErrMethodNotAllowed: CodeMethodNotAllowed,
	ErrBodyTooLarge:     CodeBodyTooLarge,
}

var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"dictionary":   CodeWordNotFound,
		"encyclopedia": CodeArticleNotFound,
		"chat":         CodeChatNotFound,
	},
	ErrInvalidInput: {
		"relay.chat":    CodeChatInvalid,
		"relay.explain": CodeExplainInvalid,
		"lookup":        CodeLookupInvalid,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		for sentinel, subsysMap := range subSystemCodeMap {
			if code, ok := subsysMap[e.SubSystem]; ok && errors.Is(e.Err, sentinel) {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(e.Err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}
