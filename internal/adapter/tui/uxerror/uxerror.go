// Package uxerror turns errors from the relay, the lookup sources and the
// chat store into short user-facing messages with recovery hints.
package uxerror

import (
	"errors"
	"strings"

	"spanlight/internal/adapter/tui/theme"
	"spanlight/internal/domain"
)

// FriendlyError is a user-facing error with recovery suggestions. Code is
// omitted from Render when it is unknown.
type FriendlyError struct {
	Title   string
	Message string
	Hints   []string
	Code    domain.ErrorCode
	Raw     string
}

// Render formats the error for the chat view.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Code != "" && fe.Code != domain.CodeUnknown {
		sb.WriteString(" [" + string(fe.Code) + "]")
	}
	if fe.Message != "" {
		sb.WriteString("\n  " + fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			sb.WriteString("\n    " + theme.SymbolBullet + " " + h)
		}
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

// Sentinels come first so errors.Is sees through wrapping; string matching
// covers errors that crossed the relay as plain error frames.
var patterns = []errorPattern{
	{
		match: is(domain.ErrRateLimit),
		produce: constant("Rate Limited", "The relay or its model provider is throttling requests.",
			"Wait a moment before retrying", "Raise server.rate_limit.rps on the relay"),
	},
	{
		match: is(domain.ErrAuthInvalid),
		produce: constant("Authentication Failed", "The model provider rejected the relay's API key.",
			"Check XAI_API_KEY or ANTHROPIC_API_KEY on the relay host", "Run 'spanlight doctor'"),
	},
	{
		match: is(domain.ErrCircuitOpen),
		produce: constant("Provider Unavailable", "Recent upstream failures opened the circuit breaker.",
			"Retry in a few seconds", "Configure a fallback provider under llm.failover.fallbacks"),
	},
	{
		match: is(domain.ErrTimeout),
		produce: constant("Request Timed Out", "The answer took longer than the stream timeout.",
			"Ask a shorter question", "Increase server.stream_timeout"),
	},
	{
		match: is(domain.ErrInvalidInput),
		produce: func(err error) FriendlyError {
			return FriendlyError{Title: "Invalid Request", Message: err.Error(), Raw: err.Error()}
		},
	},
	{
		match: is(domain.ErrNotFound),
		produce: func(err error) FriendlyError {
			return FriendlyError{Title: "Not Found", Message: err.Error(), Raw: err.Error()}
		},
	},
	{
		match: is(domain.ErrStoreFailure),
		produce: constant("History Not Saved", "The chat history store could not be written.",
			"Check the store.path directory permissions", "Use store.driver: memory to run without history"),
	},
	{
		match: is(domain.ErrUpstreamFailure),
		produce: constant("Relay Unreachable", "Could not connect to the spanlight relay.",
			"Start it with 'spanlight serve'", "Check client.relay_url in config"),
	},
	{
		match: containsAny("connection refused", "dial tcp", "no such host"),
		produce: constant("Connection Failed", "Could not reach the remote service.",
			"Check your network connection", "Verify the configured URLs"),
	},
	{
		match: containsAny("deadline exceeded", "timed out", "timeout"),
		produce: constant("Request Timed Out", "The request took too long to complete.",
			"Try again", "Increase the relevant timeout in config"),
	},
	{
		match: containsAny("401", "unauthorized", "invalid api key", "authentication failed", "invalid x-api-key"),
		produce: constant("Authentication Failed", "The API key or credentials were rejected.",
			"Check the provider API key on the relay host", "Run 'spanlight doctor'"),
	},
	{
		match: containsAny("429", "rate limit", "too many requests"),
		produce: constant("Rate Limited", "Too many requests were sent.",
			"Wait a moment before retrying"),
	},
	{
		match: containsAny("402", "quota", "billing", "insufficient"),
		produce: constant("Quota Exceeded", "The model provider's quota or billing limit was reached.",
			"Check the provider's billing dashboard"),
	},
}

// Humanize converts err into a FriendlyError.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}
	for _, p := range patterns {
		if p.match(err) {
			fe := p.produce(err)
			fe.Code = domain.ErrorCodeOf(err)
			return fe
		}
	}
	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Run with logger.level: debug for details"},
		Code:    domain.ErrorCodeOf(err),
		Raw:     err.Error(),
	}
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

// containsAny matches when the lower-cased error text contains any substring.
func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

func constant(title, message string, hints ...string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		return FriendlyError{Title: title, Message: message, Hints: hints, Raw: err.Error()}
	}
}
