package engine

import (
	"regexp"

	"github.com/HyphaGroup/mcpcore/internal/protocol"
)

// sensitivePatterns match error text that should never reach a client
// verbatim: filesystem paths, connection strings, stack frames.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/[\w./-]+\.(go|db|sqlite|json|jsonc|log)`),
	regexp.MustCompile(`(?i)(password|token|secret|api[_-]?key)\s*[:=]`),
	regexp.MustCompile(`(?i)\b(postgres|mysql|mongodb)://`),
	regexp.MustCompile(`(?i)0x[0-9a-f]{8,}`),
}

// internalErrorPatterns match error text that indicates a programming or
// infrastructure fault rather than a caller mistake, and should be
// reported to the client only as a generic internal error.
var internalErrorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)nil pointer`),
	regexp.MustCompile(`(?i)index out of range`),
	regexp.MustCompile(`(?i)goroutine`),
	regexp.MustCompile(`(?i)runtime error`),
}

const genericErrorMessage = "internal error"

// sanitizeError maps a handler error to a JSON-RPC error object safe to
// return to the client, collapsing anything that looks like it leaked
// internal detail into a generic message while preserving the original
// text in the server log.
func sanitizeError(code int, err error) *protocol.Error {
	msg := err.Error()
	if !isUserFacingError(msg) {
		return protocol.NewError(protocol.CodeInternalError, genericErrorMessage)
	}
	return protocol.NewError(code, msg)
}

func isUserFacingError(msg string) bool {
	for _, p := range sensitivePatterns {
		if p.MatchString(msg) {
			return false
		}
	}
	for _, p := range internalErrorPatterns {
		if p.MatchString(msg) {
			return false
		}
	}
	return true
}
