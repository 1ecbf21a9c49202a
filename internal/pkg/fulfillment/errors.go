package fulfillment

import (
	"context"
	"errors"
	"strings"
)

// Short error codes surfaced to the payer and operators when provisioning
// fails. Payers get the code; operators additionally get the raw upstream
// detail.
const (
	CodeIdentityTaken = "identity_taken"
	CodeTimeout       = "timeout"
	CodeUpstreamError = "upstream_error"
)

// ClassifyProvisioningError maps an upstream panel error onto a short code
// by pattern-matching its text. Unrecognized errors fall through to the
// generic upstream code.
func ClassifyProvisioningError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return CodeTimeout
	case strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "already taken") ||
		strings.Contains(msg, "conflict") ||
		strings.Contains(msg, "status 409"):
		return CodeIdentityTaken
	default:
		return CodeUpstreamError
	}
}
