package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind classifies failures of the generation and embedding backends.
type ErrorKind string

const (
	KindQuota     ErrorKind = "quota"
	KindTransient ErrorKind = "transient"
	KindInvalid   ErrorKind = "invalid"
)

// CapabilityError wraps a backend failure with its kind. Callers in the
// pipeline never surface it; they fall back to extractive output.
type CapabilityError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) error {
	return &CapabilityError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of a capability error. Context deadlines and
// network failures that were never wrapped count as transient; anything else
// unknown counts as invalid.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var capErr *CapabilityError
	if errors.As(err, &capErr) {
		return capErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindInvalid
}

func IsQuota(err error) bool {
	return KindOf(err) == KindQuota
}

var quotaMarkers = []string{"quota", "rate limit", "rate_limit", "too many requests", "resource_exhausted", "insufficient_quota"}

// classifyStatus maps an HTTP status and response body to an error kind.
func classifyStatus(status int, body string) ErrorKind {
	if status == http.StatusTooManyRequests {
		return KindQuota
	}
	lower := strings.ToLower(body)
	for _, marker := range quotaMarkers {
		if strings.Contains(lower, marker) {
			return KindQuota
		}
	}
	if status >= 500 || status == http.StatusRequestTimeout {
		return KindTransient
	}
	return KindInvalid
}
