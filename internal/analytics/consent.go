package analytics

import (
	"context"
	"strings"
)

// ConsentChecker decides whether tracking is allowed for the current call.
type ConsentChecker interface {
	HasConsent(ctx context.Context) bool
}

// ConsentFunc adapts a function to ConsentChecker.
type ConsentFunc func(ctx context.Context) bool

func (f ConsentFunc) HasConsent(ctx context.Context) bool { return f(ctx) }

type consentKey struct{}

// WithConsent records the visitor's consent decision on ctx.
func WithConsent(ctx context.Context, granted bool) context.Context {
	return context.WithValue(ctx, consentKey{}, granted)
}

// ConsentFromContext returns the recorded decision. Missing means denied.
func ConsentFromContext(ctx context.Context) bool {
	granted, _ := ctx.Value(consentKey{}).(bool)
	return granted
}

// ContextConsent reads the decision placed on the context by HTTP middleware.
type ContextConsent struct{}

func (ContextConsent) HasConsent(ctx context.Context) bool { return ConsentFromContext(ctx) }

// ParseConsent interprets a cookie or header value. Only explicit grants
// count.
func ParseConsent(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "granted", "accepted", "all":
		return true
	}
	return false
}
