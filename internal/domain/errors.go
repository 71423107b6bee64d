package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")
	// ErrResolverUnavailable marks a degraded lookup (shipping quote, postal code).
	ErrResolverUnavailable = errors.New("resolver unavailable")
	// ErrArtifactUnavailable means the instant-transfer QR data never showed up.
	ErrArtifactUnavailable = errors.New("payment artifact unavailable")
	// ErrPaymentExpired is the terminal soft-expiry of an instant-transfer payment.
	ErrPaymentExpired = errors.New("payment expired")
	// ErrNetwork wraps transient transport failures; the same step may be retried.
	ErrNetwork = errors.New("network error")
	// ErrInvalidTransition is returned when an action is not allowed in the current state.
	ErrInvalidTransition = errors.New("invalid checkout transition")
	// ErrAttemptInProgress is returned while order creation for the attempt is running.
	ErrAttemptInProgress = errors.New("checkout attempt in progress")
	// ErrPaymentActive blocks a second payment while one is non-terminal.
	ErrPaymentActive = errors.New("a payment is already in progress for this order")
	// ErrTokenReused rejects a card token that was already submitted once.
	ErrTokenReused = errors.New("card token already used")
)

// ValidationError carries field-level problems detected locally.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// OrNil returns nil when no field was recorded, so callers can build the
// error incrementally and return it unconditionally.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		names = append(names, f)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, f := range names {
		parts = append(parts, f+": "+e.Fields[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// CouponReason is the reason code of a rejected coupon.
type CouponReason string

const (
	CouponNotFound      CouponReason = "not-found"
	CouponExpired       CouponReason = "expired"
	CouponMinimumNotMet CouponReason = "minimum-not-met"
	CouponAlreadyUsed   CouponReason = "already-used"
	CouponInactive      CouponReason = "inactive"
	CouponOther         CouponReason = "other"
)

type CouponRejectedError struct {
	Code    string
	Reason  CouponReason
	Message string
}

func (e *CouponRejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("coupon %s rejected (%s): %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("coupon %s rejected (%s)", e.Code, e.Reason)
}

type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many attempts, retry in %ds", int(e.RetryAfter.Round(time.Second).Seconds()))
}

type TokenizationError struct {
	Reason string
}

func (e *TokenizationError) Error() string {
	return "card tokenization failed: " + e.Reason
}

// RejectionReason buckets gateway card refusals. Unknown codes map to RejectOther.
type RejectionReason string

const (
	RejectInsufficientFunds RejectionReason = "insufficient-funds"
	RejectInvalidNumber     RejectionReason = "invalid-number"
	RejectInvalidExpiry     RejectionReason = "invalid-expiry"
	RejectInvalidCVC        RejectionReason = "invalid-cvc"
	RejectHighRisk          RejectionReason = "high-risk"
	RejectOther             RejectionReason = "other"
)

type GatewayRejectedError struct {
	Reason RejectionReason
	Detail string
}

func (e *GatewayRejectedError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("payment rejected: %s (%s)", e.Reason, e.Detail)
	}
	return fmt.Sprintf("payment rejected: %s", e.Reason)
}
