package checkout

import (
	"errors"
	"math"
	"time"

	"storefront-checkout/internal/backend"
	"storefront-checkout/internal/domain"
	"storefront-checkout/internal/service/payment"
)

// Totals are in cents.
type Totals struct {
	SubtotalCents int64 `json:"subtotalCents"`
	DiscountCents int64 `json:"discountCents"`
	ShippingCents int64 `json:"shippingCents"`
	TotalCents    int64 `json:"totalCents"`
}

// LastError is the most recent failed action, cleared by the next success.
type LastError struct {
	Code              string            `json:"code"`
	Message           string            `json:"message"`
	Fields            map[string]string `json:"fields,omitempty"`
	Reason            string            `json:"reason,omitempty"`
	RetryAfterSeconds int               `json:"retryAfterSeconds,omitempty"`
	Retryable         bool              `json:"retryable"`
}

// Snapshot is the read model the UI renders.
type Snapshot struct {
	SessionID        string                          `json:"sessionId"`
	State            State                           `json:"state"`
	Cart             []domain.CartLine               `json:"cart"`
	Totals           Totals                          `json:"totals"`
	Addresses        []domain.Address                `json:"addresses,omitempty"`
	Address          *domain.Address                 `json:"address,omitempty"`
	ShippingOptions  []domain.ShippingOption         `json:"shippingOptions,omitempty"`
	Shipping         *domain.ShippingOption          `json:"shipping,omitempty"`
	PaymentMethod    domain.PaymentMethod            `json:"paymentMethod,omitempty"`
	Coupon           *domain.AppliedCoupon           `json:"coupon,omitempty"`
	CouponStale      bool                            `json:"couponStale,omitempty"`
	Order            *domain.Order                   `json:"order,omitempty"`
	Payment          *domain.Payment                 `json:"payment,omitempty"`
	Artifact         *domain.InstantTransferArtifact `json:"artifact,omitempty"`
	RemainingSeconds *int                            `json:"remainingSeconds,omitempty"`
	BankSlip         *domain.BankSlip                `json:"bankSlip,omitempty"`
	LastError        *LastError                      `json:"lastError,omitempty"`
	TotalAdjusted    bool                            `json:"totalAdjusted,omitempty"`
	PollingStopped   bool                            `json:"pollingStopped,omitempty"`
	Submitting       bool                            `json:"submitting,omitempty"`
}

// Snapshot returns the current read model, recomputing the countdown.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot()
}

// State returns the current checkout stage.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) snapshot() Snapshot {
	s := Snapshot{
		SessionID:      o.sessionID,
		State:          o.state,
		Cart:           o.cart.Snapshot(),
		Totals:         o.totals(),
		Addresses:      append([]domain.Address(nil), o.addresses...),
		PaymentMethod:  o.method,
		TotalAdjusted:  o.totalAdjusted,
		PollingStopped: o.pollingStopped,
		Submitting:     o.submitting,
		LastError:      describe(o.lastErr),
	}
	if s.Cart == nil {
		s.Cart = []domain.CartLine{}
	}
	if o.address != nil {
		a := *o.address
		s.Address = &a
	}
	if len(o.shippingOptions) > 0 {
		s.ShippingOptions = append([]domain.ShippingOption(nil), o.shippingOptions...)
	}
	if o.shipping != nil {
		opt := *o.shipping
		s.Shipping = &opt
	}
	if o.coupon != nil {
		c := *o.coupon
		s.Coupon = &c
		s.CouponStale = c.StaleFor(o.cart.SubtotalCents()) && o.order == nil
	}
	if o.order != nil {
		ord := *o.order
		s.Order = &ord
	}
	if o.payment != nil {
		p := *o.payment
		s.Payment = &p
	}
	if o.artifact != nil {
		art := *o.artifact
		s.Artifact = &art
		if !art.ExpiresAt.IsZero() {
			left := remaining(art.ExpiresAt, o.now())
			s.RemainingSeconds = &left
		}
	}
	if o.bankSlip != nil {
		slip := *o.bankSlip
		s.BankSlip = &slip
	}
	return s
}

func (o *Orchestrator) totals() Totals {
	t := Totals{SubtotalCents: o.cart.SubtotalCents()}
	if o.coupon != nil && !o.coupon.StaleFor(t.SubtotalCents) {
		t.DiscountCents = o.coupon.DiscountCents
	}
	if o.shipping != nil {
		t.ShippingCents = o.shipping.PriceCents
	}
	t.TotalCents = t.SubtotalCents - t.DiscountCents + t.ShippingCents
	if o.order != nil {
		t.ShippingCents = o.order.ShippingCostCents
		t.TotalCents = o.order.TotalCents
	}
	return t
}

// remaining is ceil(expiresAt - now), never negative.
func remaining(expiresAt, now time.Time) int {
	d := expiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// Error codes reported in LastError and used by the HTTP layer.
const (
	CodeValidation        = "validation"
	CodeCouponRejected    = "coupon-rejected"
	CodeRateLimited       = "rate-limited"
	CodeTokenization      = "tokenization"
	CodeGatewayRejected   = "gateway-rejected"
	CodeArtifact          = "artifact-unavailable"
	CodePaymentExpired    = "payment-expired"
	CodeNetwork           = "network"
	CodeNotFound          = "not-found"
	CodeInvalidTransition = "invalid-transition"
	CodeAttemptInProgress = "attempt-in-progress"
	CodePaymentActive     = "payment-active"
	CodeTokenReused       = "token-reused"
	CodeResolver          = "resolver-unavailable"
	CodeInternal          = "internal"
)

// ErrorCode classifies err into one of the Code constants.
func ErrorCode(err error) string {
	var (
		verr *domain.ValidationError
		cerr *domain.CouponRejectedError
		rerr *domain.RateLimitedError
		terr *domain.TokenizationError
		gerr *domain.GatewayRejectedError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return CodeValidation
	case errors.As(err, &cerr):
		return CodeCouponRejected
	case errors.As(err, &rerr):
		return CodeRateLimited
	case errors.As(err, &terr):
		return CodeTokenization
	case errors.As(err, &gerr):
		return CodeGatewayRejected
	case errors.Is(err, domain.ErrArtifactUnavailable):
		return CodeArtifact
	case errors.Is(err, domain.ErrPaymentExpired):
		return CodePaymentExpired
	case errors.Is(err, domain.ErrTokenReused):
		return CodeTokenReused
	case errors.Is(err, domain.ErrNetwork):
		return CodeNetwork
	case errors.Is(err, domain.ErrResolverUnavailable):
		return CodeResolver
	case errors.Is(err, domain.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, domain.ErrAttemptInProgress):
		return CodeAttemptInProgress
	case errors.Is(err, domain.ErrPaymentActive):
		return CodePaymentActive
	case errors.Is(err, domain.ErrInvalidTransition):
		return CodeInvalidTransition
	default:
		return CodeInternal
	}
}

func describe(err error) *LastError {
	if err == nil {
		return nil
	}
	le := &LastError{
		Code:      ErrorCode(err),
		Message:   backend.Message(err),
		Retryable: payment.IsRetryable(err),
	}
	var (
		verr *domain.ValidationError
		cerr *domain.CouponRejectedError
		rerr *domain.RateLimitedError
		gerr *domain.GatewayRejectedError
	)
	switch {
	case errors.As(err, &verr):
		le.Fields = verr.Fields
	case errors.As(err, &cerr):
		le.Reason = string(cerr.Reason)
	case errors.As(err, &rerr):
		le.RetryAfterSeconds = int(math.Ceil(rerr.RetryAfter.Seconds()))
		le.Retryable = true
	case errors.As(err, &gerr):
		le.Reason = string(gerr.Reason)
	}
	return le
}
