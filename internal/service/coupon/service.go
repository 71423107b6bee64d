package coupon

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"storefront-checkout/internal/backend"
	"storefront-checkout/internal/domain"
)

type validator interface {
	ValidateCoupon(ctx context.Context, code string, subtotalCents int64) (*backend.CouponResult, error)
}

type Service struct {
	backend validator
	logger  *log.Logger
}

func New(v validator, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{backend: v, logger: logger}
}

// NormalizeCode trims and upper-cases a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate asks the backend about code for the given subtotal. The final
// total is always recomputed locally from the clamped discount.
func (s *Service) Validate(ctx context.Context, code string, subtotalCents int64) (*domain.AppliedCoupon, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, domain.NewValidationError("coupon", "coupon code is required")
	}

	res, err := s.backend.ValidateCoupon(ctx, code, subtotalCents)
	if err != nil {
		return nil, s.rejection(code, err)
	}
	if !res.Valid {
		reason := ClassifyReason(firstNonEmpty(res.Reason, res.Error))
		return nil, &domain.CouponRejectedError{Code: code, Reason: reason, Message: res.Error}
	}

	var discount int64
	if res.DiscountAmount != nil {
		discount = res.DiscountAmount.Cents()
	}
	applied := domain.NewAppliedCoupon(code, subtotalCents, discount)
	if res.FinalTotal != nil && res.FinalTotal.Cents() != applied.FinalTotalCents {
		s.logger.Printf("coupon: backend final total disagrees code=%s backend=%d local=%d",
			code, res.FinalTotal.Cents(), applied.FinalTotalCents)
	}
	return &applied, nil
}

func (s *Service) rejection(code string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.CouponRejectedError{Code: code, Reason: domain.CouponNotFound}
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusConflict, http.StatusGone:
			return &domain.CouponRejectedError{Code: code, Reason: ClassifyReason(apiErr.Message), Message: apiErr.Message}
		}
	}
	return err
}

// ClassifyReason maps backend reason strings to the known reasons; anything
// unrecognized is CouponOther.
func ClassifyReason(s string) domain.CouponReason {
	r := strings.ToLower(strings.TrimSpace(s))
	switch {
	case r == "":
		return domain.CouponOther
	case strings.Contains(r, "not found"), strings.Contains(r, "not_found"), strings.Contains(r, "not-found"), strings.Contains(r, "invalid"):
		return domain.CouponNotFound
	case strings.Contains(r, "expired"):
		return domain.CouponExpired
	case strings.Contains(r, "minimum"):
		return domain.CouponMinimumNotMet
	case strings.Contains(r, "used"):
		return domain.CouponAlreadyUsed
	case strings.Contains(r, "inactive"), strings.Contains(r, "disabled"):
		return domain.CouponInactive
	default:
		return domain.CouponOther
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
