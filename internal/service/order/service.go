package order

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"storefront-checkout/internal/backend"
	"storefront-checkout/internal/domain"

	"golang.org/x/sync/singleflight"
)

type creator interface {
	CreateOrder(ctx context.Context, in backend.CreateOrderRequest) (*domain.Order, error)
}

// Service creates at most one Order per checkout attempt. One Service
// guards one client session: the backend cooldown is tracked per instance.
type Service struct {
	backend creator
	group   singleflight.Group
	now     func() time.Time
	logger  *log.Logger

	mu            sync.Mutex
	created       map[string]*domain.Order
	cooldownUntil time.Time
}

func New(c creator, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{
		backend: c,
		now:     time.Now,
		logger:  logger,
		created: make(map[string]*domain.Order),
	}
}

type CreateInput struct {
	Items             []domain.CartLine
	Address           domain.Address
	AddressID         string
	ShippingCostCents int64
	ShippingMethod    string
	PaymentMethod     domain.PaymentMethod
	CouponCode        string
}

// Create returns the Order of attemptID, calling the backend only when the
// attempt has not succeeded yet. Concurrent calls for one attempt share a
// single request; a failure releases the attempt.
func (s *Service) Create(ctx context.Context, attemptID string, in CreateInput) (*domain.Order, error) {
	if attemptID == "" {
		return nil, errors.New("attempt id required")
	}
	if o := s.recorded(attemptID); o != nil {
		return o, nil
	}
	if wait := s.cooldown(); wait > 0 {
		return nil, &domain.RateLimitedError{RetryAfter: wait}
	}

	v, err, shared := s.group.Do(attemptID, func() (interface{}, error) {
		if o := s.recorded(attemptID); o != nil {
			return o, nil
		}
		o, err := s.backend.CreateOrder(backend.WithIdempotencyKey(ctx, attemptID), backend.CreateOrderRequest{
			Items:             in.Items,
			ShippingAddress:   in.Address,
			ShippingAddressID: in.AddressID,
			ShippingCostCents: in.ShippingCostCents,
			ShippingMethod:    in.ShippingMethod,
			PaymentMethod:     in.PaymentMethod,
			CouponCode:        in.CouponCode,
		})
		if err != nil {
			var rl *domain.RateLimitedError
			if errors.As(err, &rl) {
				s.setCooldown(rl.RetryAfter)
			}
			return nil, err
		}
		s.mu.Lock()
		s.created[attemptID] = o
		s.mu.Unlock()
		s.logger.Printf("order: created order=%s attempt=%s total=%d", o.ID, attemptID, o.TotalCents)
		return o, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Printf("order: attempt=%s shared an in-flight request", attemptID)
	}
	return v.(*domain.Order), nil
}

// Recorded returns the Order created for attemptID, if any.
func (s *Service) Recorded(attemptID string) (*domain.Order, bool) {
	o := s.recorded(attemptID)
	return o, o != nil
}

func (s *Service) recorded(attemptID string) *domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created[attemptID]
}

// Cooldown is the time left before the backend accepts another order.
func (s *Service) Cooldown() time.Duration {
	return s.cooldown()
}

func (s *Service) cooldown() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.cooldownUntil.Sub(s.now()); d > 0 {
		return d
	}
	return 0
}

func (s *Service) setCooldown(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if until := s.now().Add(d); until.After(s.cooldownUntil) {
		s.cooldownUntil = until
	}
}
