package address

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"storefront-checkout/internal/domain"
	"storefront-checkout/internal/metrics"

	"github.com/sony/gobreaker/v2"
)

type backendClient interface {
	ListAddresses(ctx context.Context) ([]domain.Address, error)
	CreateAddress(ctx context.Context, a domain.Address) (*domain.Address, error)
}

type postalClient interface {
	Lookup(ctx context.Context, code string) (*domain.PostalLookup, error)
}

type Service struct {
	backend backendClient
	postal  postalClient
	breaker *gobreaker.CircuitBreaker[*domain.PostalLookup]
	metrics *metrics.Metrics
	logger  *log.Logger
}

func New(backend backendClient, postal postalClient, m *metrics.Metrics, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{
		backend: backend,
		postal:  postal,
		breaker: newBreaker("postal-lookup", logger),
		metrics: m,
		logger:  logger,
	}
}

func newBreaker(name string, logger *log.Logger) *gobreaker.CircuitBreaker[*domain.PostalLookup] {
	return gobreaker.NewCircuitBreaker[*domain.PostalLookup](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		// an unknown postal code is a valid answer, not an outage; a caller
		// that went away says nothing about the lookup's health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound) || isCancellation(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Printf("address: breaker %s %s -> %s", name, from, to)
		},
	})
}

// List returns the user's addresses with at most one default: the first
// default reported by the backend wins.
func (s *Service) List(ctx context.Context) ([]domain.Address, error) {
	addrs, err := s.backend.ListAddresses(ctx)
	if err != nil {
		return nil, err
	}
	seen := false
	for i := range addrs {
		if addrs[i].IsDefault {
			if seen {
				addrs[i].IsDefault = false
			}
			seen = true
		}
	}
	return addrs, nil
}

// SelectDefault picks the default address, else the first one.
func SelectDefault(addrs []domain.Address) (domain.Address, bool) {
	for _, a := range addrs {
		if a.IsDefault {
			return a, true
		}
	}
	if len(addrs) > 0 {
		return addrs[0], true
	}
	return domain.Address{}, false
}

// ResolvePostalCode is best effort. An outage or open breaker yields
// domain.ErrResolverUnavailable.
func (s *Service) ResolvePostalCode(ctx context.Context, code string) (*domain.PostalLookup, error) {
	normalized := domain.NormalizePostalCode(code)
	if len(normalized) != domain.PostalCodeDigits {
		return nil, domain.NewValidationError("postalCode", "postal code must have 8 digits")
	}
	if s.postal == nil {
		return nil, domain.ErrResolverUnavailable
	}
	result, err := s.breaker.Execute(func() (*domain.PostalLookup, error) {
		return s.postal.Lookup(ctx, normalized)
	})
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, domain.ErrNotFound):
		return nil, err
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		s.metrics.ResolverFallback("postal")
		s.logger.Printf("address: postal lookup degraded code=%s err=%v", normalized, err)
		return nil, fmt.Errorf("%w: %v", domain.ErrResolverUnavailable, err)
	}
}

// Create validates locally before calling the backend.
func (s *Service) Create(ctx context.Context, in domain.Address) (*domain.Address, error) {
	addr := in.Normalized()
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	return s.backend.CreateAddress(ctx, addr)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
