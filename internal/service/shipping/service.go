package shipping

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"storefront-checkout/internal/backend"
	"storefront-checkout/internal/domain"
	"storefront-checkout/internal/metrics"
	"storefront-checkout/internal/money"

	"github.com/sony/gobreaker/v2"
)

type quoter interface {
	QuoteShipping(ctx context.Context, in backend.QuoteRequest) ([]domain.ShippingOption, error)
}

// Package describes how a cart is boxed for quoting.
type Package struct {
	UnitWeightGrams int
	Box             backend.Dimensions
	HeightStepCM    int
	MaxHeightCM     int
}

func DefaultPackage() Package {
	return Package{
		UnitWeightGrams: 300,
		Box:             backend.Dimensions{Length: 30, Width: 20, Height: 10},
		HeightStepCM:    2,
		MaxHeightCM:     100,
	}
}

type Service struct {
	quoter  quoter
	pkg     Package
	breaker *gobreaker.CircuitBreaker[[]domain.ShippingOption]
	metrics *metrics.Metrics
	logger  *log.Logger
}

func New(q quoter, pkg Package, m *metrics.Metrics, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if pkg.UnitWeightGrams <= 0 {
		pkg.UnitWeightGrams = DefaultPackage().UnitWeightGrams
	}
	if pkg.Box == (backend.Dimensions{}) {
		pkg.Box = DefaultPackage().Box
	}
	if pkg.MaxHeightCM <= 0 {
		pkg.MaxHeightCM = DefaultPackage().MaxHeightCM
	}
	return &Service{
		quoter: q,
		pkg:    pkg,
		breaker: gobreaker.NewCircuitBreaker[[]domain.ShippingOption](gobreaker.Settings{
			Name:        "shipping-quote",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Printf("shipping: breaker %s %s -> %s", name, from, to)
			},
		}),
		metrics: m,
		logger:  logger,
	}
}

type QuoteInput struct {
	DestinationPostalCode string
	Items                 []domain.CartLine
}

// Quote never fails: any problem degrades to store pickup alone. Store
// pickup is always the last option and appears exactly once.
func (s *Service) Quote(ctx context.Context, in QuoteInput) []domain.ShippingOption {
	dest := domain.NormalizePostalCode(in.DestinationPostalCode)
	if len(dest) != domain.PostalCodeDigits || len(in.Items) == 0 || s.quoter == nil {
		return []domain.ShippingOption{domain.StorePickup()}
	}

	req := s.buildRequest(dest, in.Items)
	options, err := s.breaker.Execute(func() ([]domain.ShippingOption, error) {
		return s.quoter.QuoteShipping(ctx, req)
	})
	if err != nil && ctx.Err() != nil {
		return []domain.ShippingOption{domain.StorePickup()}
	}
	if err != nil {
		s.metrics.ResolverFallback("shipping")
		s.logger.Printf("shipping: quote degraded to pickup dest=%s err=%v", dest, err)
		return []domain.ShippingOption{domain.StorePickup()}
	}

	result := make([]domain.ShippingOption, 0, len(options)+1)
	seen := make(map[string]bool, len(options))
	for _, o := range options {
		if o.IsStorePickup() || o.ServiceID == "" || seen[o.ServiceID] {
			continue
		}
		if o.PriceCents < 0 || o.EstimatedDays < 0 {
			continue
		}
		seen[o.ServiceID] = true
		result = append(result, o)
	}
	if len(result) == 0 {
		s.metrics.ResolverFallback("shipping")
		s.logger.Printf("shipping: no usable carrier options dest=%s", dest)
	}
	return append(result, domain.StorePickup())
}

// DefaultOption is the first of the returned list.
func DefaultOption(options []domain.ShippingOption) (domain.ShippingOption, bool) {
	if len(options) == 0 {
		return domain.ShippingOption{}, false
	}
	return options[0], true
}

func (s *Service) buildRequest(dest string, lines []domain.CartLine) backend.QuoteRequest {
	units := 0
	var value int64
	items := make([]backend.QuoteItem, 0, len(lines))
	for _, l := range lines {
		units += l.Quantity
		value += l.TotalCents()
		items = append(items, backend.QuoteItem{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: money.Amount(l.UnitPriceCents),
		})
	}
	return backend.QuoteRequest{
		DestinationPostalCode: dest,
		Weight:                float64(units*s.pkg.UnitWeightGrams) / 1000,
		Dimensions:            s.dimensions(units),
		Value:                 money.Amount(value),
		Items:                 items,
	}
}

func (s *Service) dimensions(units int) backend.Dimensions {
	d := s.pkg.Box
	if units > 1 {
		d.Height += s.pkg.HeightStepCM * (units - 1)
	}
	if d.Height > s.pkg.MaxHeightCM {
		d.Height = s.pkg.MaxHeightCM
	}
	return d
}
