package cart

import (
	"context"
	"strings"

	"storefront-checkout/internal/domain"
)

type Service struct {
	store cartStore
}

type cartStore interface {
	LoadCart(ctx context.Context, sessionID string) (domain.Cart, error)
	SaveCart(ctx context.Context, sessionID string, cart domain.Cart) error
}

func New(store cartStore) *Service {
	return &Service{store: store}
}

type AddInput struct {
	ProductID      string  `json:"productId"`
	VariantID      *string `json:"variantId,omitempty"`
	Name           string  `json:"name,omitempty"`
	Quantity       int     `json:"quantity"`
	UnitPriceCents int64   `json:"unitPriceCents"`
	Size           string  `json:"size,omitempty"`
	Color          string  `json:"color,omitempty"`
}

func (in AddInput) line() domain.CartLine {
	return domain.CartLine{
		ProductID:      in.ProductID,
		VariantID:      in.VariantID,
		Name:           strings.TrimSpace(in.Name),
		Quantity:       in.Quantity,
		UnitPriceCents: in.UnitPriceCents,
		Size:           in.Size,
		Color:          in.Color,
	}
}

type UpdateInput struct {
	Key      domain.LineKey `json:"key"`
	Quantity int            `json:"quantity"`
}

func (s *Service) Get(ctx context.Context, sessionID string) (domain.Cart, error) {
	return s.store.LoadCart(ctx, sessionID)
}

// Add merges the line into the stored cart and persists the result.
func (s *Service) Add(ctx context.Context, sessionID string, in AddInput) (domain.Cart, error) {
	return s.mutate(ctx, sessionID, func(c *domain.Cart) error {
		return c.Add(in.line())
	})
}

// SetQuantity removes the line when quantity is zero or less.
func (s *Service) SetQuantity(ctx context.Context, sessionID string, in UpdateInput) (domain.Cart, error) {
	key := normalizeKey(in.Key)
	if key.ProductID == "" {
		return domain.Cart{}, domain.NewValidationError("productId", "required")
	}
	return s.mutate(ctx, sessionID, func(c *domain.Cart) error {
		return c.SetQuantity(key, in.Quantity)
	})
}

func (s *Service) Remove(ctx context.Context, sessionID string, key domain.LineKey) (domain.Cart, error) {
	return s.SetQuantity(ctx, sessionID, UpdateInput{Key: key, Quantity: 0})
}

func (s *Service) Clear(ctx context.Context, sessionID string) error {
	return s.store.SaveCart(ctx, sessionID, domain.Cart{})
}

// Import adds every line with the merge rules, validating all of them first.
func (s *Service) Import(ctx context.Context, sessionID string, lines []AddInput) (domain.Cart, error) {
	var staged domain.Cart
	for _, in := range lines {
		if err := staged.Add(in.line()); err != nil {
			return domain.Cart{}, err
		}
	}
	return s.mutate(ctx, sessionID, func(c *domain.Cart) error {
		for _, l := range staged.Lines {
			if err := c.Add(l); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, sessionID string, apply func(*domain.Cart) error) (domain.Cart, error) {
	cart, err := s.store.LoadCart(ctx, sessionID)
	if err != nil {
		return domain.Cart{}, err
	}
	if err := apply(&cart); err != nil {
		return domain.Cart{}, err
	}
	if err := s.store.SaveCart(ctx, sessionID, cart); err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

func normalizeKey(k domain.LineKey) domain.LineKey {
	return domain.CartLine{ProductID: k.ProductID, Size: k.Size, Color: k.Color}.Key()
}
