package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront-checkout/internal/domain"
)

// Keys of the client-local state kept per session.
const (
	KeyCart           = "cart"
	KeyPendingPayment = "pending-payment"
)

// Repository stores raw JSON values per (session, key). Get returns
// domain.ErrNotFound for a missing key.
type Repository interface {
	Get(ctx context.Context, sessionID, key string) ([]byte, error)
	Put(ctx context.Context, sessionID, key string, value []byte) error
	Delete(ctx context.Context, sessionID, key string) error
	DeleteSession(ctx context.Context, sessionID string) error
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

// Store is the typed view used by the checkout flow.
type Store struct {
	repo Repository
}

func NewStore(repo Repository) *Store {
	return &Store{repo: repo}
}

// LoadCart returns an empty cart when nothing was saved.
func (s *Store) LoadCart(ctx context.Context, sessionID string) (domain.Cart, error) {
	var lines []domain.CartLine
	found, err := s.get(ctx, sessionID, KeyCart, &lines)
	if err != nil || !found {
		return domain.Cart{}, err
	}
	cart := domain.Cart{Lines: lines}
	cart.Normalize()
	return cart, nil
}

// SaveCart writes the cart lines; an empty cart removes the key.
func (s *Store) SaveCart(ctx context.Context, sessionID string, cart domain.Cart) error {
	if cart.IsEmpty() {
		return s.repo.Delete(ctx, sessionID, KeyCart)
	}
	return s.put(ctx, sessionID, KeyCart, cart.Snapshot())
}

// LoadPendingPayment returns nil when no payment is in flight.
func (s *Store) LoadPendingPayment(ctx context.Context, sessionID string) (*domain.PendingPaymentHandle, error) {
	var h domain.PendingPaymentHandle
	found, err := s.get(ctx, sessionID, KeyPendingPayment, &h)
	if err != nil || !found || h.PaymentID == "" {
		return nil, err
	}
	return &h, nil
}

func (s *Store) SavePendingPayment(ctx context.Context, sessionID string, h domain.PendingPaymentHandle) error {
	return s.put(ctx, sessionID, KeyPendingPayment, h)
}

func (s *Store) ClearPendingPayment(ctx context.Context, sessionID string) error {
	return s.repo.Delete(ctx, sessionID, KeyPendingPayment)
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	return s.repo.DeleteSession(ctx, sessionID)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Store) get(ctx context.Context, sessionID, key string, out interface{}) (bool, error) {
	raw, err := s.repo.Get(ctx, sessionID, key)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) put(ctx context.Context, sessionID, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.repo.Put(ctx, sessionID, key, raw); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
