package cart

import (
	"context"
	"errors"
	"testing"

	"storefront-checkout/internal/domain"
)

type stubStore struct {
	cart    domain.Cart
	loadErr error
	saveErr error
	saves   int
}

func (s *stubStore) LoadCart(_ context.Context, _ string) (domain.Cart, error) {
	if s.loadErr != nil {
		return domain.Cart{}, s.loadErr
	}
	return domain.Cart{Lines: s.cart.Snapshot()}, nil
}

func (s *stubStore) SaveCart(_ context.Context, _ string, cart domain.Cart) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.cart = cart
	return nil
}

func TestAddMergesSameKey(t *testing.T) {
	store := &stubStore{}
	svc := New(store)
	ctx := context.Background()

	if _, err := svc.Add(ctx, "s", AddInput{ProductID: "p1", Quantity: 1, UnitPriceCents: 1000, Size: "M"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	cart, err := svc.Add(ctx, "s", AddInput{ProductID: " p1 ", Quantity: 2, UnitPriceCents: 1000, Size: "M"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(cart.Lines) != 1 || cart.Lines[0].Quantity != 3 {
		t.Fatalf("expected merged line, got %+v", cart.Lines)
	}
	if store.saves != 2 || store.cart.SubtotalCents() != 3000 {
		t.Fatalf("unexpected persisted cart %+v (saves=%d)", store.cart, store.saves)
	}
}

func TestAddRejectsInvalidQuantity(t *testing.T) {
	store := &stubStore{}
	_, err := New(store).Add(context.Background(), "s", AddInput{ProductID: "p1", Quantity: 0})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.saves != 0 {
		t.Fatalf("invalid add must not persist")
	}
}

func TestSetQuantityRemovesAtZero(t *testing.T) {
	store := &stubStore{cart: domain.Cart{Lines: []domain.CartLine{
		{ProductID: "p1", Quantity: 2, Color: "red"},
		{ProductID: "p2", Quantity: 1},
	}}}
	svc := New(store)

	cart, err := svc.SetQuantity(context.Background(), "s", UpdateInput{Key: domain.LineKey{ProductID: "p1", Color: " red"}, Quantity: 0})
	if err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	if len(cart.Lines) != 1 || cart.Lines[0].ProductID != "p2" {
		t.Fatalf("expected p1 removed, got %+v", cart.Lines)
	}

	_, err = svc.Remove(context.Background(), "s", domain.LineKey{ProductID: "missing"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestImportValidatesEverythingFirst(t *testing.T) {
	store := &stubStore{}
	svc := New(store)
	_, err := svc.Import(context.Background(), "s", []AddInput{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "", Quantity: 1},
	})
	if err == nil {
		t.Fatalf("expected error for missing product id")
	}
	if store.saves != 0 {
		t.Fatalf("failed import must not persist")
	}

	cart, err := svc.Import(context.Background(), "s", []AddInput{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p1", Quantity: 4},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(cart.Lines) != 1 || cart.Lines[0].Quantity != 5 {
		t.Fatalf("unexpected cart %+v", cart.Lines)
	}
}

func TestLoadErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	_, err := New(&stubStore{loadErr: boom}).Add(context.Background(), "s", AddInput{ProductID: "p", Quantity: 1})
	if !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
}
