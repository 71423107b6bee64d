package session

import (
	"context"
	"os"
	"testing"

	"storefront-checkout/internal/domain"
	"storefront-checkout/internal/migrate"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestPostgres_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	pool := testPool(ctx, t)
	defer pool.Close()

	if err := migrate.Apply(ctx, pool); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE client_state`); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	store := NewStore(NewPostgres(pool))
	var cart domain.Cart
	if err := cart.Add(domain.CartLine{ProductID: "p1", Quantity: 2, UnitPriceCents: 1500}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.SaveCart(ctx, "s1", cart); err != nil {
		t.Fatalf("SaveCart: %v", err)
	}
	if err := cart.Add(domain.CartLine{ProductID: "p1", Quantity: 1, UnitPriceCents: 1500}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.SaveCart(ctx, "s1", cart); err != nil {
		t.Fatalf("SaveCart upsert: %v", err)
	}

	loaded, err := store.LoadCart(ctx, "s1")
	if err != nil {
		t.Fatalf("LoadCart: %v", err)
	}
	if len(loaded.Lines) != 1 || loaded.Lines[0].Quantity != 3 {
		t.Fatalf("unexpected cart %+v", loaded)
	}

	if err := store.SavePendingPayment(ctx, "s1", domain.PendingPaymentHandle{PaymentID: "pay-1", Method: domain.MethodCard}); err != nil {
		t.Fatalf("SavePendingPayment: %v", err)
	}
	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	h, err := store.LoadPendingPayment(ctx, "s1")
	if err != nil || h != nil {
		t.Fatalf("expected no handle after delete, got %+v %v", h, err)
	}
}

func testPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	return pool
}
