package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront-checkout/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, 0, srv.Client(), nil)
}

func TestCreateOrderSendsHeadersAndDecimalAmounts(t *testing.T) {
	var gotAuth, gotKey string
	var body map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"ord-1","items":[{"productId":"p1","quantity":2,"unitPrice":50.00}],"total":"115.00","shippingCost":15,"paymentMethod":"pix"}`))
	})

	ctx := WithIdempotencyKey(WithAuthToken(context.Background(), "tok"), "attempt-1")
	order, err := c.CreateOrder(ctx, CreateOrderRequest{
		Items:             []domain.CartLine{{ProductID: "p1", Quantity: 2, UnitPriceCents: 5000}},
		ShippingCostCents: 1500,
		ShippingMethod:    "sedex",
		PaymentMethod:     domain.MethodInstantTransfer,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if gotAuth != "Bearer tok" || gotKey != "attempt-1" {
		t.Fatalf("unexpected headers auth=%q key=%q", gotAuth, gotKey)
	}
	if body["shippingCost"] != 15.0 {
		t.Fatalf("expected decimal shipping cost, got %v", body["shippingCost"])
	}
	if order.ID != "ord-1" || order.TotalCents != 11500 || order.ShippingCostCents != 1500 {
		t.Fatalf("unexpected order %+v", order)
	}
	if order.PaymentMethod != domain.MethodInstantTransfer {
		t.Fatalf("expected method alias to be parsed, got %q", order.PaymentMethod)
	}
	if len(order.Items) != 1 || order.Items[0].UnitPriceCents != 5000 {
		t.Fatalf("unexpected items %+v", order.Items)
	}
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down","retryAfter":12}`))
	})
	_, err := c.CreateOrder(context.Background(), CreateOrderRequest{})
	var rl *domain.RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if rl.RetryAfter != 12*time.Second {
		t.Fatalf("expected 12s, got %s", rl.RetryAfter)
	}
}

func TestRateLimitedFallsBackToHeader(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := c.ListAddresses(context.Background())
	var rl *domain.RateLimitedError
	if !errors.As(err, &rl) || rl.RetryAfter != 7*time.Second {
		t.Fatalf("expected 7s rate limit, got %v", err)
	}
}

func TestErrorMapping(t *testing.T) {
	status := http.StatusNotFound
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"message":"nope"}`))
	})

	if _, err := c.GetPayment(context.Background(), "pay-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	status = http.StatusBadGateway
	if _, err := c.GetPayment(context.Background(), "pay-1"); !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}

	status = http.StatusBadRequest
	_, err := c.GetPayment(context.Background(), "pay-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected api error, got %v", err)
	}
	if Message(err) != "nope" {
		t.Fatalf("unexpected message %q", Message(err))
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(url, time.Second, nil, nil)
	_, err := c.ListAddresses(context.Background())
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestQuoteShippingDropsErroredOptions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"options":[
			{"serviceId":"1","name":"PAC","price":"22.50","estimatedDays":6,"carrier":"correios"},
			{"serviceId":"2","displayName":"Sedex","price":0,"error":"unavailable"}
		]}`))
	})
	opts, err := c.QuoteShipping(context.Background(), QuoteRequest{DestinationPostalCode: "01001000"})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if len(opts) != 1 || opts[0].DisplayName != "PAC" || opts[0].PriceCents != 2250 {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestPaymentDecodingNormalizesStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"pay-9","orderId":"ord-1","paymentMethod":"pix","amount":115,"status":"AUTHORIZED","qrCode":"000201","expiresAt":"2026-01-01T12:05:00Z"}`))
	})
	p, err := c.GetPayment(context.Background(), "pay-9")
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if p.Status != domain.StatusApproved || p.PayCode != "000201" || p.AmountCents != 11500 {
		t.Fatalf("unexpected payment %+v", p)
	}
	if p.ExpiresAt == nil || p.ExpiresAt.Minute() != 5 {
		t.Fatalf("expiresAt not decoded")
	}
}
