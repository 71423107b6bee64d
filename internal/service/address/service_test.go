package address

import (
	"context"
	"errors"
	"testing"

	"storefront-checkout/internal/domain"
)

type stubBackend struct {
	addrs       []domain.Address
	listErr     error
	created     *domain.Address
	createCalls int
}

func (s *stubBackend) ListAddresses(_ context.Context) ([]domain.Address, error) {
	return s.addrs, s.listErr
}

func (s *stubBackend) CreateAddress(_ context.Context, a domain.Address) (*domain.Address, error) {
	s.createCalls++
	a.ID = "addr-new"
	s.created = &a
	return &a, nil
}

type stubPostal struct {
	result *domain.PostalLookup
	err    error
	calls  int
}

func (s *stubPostal) Lookup(ctx context.Context, _ string) (*domain.PostalLookup, error) {
	s.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.result, s.err
}

func TestListKeepsFirstDefault(t *testing.T) {
	backend := &stubBackend{addrs: []domain.Address{
		{ID: "a1"},
		{ID: "a2", IsDefault: true},
		{ID: "a3", IsDefault: true},
	}}
	svc := New(backend, nil, nil, nil)

	addrs, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !addrs[1].IsDefault || addrs[2].IsDefault {
		t.Fatalf("expected only a2 default, got %+v", addrs)
	}
	def, ok := SelectDefault(addrs)
	if !ok || def.ID != "a2" {
		t.Fatalf("expected a2, got %+v", def)
	}
}

func TestSelectDefaultFallsBackToFirst(t *testing.T) {
	def, ok := SelectDefault([]domain.Address{{ID: "x"}, {ID: "y"}})
	if !ok || def.ID != "x" {
		t.Fatalf("expected first address, got %+v", def)
	}
	if _, ok := SelectDefault(nil); ok {
		t.Fatalf("expected no address")
	}
}

func TestResolvePostalCodeValidatesWithoutNetwork(t *testing.T) {
	postal := &stubPostal{}
	svc := New(&stubBackend{}, postal, nil, nil)

	_, err := svc.ResolvePostalCode(context.Background(), "1234-567")
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if postal.calls != 0 {
		t.Fatalf("lookup must not be called for invalid code")
	}
}

func TestResolvePostalCodeOutageIsUnavailable(t *testing.T) {
	postal := &stubPostal{err: domain.ErrNetwork}
	svc := New(&stubBackend{}, postal, nil, nil)

	for i := 0; i < 5; i++ {
		_, err := svc.ResolvePostalCode(context.Background(), "01001-000")
		if !errors.Is(err, domain.ErrResolverUnavailable) {
			t.Fatalf("call %d: expected unavailable, got %v", i, err)
		}
	}
	if postal.calls != 3 {
		t.Fatalf("expected breaker to open after 3 failures, got %d calls", postal.calls)
	}
}

func TestResolvePostalCodeNotFoundKeepsBreakerClosed(t *testing.T) {
	postal := &stubPostal{err: domain.ErrNotFound}
	svc := New(&stubBackend{}, postal, nil, nil)

	for i := 0; i < 5; i++ {
		if _, err := svc.ResolvePostalCode(context.Background(), "99999999"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if postal.calls != 5 {
		t.Fatalf("expected every call to reach the lookup, got %d", postal.calls)
	}
}

func TestResolvePostalCodeCancelledCallerKeepsBreakerClosed(t *testing.T) {
	postal := &stubPostal{result: &domain.PostalLookup{PostalCode: "01001000", City: "São Paulo"}}
	svc := New(&stubBackend{}, postal, nil, nil)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		if _, err := svc.ResolvePostalCode(cancelled, "01001000"); !errors.Is(err, context.Canceled) {
			t.Fatalf("call %d: expected context.Canceled, got %v", i, err)
		}
	}
	got, err := svc.ResolvePostalCode(context.Background(), "01001000")
	if err != nil || got == nil || got.City != "São Paulo" {
		t.Fatalf("expected lookup after cancellations, got %+v err=%v", got, err)
	}
	if postal.calls != 6 {
		t.Fatalf("expected every call to reach the lookup, got %d", postal.calls)
	}
}

func TestCreateValidatesFields(t *testing.T) {
	backend := &stubBackend{}
	svc := New(backend, nil, nil, nil)

	_, err := svc.Create(context.Background(), domain.Address{Street: "Rua A", PostalCode: "123"})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, f := range []string{"number", "postalCode", "phone"} {
		if _, ok := verr.Fields[f]; !ok {
			t.Fatalf("missing field %s in %+v", f, verr.Fields)
		}
	}
	if backend.createCalls != 0 {
		t.Fatalf("backend must not be called on validation failure")
	}

	addr, err := svc.Create(context.Background(), domain.Address{
		Street: "Rua A", Number: "10", Neighborhood: "Centro", City: "Sao Paulo", State: "sp",
		PostalCode: "01001-000", RecipientName: "Ana", Phone: "11999999999",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if addr.ID != "addr-new" || backend.created.PostalCode != "01001000" || backend.created.State != "SP" {
		t.Fatalf("unexpected created address %+v", backend.created)
	}
}
