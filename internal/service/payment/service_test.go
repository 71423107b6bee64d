package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"storefront-checkout/internal/backend"
	"storefront-checkout/internal/domain"
)

type stubGateway struct {
	created       backend.CreatePaymentRequest
	artifacts     []*backend.InstantTransferArtifact
	artifactErr   error
	artifactCalls int
	cardResult    *domain.CardResult
	cardCalls     int
}

func (s *stubGateway) CreatePayment(_ context.Context, in backend.CreatePaymentRequest) (*domain.Payment, error) {
	s.created = in
	return &domain.Payment{ID: "pay-1", Method: in.Method, Status: domain.StatusPending}, nil
}

func (s *stubGateway) ProcessInstantTransfer(_ context.Context, _ string) (*backend.InstantTransferArtifact, error) {
	s.artifactCalls++
	if s.artifactErr != nil {
		return nil, s.artifactErr
	}
	idx := s.artifactCalls - 1
	if idx >= len(s.artifacts) {
		idx = len(s.artifacts) - 1
	}
	return s.artifacts[idx], nil
}

func (s *stubGateway) ProcessCard(_ context.Context, _, _ string, _ int, _ string) (*domain.CardResult, error) {
	s.cardCalls++
	r := *s.cardResult
	return &r, nil
}

func (s *stubGateway) ProcessBankSlip(_ context.Context, _ string) (*domain.BankSlip, error) {
	return &domain.BankSlip{Reference: "slip-1"}, nil
}

func (s *stubGateway) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	return &domain.Payment{ID: id, Status: domain.StatusPending}, nil
}

func fastConfig() Config {
	return Config{ArtifactAttempts: 5, ArtifactDelay: time.Millisecond, FallbackExpiry: 5 * time.Minute}
}

func TestCreateUsesConfiguredGateway(t *testing.T) {
	g := &stubGateway{}
	svc := New(g, Config{}, nil)
	p, err := svc.Create(context.Background(), "ord-1", domain.MethodInstantTransfer, 10500, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if g.created.Gateway != "mercadopago" || g.created.Installments != 1 || g.created.AmountCents != 10500 {
		t.Fatalf("unexpected request %+v", g.created)
	}
	if p.OrderID != "ord-1" || p.Status != domain.StatusPending {
		t.Fatalf("unexpected payment %+v", p)
	}
	if _, err := svc.Create(context.Background(), "ord-1", "cash", 100, 1); err == nil {
		t.Fatalf("expected invalid method error")
	}
}

func TestArtifactRetriesUntilPresent(t *testing.T) {
	exp := time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC)
	g := &stubGateway{artifacts: []*backend.InstantTransferArtifact{
		{}, {}, {PayCode: "000201", ExpiresAt: &exp},
	}}
	svc := New(g, fastConfig(), nil)

	art, err := svc.InstantTransferArtifact(context.Background(), "pay-1")
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	if g.artifactCalls != 3 || art.PayCode != "000201" || !art.ExpiresAt.Equal(exp) {
		t.Fatalf("unexpected artifact %+v after %d calls", art, g.artifactCalls)
	}
}

func TestArtifactExhaustsAttempts(t *testing.T) {
	g := &stubGateway{artifacts: []*backend.InstantTransferArtifact{{}}}
	_, err := New(g, fastConfig(), nil).InstantTransferArtifact(context.Background(), "pay-1")
	if !errors.Is(err, domain.ErrArtifactUnavailable) {
		t.Fatalf("expected artifact unavailable, got %v", err)
	}
	if g.artifactCalls != 5 {
		t.Fatalf("expected 5 attempts, got %d", g.artifactCalls)
	}

	g = &stubGateway{artifactErr: domain.ErrNetwork}
	_, err = New(g, fastConfig(), nil).InstantTransferArtifact(context.Background(), "pay-1")
	if !errors.Is(err, domain.ErrArtifactUnavailable) || g.artifactCalls != 5 {
		t.Fatalf("expected artifact unavailable after 5 failing calls, got %v (%d)", err, g.artifactCalls)
	}
}

func TestArtifactFallbackExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	g := &stubGateway{artifacts: []*backend.InstantTransferArtifact{{QRImage: "img"}}}
	svc := New(g, fastConfig(), nil)
	svc.now = func() time.Time { return now }

	art, err := svc.InstantTransferArtifact(context.Background(), "pay-1")
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	if !art.ExpiresAt.Equal(now.Add(5 * time.Minute)) {
		t.Fatalf("expected fallback expiry, got %s", art.ExpiresAt)
	}
}

func TestProcessCardRejectsReusedToken(t *testing.T) {
	g := &stubGateway{cardResult: &domain.CardResult{Status: domain.StatusRejected, StatusDetail: "cc_rejected_insufficient_amount"}}
	svc := New(g, fastConfig(), nil)

	res, err := svc.ProcessCard(context.Background(), "pay-1", domain.CardToken{ID: "tok-1"}, 1, "visa")
	if err != nil {
		t.Fatalf("process card: %v", err)
	}
	if res.Reason != domain.RejectInsufficientFunds {
		t.Fatalf("expected insufficient funds, got %s", res.Reason)
	}

	_, err = svc.ProcessCard(context.Background(), "pay-2", domain.CardToken{ID: "tok-1"}, 1, "visa")
	if !errors.Is(err, domain.ErrTokenReused) {
		t.Fatalf("expected token reuse error, got %v", err)
	}
	if g.cardCalls != 1 {
		t.Fatalf("reused token must not reach the gateway, got %d calls", g.cardCalls)
	}
}

func TestProcessCardApprovedHasNoReason(t *testing.T) {
	g := &stubGateway{cardResult: &domain.CardResult{Status: domain.StatusApproved, StatusDetail: "accredited"}}
	res, err := New(g, fastConfig(), nil).ProcessCard(context.Background(), "pay-1", domain.CardToken{ID: "tok-9"}, 3, "master")
	if err != nil || res.Status != domain.StatusApproved || res.Reason != "" {
		t.Fatalf("unexpected result %+v %v", res, err)
	}
}
