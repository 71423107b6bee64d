package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"storefront-checkout/internal/backend"
	"storefront-checkout/internal/domain"
)

type gateway interface {
	CreatePayment(ctx context.Context, in backend.CreatePaymentRequest) (*domain.Payment, error)
	ProcessInstantTransfer(ctx context.Context, paymentID string) (*backend.InstantTransferArtifact, error)
	ProcessCard(ctx context.Context, paymentID, token string, installments int, methodID string) (*domain.CardResult, error)
	ProcessBankSlip(ctx context.Context, paymentID string) (*domain.BankSlip, error)
	GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error)
}

type Config struct {
	Gateway          string
	ArtifactAttempts int
	ArtifactDelay    time.Duration
	FallbackExpiry   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Gateway:          "mercadopago",
		ArtifactAttempts: 5,
		ArtifactDelay:    2 * time.Second,
		FallbackExpiry:   5 * time.Minute,
	}
}

const usedTokenTTL = time.Hour

type Service struct {
	backend gateway
	cfg     Config
	now     func() time.Time
	logger  *log.Logger

	mu         sync.Mutex
	usedTokens map[string]time.Time
}

func New(g gateway, cfg Config, logger *log.Logger) *Service {
	def := DefaultConfig()
	if cfg.Gateway == "" {
		cfg.Gateway = def.Gateway
	}
	if cfg.ArtifactAttempts <= 0 {
		cfg.ArtifactAttempts = def.ArtifactAttempts
	}
	if cfg.ArtifactDelay < 0 {
		cfg.ArtifactDelay = def.ArtifactDelay
	}
	if cfg.FallbackExpiry <= 0 {
		cfg.FallbackExpiry = def.FallbackExpiry
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{
		backend:    g,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger,
		usedTokens: make(map[string]time.Time),
	}
}

// Create registers a pending Payment for the order.
func (s *Service) Create(ctx context.Context, orderID string, method domain.PaymentMethod, amountCents int64, installments int) (*domain.Payment, error) {
	if !method.Valid() {
		return nil, domain.NewValidationError("paymentMethod", "unsupported payment method")
	}
	if installments < 1 {
		installments = 1
	}
	p, err := s.backend.CreatePayment(ctx, backend.CreatePaymentRequest{
		OrderID:      orderID,
		Gateway:      s.cfg.Gateway,
		Method:       method,
		Installments: installments,
		AmountCents:  amountCents,
	})
	if err != nil {
		return nil, err
	}
	if p.OrderID == "" {
		p.OrderID = orderID
	}
	if p.Installments == 0 {
		p.Installments = installments
	}
	if p.AmountCents == 0 {
		p.AmountCents = amountCents
	}
	s.logger.Printf("payment: created payment=%s order=%s method=%s amount=%d", p.ID, orderID, method, amountCents)
	return p, nil
}

// InstantTransferArtifact asks the gateway for the QR data, retrying with a
// fixed delay until it shows up. A missing expiry gets the fallback window.
func (s *Service) InstantTransferArtifact(ctx context.Context, paymentID string) (*domain.InstantTransferArtifact, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.ArtifactAttempts; attempt++ {
		raw, err := s.backend.ProcessInstantTransfer(ctx, paymentID)
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case err != nil:
			lastErr = err
			s.logger.Printf("payment: artifact attempt=%d payment=%s err=%v", attempt, paymentID, err)
		case raw.QRImage != "" || raw.PayCode != "":
			art := &domain.InstantTransferArtifact{QRImage: raw.QRImage, PayCode: raw.PayCode}
			if raw.ExpiresAt != nil {
				art.ExpiresAt = *raw.ExpiresAt
			} else {
				art.ExpiresAt = s.now().Add(s.cfg.FallbackExpiry)
			}
			return art, nil
		}
		if attempt < s.cfg.ArtifactAttempts {
			if err := sleep(ctx, s.cfg.ArtifactDelay); err != nil {
				return nil, err
			}
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactUnavailable, lastErr)
	}
	return nil, domain.ErrArtifactUnavailable
}

// ProcessCard charges a tokenized card. A token is accepted once.
func (s *Service) ProcessCard(ctx context.Context, paymentID string, token domain.CardToken, installments int, methodID string) (*domain.CardResult, error) {
	if err := s.claimToken(token.ID); err != nil {
		return nil, err
	}
	if installments < 1 {
		installments = 1
	}
	res, err := s.backend.ProcessCard(ctx, paymentID, token.ID, installments, methodID)
	if err != nil {
		return nil, err
	}
	if res.Status == domain.StatusRejected || res.Status == domain.StatusCancelled {
		res.Reason = domain.ClassifyRejection(res.StatusDetail)
	}
	return res, nil
}

func (s *Service) IssueBankSlip(ctx context.Context, paymentID string) (*domain.BankSlip, error) {
	return s.backend.ProcessBankSlip(ctx, paymentID)
}

func (s *Service) Get(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return s.backend.GetPayment(ctx, paymentID)
}

func (s *Service) claimToken(id string) error {
	if id == "" {
		return &domain.TokenizationError{Reason: "missing card token"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for tok, at := range s.usedTokens {
		if now.Sub(at) > usedTokenTTL {
			delete(s.usedTokens, tok)
		}
	}
	if _, used := s.usedTokens[id]; used {
		return domain.ErrTokenReused
	}
	s.usedTokens[id] = now
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsRetryable reports whether a failed payment step may be repeated as is.
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrNetwork) || errors.Is(err, domain.ErrArtifactUnavailable)
}
