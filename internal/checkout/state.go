// Package checkout drives one client session from cart to settled payment.
//
// Every action and every poller callback runs as a single transition under
// the orchestrator lock, so transitions are observed in a total order.
package checkout

import (
	"context"
	"time"

	"storefront-checkout/internal/domain"
	"storefront-checkout/internal/service/card"
	cartsvc "storefront-checkout/internal/service/cart"
	"storefront-checkout/internal/service/order"
	"storefront-checkout/internal/service/shipping"
)

// State is the checkout stage shown to the UI.
type State string

const (
	StateIdle                    State = "Idle"
	StateAddressReady            State = "AddressReady"
	StateShippingReady           State = "ShippingReady"
	StateMethodSelected          State = "MethodSelected"
	StateOrderCreated            State = "OrderCreated"
	StatePaymentInitiated        State = "PaymentInitiated"
	StateInstantTransferAwaiting State = "InstantTransferAwaiting"
	StateCardProcessing          State = "CardProcessing"
	StateBankSlipIssued          State = "BankSlipIssued"
	StateConfirmed               State = "Confirmed"
	StateFailed                  State = "Failed"
	StateExpired                 State = "Expired"
)

// Awaiting reports states in which a payment is live at the gateway and
// being watched.
func (s State) Awaiting() bool {
	return s == StateInstantTransferAwaiting || s == StateCardProcessing
}

// Settled reports states after which the session has nothing left to do.
func (s State) Settled() bool {
	return s == StateConfirmed || s == StateBankSlipIssued
}

type AddressResolver interface {
	List(ctx context.Context) ([]domain.Address, error)
	ResolvePostalCode(ctx context.Context, code string) (*domain.PostalLookup, error)
	Create(ctx context.Context, in domain.Address) (*domain.Address, error)
}

type ShippingResolver interface {
	Quote(ctx context.Context, in shipping.QuoteInput) []domain.ShippingOption
}

type CouponResolver interface {
	Validate(ctx context.Context, code string, subtotalCents int64) (*domain.AppliedCoupon, error)
}

type CardTokenizer interface {
	Validate(in card.Input) error
	Tokenize(ctx context.Context, in card.Input) (*domain.CardToken, error)
}

type OrderCreator interface {
	Create(ctx context.Context, attemptID string, in order.CreateInput) (*domain.Order, error)
}

type PaymentInitiator interface {
	Create(ctx context.Context, orderID string, method domain.PaymentMethod, amountCents int64, installments int) (*domain.Payment, error)
	InstantTransferArtifact(ctx context.Context, paymentID string) (*domain.InstantTransferArtifact, error)
	ProcessCard(ctx context.Context, paymentID string, token domain.CardToken, installments int, methodID string) (*domain.CardResult, error)
	IssueBankSlip(ctx context.Context, paymentID string) (*domain.BankSlip, error)
	Get(ctx context.Context, paymentID string) (*domain.Payment, error)
}

// CartStore persists the cart; the orchestrator is its only writer.
type CartStore interface {
	Get(ctx context.Context, sessionID string) (domain.Cart, error)
	Add(ctx context.Context, sessionID string, in cartsvc.AddInput) (domain.Cart, error)
	SetQuantity(ctx context.Context, sessionID string, in cartsvc.UpdateInput) (domain.Cart, error)
	Clear(ctx context.Context, sessionID string) error
}

type HandleStore interface {
	LoadPendingPayment(ctx context.Context, sessionID string) (*domain.PendingPaymentHandle, error)
	SavePendingPayment(ctx context.Context, sessionID string, h domain.PendingPaymentHandle) error
	ClearPendingPayment(ctx context.Context, sessionID string) error
}

// Config holds the polling ceilings.
type Config struct {
	PollInterval               time.Duration
	InstantTransferPollTimeout time.Duration
	CardPollTimeout            time.Duration
	PollMaxFailures            int
}

func DefaultConfig() Config {
	return Config{
		PollInterval:               5 * time.Second,
		InstantTransferPollTimeout: 5 * time.Minute,
		CardPollTimeout:            10 * time.Minute,
		PollMaxFailures:            12,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.InstantTransferPollTimeout <= 0 {
		c.InstantTransferPollTimeout = def.InstantTransferPollTimeout
	}
	if c.CardPollTimeout <= 0 {
		c.CardPollTimeout = def.CardPollTimeout
	}
	if c.PollMaxFailures <= 0 {
		c.PollMaxFailures = def.PollMaxFailures
	}
	return c
}
