package checkout

import (
	"context"
	"errors"

	"storefront-checkout/internal/domain"
	"storefront-checkout/internal/service/card"
	"storefront-checkout/internal/service/order"
)

// SubmitInput carries the per-submit payment details. Card is required for
// card payments and never stored on the orchestrator.
type SubmitInput struct {
	Card         *card.Input `json:"card,omitempty"`
	Installments int         `json:"installments,omitempty"`
}

// attempt is the immutable view of one submit, captured under the lock.
type attempt struct {
	id           string
	method       domain.PaymentMethod
	card         *card.Input
	installments int
	order        *domain.Order
	create       order.CreateInput
	coupon       *domain.AppliedCoupon
	subtotal     int64
}

// Submit places the order (once per attempt) and starts the payment for the
// selected method. Only one submit runs at a time per session.
func (o *Orchestrator) Submit(ctx context.Context, in SubmitInput) (Snapshot, error) {
	o.mu.Lock()
	o.rememberAuth(ctx)
	plan, err := o.prepareSubmit(in)
	if err != nil {
		defer o.mu.Unlock()
		return o.result(err)
	}
	o.submitting = true
	o.lastErr = nil
	o.mu.Unlock()

	err = o.runSubmit(ctx, plan)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.submitting = false
	if err != nil {
		o.lastErr = err
		o.logger.Printf("checkout: submit failed session=%s attempt=%s state=%s err=%v", o.sessionID, plan.id, o.state, err)
	}
	return o.snapshot(), err
}

func (o *Orchestrator) prepareSubmit(in SubmitInput) (attempt, error) {
	switch {
	case o.closed:
		return attempt{}, domain.ErrInvalidTransition
	case o.submitting:
		return attempt{}, domain.ErrAttemptInProgress
	case o.state.Awaiting():
		return attempt{}, domain.ErrPaymentActive
	case o.state.Settled():
		return attempt{}, domain.ErrInvalidTransition
	}

	verr := &domain.ValidationError{}
	if o.order == nil && o.cart.IsEmpty() {
		verr.Add("cart", "cart is empty")
	}
	if o.address == nil {
		verr.Add("address", "required")
	}
	if o.shipping == nil {
		verr.Add("shipping", "required")
	}
	if o.method == "" {
		verr.Add("paymentMethod", "required")
	}
	if err := verr.OrNil(); err != nil {
		return attempt{}, err
	}

	installments := in.Installments
	if installments == 0 {
		installments = 1
	}
	var cardIn *card.Input
	if o.method == domain.MethodCard {
		if in.Card == nil {
			return attempt{}, domain.NewValidationError("card", "required")
		}
		if err := o.deps.Cards.Validate(*in.Card); err != nil {
			return attempt{}, err
		}
		if installments < 1 {
			return attempt{}, domain.NewValidationError("installments", "must be at least 1")
		}
		c := *in.Card
		cardIn = &c
	}

	if o.attemptID == "" {
		o.attemptID = o.newID()
	}
	plan := attempt{
		id:           o.attemptID,
		method:       o.method,
		card:         cardIn,
		installments: installments,
		order:        o.order,
		subtotal:     o.cart.SubtotalCents(),
	}
	if o.order == nil {
		plan.create = order.CreateInput{
			Items:             o.cart.Snapshot(),
			Address:           *o.address,
			AddressID:         o.address.ID,
			ShippingCostCents: o.shipping.PriceCents,
			ShippingMethod:    o.shipping.ServiceID,
			PaymentMethod:     o.method,
		}
		if o.coupon != nil {
			c := *o.coupon
			plan.coupon = &c
			plan.create.CouponCode = c.Code
		}
	}
	return plan, nil
}

func (o *Orchestrator) runSubmit(ctx context.Context, plan attempt) error {
	ord := plan.order
	if ord == nil {
		created, err := o.placeOrder(ctx, plan)
		if err != nil {
			return err
		}
		ord = created
	}

	var token *domain.CardToken
	if plan.method == domain.MethodCard {
		tok, err := o.deps.Cards.Tokenize(ctx, *plan.card)
		if err != nil {
			return err
		}
		token = tok
	}

	p, err := o.deps.Payments.Create(ctx, ord.ID, plan.method, ord.TotalCents, plan.installments)
	if err != nil {
		return err
	}
	if p.Method == "" {
		p.Method = plan.method
	}
	o.mu.Lock()
	o.payment = p
	o.artifact = nil
	o.bankSlip = nil
	o.setState(StatePaymentInitiated)
	o.mu.Unlock()

	switch plan.method {
	case domain.MethodInstantTransfer:
		return o.startInstantTransfer(ctx, p)
	case domain.MethodCard:
		return o.chargeCard(ctx, p, *token, plan)
	default:
		return o.issueBankSlip(ctx, p)
	}
}

// placeOrder re-validates a stale coupon and creates the Order for the attempt.
func (o *Orchestrator) placeOrder(ctx context.Context, plan attempt) (*domain.Order, error) {
	discount := int64(0)
	if c := plan.coupon; c != nil {
		discount = c.DiscountCents
		if c.StaleFor(plan.subtotal) {
			fresh, err := o.deps.Coupons.Validate(ctx, c.Code, plan.subtotal)
			if err != nil {
				var rej *domain.CouponRejectedError
				if errors.As(err, &rej) {
					o.mu.Lock()
					o.coupon = nil
					o.mu.Unlock()
				}
				return nil, err
			}
			o.mu.Lock()
			o.coupon = fresh
			o.mu.Unlock()
			discount = fresh.DiscountCents
		}
	}
	expected := plan.subtotal - discount + plan.create.ShippingCostCents

	created, err := o.deps.Orders.Create(ctx, plan.id, plan.create)
	if err != nil {
		return nil, err
	}
	ord := *created
	if ord.TotalCents == 0 {
		ord.TotalCents = expected
	}
	if ord.PaymentMethod == "" {
		ord.PaymentMethod = plan.method
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.order = &ord
	o.totalAdjusted = ord.TotalCents != expected
	if o.totalAdjusted {
		o.logger.Printf("checkout: order total adjusted session=%s order=%s local=%d order_total=%d", o.sessionID, ord.ID, expected, ord.TotalCents)
	}
	o.setState(StateOrderCreated)
	return &ord, nil
}

// startInstantTransfer persists the resume handle before waiting for the QR
// data. Without an artifact the payment is dropped and a new one may be
// created for the same Order.
func (o *Orchestrator) startInstantTransfer(ctx context.Context, p *domain.Payment) error {
	o.mu.Lock()
	o.saveHandle(ctx, p)
	o.mu.Unlock()

	art, err := o.deps.Payments.InstantTransferArtifact(ctx, p.ID)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.logger.Printf("checkout: artifact unavailable session=%s payment=%s err=%v", o.sessionID, p.ID, err)
		o.clearHandle(ctx)
		o.payment = nil
		return err
	}
	if o.payment != p {
		return nil
	}
	o.artifact = art
	if p.QRImage == "" {
		p.QRImage = art.QRImage
	}
	if p.PayCode == "" {
		p.PayCode = art.PayCode
	}
	if p.ExpiresAt == nil {
		exp := art.ExpiresAt
		p.ExpiresAt = &exp
	}
	o.observe(ctx, p)
	return nil
}

func (o *Orchestrator) chargeCard(ctx context.Context, p *domain.Payment, token domain.CardToken, plan attempt) error {
	res, err := o.deps.Payments.ProcessCard(ctx, p.ID, token, plan.installments, card.MethodID(*plan.card))

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		// The token is spent; the next submit tokenizes again for a new payment.
		o.payment = nil
		return err
	}
	if o.payment != p {
		return nil
	}
	p.Advance(res.Status, res.StatusDetail)
	switch p.Status {
	case domain.StatusApproved:
		o.confirm(ctx)
		return nil
	case domain.StatusRejected, domain.StatusCancelled:
		reason := res.Reason
		if reason == "" {
			reason = domain.ClassifyRejection(res.StatusDetail)
		}
		rej := &domain.GatewayRejectedError{Reason: reason, Detail: res.StatusDetail}
		o.fail(ctx, rej)
		return rej
	}
	o.saveHandle(ctx, p)
	o.observe(ctx, p)
	return nil
}

func (o *Orchestrator) issueBankSlip(ctx context.Context, p *domain.Payment) error {
	slip, err := o.deps.Payments.IssueBankSlip(ctx, p.ID)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.payment = nil
		return err
	}
	if o.payment != p {
		return nil
	}
	o.bankSlip = slip
	o.setState(StateBankSlipIssued)
	if err := o.deps.Cart.Clear(ctx, o.sessionID); err != nil {
		o.logger.Printf("checkout: clear cart failed session=%s err=%v", o.sessionID, err)
	}
	o.cart = domain.Cart{}
	o.settled()
	return nil
}
