package checkout

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
	"storefront-checkout/internal/metrics"
	"storefront-checkout/internal/poller"
	"storefront-checkout/internal/service/address"
	cartsvc "storefront-checkout/internal/service/cart"
	"storefront-checkout/internal/service/shipping"

	"github.com/google/uuid"
)

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Addresses AddressResolver
	Shipping  ShippingResolver
	Coupons   CouponResolver
	Cards     CardTokenizer
	Orders    OrderCreator
	Payments  PaymentInitiator
	Cart      CartStore
	Handles   HandleStore
	Metrics   *metrics.Metrics
	Logger    *log.Logger
}

// Orchestrator drives one session's checkout. Its methods are safe for
// concurrent use and each returns the snapshot after the action.
type Orchestrator struct {
	sessionID string
	deps      Deps
	cfg       Config
	logger    *log.Logger
	now       func() time.Time
	newID     func() string

	// life bounds pollers; cancelled by Close.
	life   context.Context
	cancel context.CancelFunc

	loadOnce sync.Once
	loadErr  error

	// onSettled is invoked once, asynchronously, when the session reaches a
	// settled state.
	onSettled func(*Orchestrator)

	mu              sync.Mutex
	state           State
	cart            domain.Cart
	addresses       []domain.Address
	address         *domain.Address
	shippingOptions []domain.ShippingOption
	shipping        *domain.ShippingOption
	method          domain.PaymentMethod
	coupon          *domain.AppliedCoupon
	attemptID       string
	order           *domain.Order
	payment         *domain.Payment
	handle          *domain.PendingPaymentHandle
	artifact        *domain.InstantTransferArtifact
	bankSlip        *domain.BankSlip
	lastErr         error
	totalAdjusted   bool
	pollingStopped  bool
	submitting      bool
	closed          bool
	authToken       string
	task            *poller.Task
	pollGen         int
}

// New returns an idle orchestrator; call Load before using it.
func New(sessionID string, deps Deps, cfg Config) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	life, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		sessionID: sessionID,
		deps:      deps,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
		life:      life,
		cancel:    cancel,
		state:     StateIdle,
	}
}

// SessionID identifies the cart and payment handle in the session store.
func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

// Load restores the session: cart, default address with its shipping quote
// and, when a pending payment handle exists, the payment it points to. It
// never creates an Order or a Payment. Only the first call does work.
func (o *Orchestrator) Load(ctx context.Context) error {
	o.loadOnce.Do(func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.loadErr = o.load(ctx)
	})
	return o.loadErr
}

func (o *Orchestrator) load(ctx context.Context) error {
	o.rememberAuth(ctx)
	c, err := o.deps.Cart.Get(ctx, o.sessionID)
	if err != nil {
		return fmt.Errorf("load cart: %w", err)
	}
	o.cart = c

	if addrs, err := o.deps.Addresses.List(ctx); err != nil {
		o.logger.Printf("checkout: list addresses failed session=%s err=%v", o.sessionID, err)
		o.lastErr = err
	} else {
		o.addresses = addrs
		if def, ok := address.SelectDefault(addrs); ok {
			o.selectAddress(ctx, def)
		}
	}

	h, err := o.deps.Handles.LoadPendingPayment(ctx, o.sessionID)
	if err != nil {
		return fmt.Errorf("load pending payment: %w", err)
	}
	if h != nil {
		o.resume(ctx, *h)
	}
	return nil
}

// resume re-attaches to the payment a handle points to.
func (o *Orchestrator) resume(ctx context.Context, h domain.PendingPaymentHandle) {
	o.handle = &h
	o.method = h.Method
	p, err := o.deps.Payments.Get(ctx, h.PaymentID)
	if errors.Is(err, domain.ErrNotFound) {
		o.logger.Printf("checkout: pending payment vanished session=%s payment=%s", o.sessionID, h.PaymentID)
		o.clearHandle(ctx)
		return
	}
	if err != nil {
		o.logger.Printf("checkout: resume read failed session=%s payment=%s err=%v", o.sessionID, h.PaymentID, err)
		o.lastErr = err
		o.pollingStopped = true
		return
	}
	if p.Method == "" {
		p.Method = h.Method
	}
	o.payment = p
	o.order = &domain.Order{ID: p.OrderID, TotalCents: p.AmountCents, PaymentMethod: p.Method}
	o.setState(StatePaymentInitiated)

	if !p.Status.IsTerminal() && p.Method == domain.MethodInstantTransfer && !p.ExpiredAt(o.now()) {
		if p.QRImage != "" || p.PayCode != "" {
			o.artifact = &domain.InstantTransferArtifact{QRImage: p.QRImage, PayCode: p.PayCode}
			if p.ExpiresAt != nil {
				o.artifact.ExpiresAt = *p.ExpiresAt
			}
		} else if art, err := o.deps.Payments.InstantTransferArtifact(ctx, p.ID); err == nil {
			o.artifact = art
			if p.ExpiresAt == nil {
				exp := art.ExpiresAt
				p.ExpiresAt = &exp
			}
		} else {
			o.logger.Printf("checkout: artifact restore failed session=%s payment=%s err=%v", o.sessionID, p.ID, err)
		}
	}
	o.observe(ctx, p)
}

// observe applies a fresh payment read: settle, fail, expire or keep watching.
func (o *Orchestrator) observe(ctx context.Context, fresh *domain.Payment) {
	if o.payment == nil {
		o.payment = fresh
	} else if fresh != o.payment {
		o.payment.Merge(*fresh)
	}
	p := o.payment
	switch p.Status {
	case domain.StatusApproved:
		o.confirm(ctx)
		return
	case domain.StatusRejected, domain.StatusCancelled:
		o.fail(ctx, &domain.GatewayRejectedError{Reason: domain.ClassifyRejection(p.StatusDetail), Detail: p.StatusDetail})
		return
	}
	switch p.Method {
	case domain.MethodInstantTransfer:
		if p.ExpiredAt(o.now()) {
			o.expire(ctx)
			return
		}
		o.setState(StateInstantTransferAwaiting)
	case domain.MethodCard:
		o.setState(StateCardProcessing)
	default:
		o.setState(StateBankSlipIssued)
		o.clearHandle(ctx)
		o.settled()
		return
	}
	o.startPoller()
}

func (o *Orchestrator) confirm(ctx context.Context) {
	o.stopPoller()
	o.setState(StateConfirmed)
	o.artifact = nil
	o.pollingStopped = false
	o.lastErr = nil
	if err := o.deps.Cart.Clear(ctx, o.sessionID); err != nil {
		o.logger.Printf("checkout: clear cart failed session=%s err=%v", o.sessionID, err)
	}
	o.cart = domain.Cart{}
	o.clearHandle(ctx)
	o.settled()
}

func (o *Orchestrator) fail(ctx context.Context, err error) {
	o.stopPoller()
	o.setState(StateFailed)
	o.artifact = nil
	o.pollingStopped = false
	o.lastErr = err
	o.clearHandle(ctx)
}

func (o *Orchestrator) expire(ctx context.Context) {
	o.stopPoller()
	o.setState(StateExpired)
	o.artifact = nil
	o.pollingStopped = false
	o.lastErr = domain.ErrPaymentExpired
	o.clearHandle(ctx)
}

func (o *Orchestrator) settled() {
	if o.onSettled != nil {
		go o.onSettled(o)
	}
}

func (o *Orchestrator) setState(to State) {
	if o.state == to {
		return
	}
	o.logger.Printf("checkout: transition session=%s from=%s to=%s", o.sessionID, o.state, to)
	o.state = to
	o.deps.Metrics.Transition(string(to))
}

func (o *Orchestrator) saveHandle(ctx context.Context, p *domain.Payment) {
	h := domain.PendingPaymentHandle{PaymentID: p.ID, Method: p.Method, CreatedAt: o.now()}
	o.handle = &h
	if err := o.deps.Handles.SavePendingPayment(ctx, o.sessionID, h); err != nil {
		o.logger.Printf("checkout: save pending payment failed session=%s err=%v", o.sessionID, err)
	}
}

func (o *Orchestrator) clearHandle(ctx context.Context) {
	o.handle = nil
	if err := o.deps.Handles.ClearPendingPayment(ctx, o.sessionID); err != nil {
		o.logger.Printf("checkout: clear pending payment failed session=%s err=%v", o.sessionID, err)
	}
}

func (o *Orchestrator) rememberAuth(ctx context.Context) {
	if tok := backend.AuthToken(ctx); tok != "" {
		o.authToken = tok
	}
}

// guardEditable rejects edits while a payment is live or a submit runs.
func (o *Orchestrator) guardEditable() error {
	switch {
	case o.closed:
		return domain.ErrInvalidTransition
	case o.submitting:
		return domain.ErrAttemptInProgress
	case o.state.Awaiting():
		return domain.ErrPaymentActive
	case o.state.Settled():
		return domain.ErrInvalidTransition
	}
	return nil
}

// abandonAttempt drops the Order and Payment so the next submit starts a
// fresh checkout attempt.
func (o *Orchestrator) abandonAttempt(ctx context.Context) {
	o.stopPoller()
	if o.order != nil {
		o.logger.Printf("checkout: attempt abandoned session=%s attempt=%s order=%s", o.sessionID, o.attemptID, o.order.ID)
	}
	o.order = nil
	o.payment = nil
	o.artifact = nil
	o.bankSlip = nil
	o.attemptID = ""
	o.totalAdjusted = false
	o.pollingStopped = false
	if o.handle != nil {
		o.clearHandle(ctx)
	}
}

// baseState is the pre-order state implied by the current selections.
func (o *Orchestrator) baseState() State {
	switch {
	case o.address == nil:
		return StateIdle
	case o.shipping == nil:
		return StateAddressReady
	case o.method == "":
		return StateShippingReady
	default:
		return StateMethodSelected
	}
}

// result records err as the last error and returns the new read model.
func (o *Orchestrator) result(err error) (Snapshot, error) {
	o.lastErr = err
	return o.snapshot(), err
}

// AddToCart merges in into the cart and requotes shipping.
func (o *Orchestrator) AddToCart(ctx context.Context, in cartsvc.AddInput) (Snapshot, error) {
	return o.mutateCart(ctx, func() (domain.Cart, error) {
		return o.deps.Cart.Add(ctx, o.sessionID, in)
	})
}

// UpdateQuantity sets a line's quantity; zero removes it.
func (o *Orchestrator) UpdateQuantity(ctx context.Context, key domain.LineKey, quantity int) (Snapshot, error) {
	return o.mutateCart(ctx, func() (domain.Cart, error) {
		return o.deps.Cart.SetQuantity(ctx, o.sessionID, cartsvc.UpdateInput{Key: key, Quantity: quantity})
	})
}

// RemoveFromCart drops the line with key.
func (o *Orchestrator) RemoveFromCart(ctx context.Context, key domain.LineKey) (Snapshot, error) {
	return o.UpdateQuantity(ctx, key, 0)
}

func (o *Orchestrator) mutateCart(ctx context.Context, apply func() (domain.Cart, error)) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rememberAuth(ctx)
	if err := o.guardEditable(); err != nil {
		return o.result(err)
	}
	c, err := apply()
	if err != nil {
		return o.result(err)
	}
	o.cart = c
	if o.order != nil {
		o.abandonAttempt(ctx)
	}
	if o.address != nil {
		o.quote(ctx)
	}
	o.setState(o.baseState())
	return o.result(nil)
}

// SelectAddress picks one of the listed addresses and quotes shipping for it.
func (o *Orchestrator) SelectAddress(ctx context.Context, addressID string) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rememberAuth(ctx)
	if err := o.guardEditable(); err != nil {
		return o.result(err)
	}
	for _, a := range o.addresses {
		if a.ID == addressID {
			if o.order != nil {
				o.abandonAttempt(ctx)
			}
			o.selectAddress(ctx, a)
			o.setState(o.baseState())
			return o.result(nil)
		}
	}
	return o.result(fmt.Errorf("address %s: %w", addressID, domain.ErrNotFound))
}

// UseNewAddress validates and stores a new address, then selects it.
func (o *Orchestrator) UseNewAddress(ctx context.Context, in domain.Address) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rememberAuth(ctx)
	if err := o.guardEditable(); err != nil {
		return o.result(err)
	}
	created, err := o.deps.Addresses.Create(ctx, in)
	if err != nil {
		return o.result(err)
	}
	o.addresses = append(o.addresses, *created)
	if o.order != nil {
		o.abandonAttempt(ctx)
	}
	o.selectAddress(ctx, *created)
	o.setState(o.baseState())
	return o.result(nil)
}

func (o *Orchestrator) selectAddress(ctx context.Context, a domain.Address) {
	addr := a
	o.address = &addr
	o.setState(StateAddressReady)
	o.quote(ctx)
	if o.shipping != nil {
		o.setState(StateShippingReady)
	}
}

// quote refreshes shipping options, keeping the selection if still offered.
func (o *Orchestrator) quote(ctx context.Context) {
	options := o.deps.Shipping.Quote(ctx, shipping.QuoteInput{
		DestinationPostalCode: o.address.PostalCode,
		Items:                 o.cart.Lines,
	})
	o.shippingOptions = options
	if o.shipping != nil {
		if opt, ok := domain.FindShippingOption(options, o.shipping.ServiceID); ok {
			o.shipping = &opt
			return
		}
	}
	o.shipping = nil
	if opt, ok := shipping.DefaultOption(options); ok {
		o.shipping = &opt
	}
}

// LookupPostalCode auto-fills address fields. An unavailable lookup yields
// no result and no error.
func (o *Orchestrator) LookupPostalCode(ctx context.Context, code string) (*domain.PostalLookup, error) {
	res, err := o.deps.Addresses.ResolvePostalCode(ctx, code)
	if errors.Is(err, domain.ErrResolverUnavailable) {
		return nil, nil
	}
	return res, err
}

// SelectShipping picks one of the quoted options by service id.
func (o *Orchestrator) SelectShipping(ctx context.Context, serviceID string) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rememberAuth(ctx)
	if err := o.guardEditable(); err != nil {
		return o.result(err)
	}
	if o.address == nil {
		return o.result(domain.NewValidationError("address", "select an address first"))
	}
	opt, ok := domain.FindShippingOption(o.shippingOptions, serviceID)
	if !ok {
		return o.result(fmt.Errorf("shipping option %s: %w", serviceID, domain.ErrNotFound))
	}
	if o.order != nil && (o.shipping == nil || o.shipping.ServiceID != opt.ServiceID) {
		o.abandonAttempt(ctx)
	}
	o.shipping = &opt
	o.setState(o.baseState())
	return o.result(nil)
}

// SelectMethod is allowed once shipping is chosen. After a failed or expired
// payment the Order is kept, control returns to MethodSelected and the
// previous error stays visible until the next submit.
func (o *Orchestrator) SelectMethod(ctx context.Context, method domain.PaymentMethod) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rememberAuth(ctx)
	if err := o.guardEditable(); err != nil {
		return o.result(err)
	}
	if !method.Valid() {
		return o.result(domain.NewValidationError("paymentMethod", "unsupported payment method"))
	}
	if o.shipping == nil {
		return o.result(fmt.Errorf("select shipping first: %w", domain.ErrInvalidTransition))
	}
	prev := o.state
	o.method = method
	o.setState(StateMethodSelected)
	if prev == StateFailed || prev == StateExpired {
		return o.snapshot(), nil
	}
	return o.result(nil)
}

// ApplyCoupon validates code against the current subtotal.
func (o *Orchestrator) ApplyCoupon(ctx context.Context, code string) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rememberAuth(ctx)
	if err := o.guardEditable(); err != nil {
		return o.result(err)
	}
	if o.order != nil {
		return o.result(fmt.Errorf("order already created: %w", domain.ErrInvalidTransition))
	}
	if o.cart.IsEmpty() {
		return o.result(domain.NewValidationError("cart", "cart is empty"))
	}
	applied, err := o.deps.Coupons.Validate(ctx, code, o.cart.SubtotalCents())
	if err != nil {
		var rej *domain.CouponRejectedError
		if errors.As(err, &rej) {
			o.coupon = nil
		}
		return o.result(err)
	}
	o.coupon = applied
	return o.result(nil)
}

// RemoveCoupon clears the applied coupon. Not allowed once the order exists.
func (o *Orchestrator) RemoveCoupon(ctx context.Context) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rememberAuth(ctx)
	if err := o.guardEditable(); err != nil {
		return o.result(err)
	}
	if o.order != nil {
		return o.result(fmt.Errorf("order already created: %w", domain.ErrInvalidTransition))
	}
	o.coupon = nil
	return o.result(nil)
}

// AbandonPayment stops watching the current payment and drops the attempt;
// the next submit creates a new Order and Payment.
func (o *Orchestrator) AbandonPayment(ctx context.Context) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rememberAuth(ctx)
	switch {
	case o.closed || o.state.Settled():
		return o.result(domain.ErrInvalidTransition)
	case o.submitting:
		return o.result(domain.ErrAttemptInProgress)
	case o.payment == nil && o.order == nil:
		return o.result(fmt.Errorf("no payment to abandon: %w", domain.ErrInvalidTransition))
	}
	if o.payment != nil {
		o.logger.Printf("checkout: payment abandoned session=%s payment=%s", o.sessionID, o.payment.ID)
	}
	o.abandonAttempt(ctx)
	o.setState(o.baseState())
	return o.result(nil)
}

// CheckPaymentStatus reads the payment once and resumes polling when the
// ceiling stopped it before the payment settled or expired.
func (o *Orchestrator) CheckPaymentStatus(ctx context.Context) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rememberAuth(ctx)
	switch {
	case o.closed:
		return o.result(domain.ErrInvalidTransition)
	case o.submitting:
		return o.result(domain.ErrAttemptInProgress)
	}
	var paymentID string
	switch {
	case o.payment != nil:
		paymentID = o.payment.ID
	case o.handle != nil:
		paymentID = o.handle.PaymentID
	default:
		return o.result(fmt.Errorf("no payment: %w", domain.ErrInvalidTransition))
	}
	if o.payment != nil && o.payment.Status.IsTerminal() {
		return o.result(nil)
	}
	p, err := o.deps.Payments.Get(ctx, paymentID)
	if err != nil {
		return o.result(err)
	}
	if o.order == nil {
		o.order = &domain.Order{ID: p.OrderID, TotalCents: p.AmountCents, PaymentMethod: p.Method}
	}
	if p.Method == "" && o.handle != nil {
		p.Method = o.handle.Method
	}
	o.pollingStopped = false
	o.lastErr = nil
	o.stopPoller()
	o.observe(ctx, p)
	return o.result(nil)
}

// Close stops timers and pollers. The session state stays in the store.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	task := o.task
	o.stopPoller()
	o.mu.Unlock()
	o.cancel()
	task.Wait()
}

func (o *Orchestrator) startPoller() {
	if o.closed || o.payment == nil {
		return
	}
	o.stopPoller()

	method := o.payment.Method
	timeout := o.cfg.CardPollTimeout
	if method == domain.MethodInstantTransfer {
		timeout = o.cfg.InstantTransferPollTimeout
		if exp := o.payment.ExpiresAt; exp != nil {
			if untilExpiry := exp.Sub(o.now()) + time.Second; untilExpiry < timeout {
				timeout = untilExpiry
			}
		}
		if timeout <= 0 {
			timeout = time.Second
		}
	}

	o.pollGen++
	gen := o.pollGen
	paymentID := o.payment.ID
	ctx := backend.WithAuthToken(o.life, o.authToken)
	fetch := func(ctx context.Context) (*domain.Payment, error) {
		return o.deps.Payments.Get(ctx, paymentID)
	}
	o.pollingStopped = false
	o.task = poller.Start(ctx, poller.Config{
		Interval:               o.cfg.PollInterval,
		Timeout:                timeout,
		MaxConsecutiveFailures: o.cfg.PollMaxFailures,
		Metrics:                o.deps.Metrics,
	}, o.payment, fetch, func(res poller.Result) {
		o.pollDone(ctx, gen, method, res)
	})
}

func (o *Orchestrator) stopPoller() {
	if o.task != nil {
		o.task.Stop()
		o.task = nil
	}
	o.pollGen++
}

// pollDone runs on the poller goroutine. For a running instant transfer the
// deadline triggers one last read before deciding between expiry and a
// stopped poll. Expiry is only declared on a successful final read.
func (o *Orchestrator) pollDone(ctx context.Context, gen int, method domain.PaymentMethod, res poller.Result) {
	var (
		final    *domain.Payment
		finalErr error
	)
	if res.Reason == poller.ReasonDeadline && method == domain.MethodInstantTransfer && res.Payment != nil {
		final, finalErr = o.finalRead(ctx, res.Payment.ID)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || gen != o.pollGen || o.payment == nil {
		return
	}
	o.task = nil
	if res.Payment != nil {
		o.payment.Merge(*res.Payment)
	}
	if final != nil {
		o.payment.Merge(*final)
	}
	p := o.payment

	switch {
	case p.Status.IsTerminal():
		o.observe(ctx, p)
	case finalErr != nil:
		// the handle stays so a refresh or reload can still settle it
		o.pollingStopped = true
		o.lastErr = finalErr
		o.logger.Printf("checkout: expiry undecided session=%s payment=%s err=%v", o.sessionID, p.ID, finalErr)
	case method == domain.MethodInstantTransfer && p.ExpiredAt(o.now()):
		o.expire(ctx)
	default:
		o.pollingStopped = true
		if res.Err != nil {
			o.lastErr = res.Err
		}
		o.logger.Printf("checkout: polling stopped session=%s payment=%s reason=%s", o.sessionID, p.ID, res.Reason)
	}
}

const (
	finalReadAttempts = 3
	finalReadDelay    = 500 * time.Millisecond
)

// finalRead retries the post-deadline status read a few times.
func (o *Orchestrator) finalRead(ctx context.Context, paymentID string) (*domain.Payment, error) {
	var err error
	for i := 0; i < finalReadAttempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(finalReadDelay):
			}
		}
		var p *domain.Payment
		if p, err = o.deps.Payments.Get(ctx, paymentID); err == nil {
			return p, nil
		}
		o.logger.Printf("checkout: final status read failed session=%s payment=%s attempt=%d err=%v", o.sessionID, paymentID, i+1, err)
	}
	return nil, err
}
