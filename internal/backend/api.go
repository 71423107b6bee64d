package backend

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storefront-checkout/internal/domain"
	"storefront-checkout/internal/money"
)

type addressList struct {
	Addresses []domain.Address `json:"addresses"`
}

type addressEnvelope struct {
	Address domain.Address `json:"address"`
}

func (c *Client) ListAddresses(ctx context.Context) ([]domain.Address, error) {
	var out addressList
	if err := c.do(ctx, http.MethodGet, "/addresses", nil, &out); err != nil {
		return nil, err
	}
	return out.Addresses, nil
}

func (c *Client) CreateAddress(ctx context.Context, a domain.Address) (*domain.Address, error) {
	var out addressEnvelope
	if err := c.do(ctx, http.MethodPost, "/addresses", a, &out); err != nil {
		return nil, err
	}
	return &out.Address, nil
}

// Dimensions are package measures in centimeters.
type Dimensions struct {
	Length int `json:"length"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type QuoteItem struct {
	ProductID string       `json:"productId"`
	Quantity  int          `json:"quantity"`
	UnitPrice money.Amount `json:"unitPrice"`
}

type QuoteRequest struct {
	DestinationPostalCode string       `json:"destinationPostalCode"`
	Weight                float64      `json:"weight"`
	Dimensions            Dimensions   `json:"dimensions"`
	Value                 money.Amount `json:"value"`
	Items                 []QuoteItem  `json:"items"`
}

type quoteOption struct {
	ServiceID     string       `json:"serviceId"`
	DisplayName   string       `json:"displayName"`
	Name          string       `json:"name"`
	Price         money.Amount `json:"price"`
	EstimatedDays int          `json:"estimatedDays"`
	Carrier       string       `json:"carrier"`
	Error         string       `json:"error"`
}

type quoteResponse struct {
	Options []quoteOption `json:"options"`
}

// QuoteShipping returns the carrier options. Options flagged with an error by
// the carrier are dropped.
func (c *Client) QuoteShipping(ctx context.Context, in QuoteRequest) ([]domain.ShippingOption, error) {
	var out quoteResponse
	if err := c.do(ctx, http.MethodPost, "/shipping/quote", in, &out); err != nil {
		return nil, err
	}
	options := make([]domain.ShippingOption, 0, len(out.Options))
	for _, o := range out.Options {
		if o.Error != "" {
			continue
		}
		name := o.DisplayName
		if name == "" {
			name = o.Name
		}
		options = append(options, domain.ShippingOption{
			ServiceID:     o.ServiceID,
			DisplayName:   name,
			PriceCents:    o.Price.Cents(),
			EstimatedDays: o.EstimatedDays,
			Carrier:       o.Carrier,
		})
	}
	return options, nil
}

type couponRequest struct {
	Code     string       `json:"code"`
	Subtotal money.Amount `json:"subtotal"`
}

// CouponResult is the backend verdict on a coupon.
type CouponResult struct {
	Valid          bool          `json:"valid"`
	DiscountAmount *money.Amount `json:"discountAmount,omitempty"`
	FinalTotal     *money.Amount `json:"finalTotal,omitempty"`
	Error          string        `json:"error,omitempty"`
	Reason         string        `json:"reason,omitempty"`
}

func (c *Client) ValidateCoupon(ctx context.Context, code string, subtotalCents int64) (*CouponResult, error) {
	var out CouponResult
	err := c.do(ctx, http.MethodPost, "/coupons/validate", couponRequest{Code: code, Subtotal: money.Amount(subtotalCents)}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type orderItem struct {
	ProductID string       `json:"productId"`
	VariantID *string      `json:"variantId,omitempty"`
	Name      string       `json:"name,omitempty"`
	Quantity  int          `json:"quantity"`
	UnitPrice money.Amount `json:"unitPrice"`
	Size      string       `json:"size,omitempty"`
	Color     string       `json:"color,omitempty"`
}

// CreateOrderRequest is the body of POST /orders.
type CreateOrderRequest struct {
	Items             []domain.CartLine
	ShippingAddress   domain.Address
	ShippingAddressID string
	ShippingCostCents int64
	ShippingMethod    string
	PaymentMethod     domain.PaymentMethod
	CouponCode        string
}

type createOrderBody struct {
	Items             []orderItem    `json:"items"`
	ShippingAddress   domain.Address `json:"shippingAddress"`
	ShippingAddressID string         `json:"shippingAddressId,omitempty"`
	ShippingCost      money.Amount   `json:"shippingCost"`
	ShippingMethod    string         `json:"shippingMethod"`
	PaymentMethod     string         `json:"paymentMethod"`
	CouponCode        string         `json:"couponCode,omitempty"`
}

type orderBody struct {
	ID                string         `json:"id"`
	Items             []orderItem    `json:"items"`
	ShippingAddress   domain.Address `json:"shippingAddress"`
	ShippingAddressID string         `json:"shippingAddressId"`
	ShippingCost      money.Amount   `json:"shippingCost"`
	ShippingMethod    string         `json:"shippingMethod"`
	PaymentMethod     string         `json:"paymentMethod"`
	CouponCode        string         `json:"couponCode"`
	Total             money.Amount   `json:"total"`
	CreatedAt         time.Time      `json:"createdAt"`
}

// CreateOrder is not idempotent on its own; callers pass an attempt key via
// WithIdempotencyKey and guard repeated calls.
func (c *Client) CreateOrder(ctx context.Context, in CreateOrderRequest) (*domain.Order, error) {
	body := createOrderBody{
		ShippingAddress:   in.ShippingAddress,
		ShippingAddressID: in.ShippingAddressID,
		ShippingCost:      money.Amount(in.ShippingCostCents),
		ShippingMethod:    in.ShippingMethod,
		PaymentMethod:     string(in.PaymentMethod),
		CouponCode:        in.CouponCode,
	}
	for _, l := range in.Items {
		body.Items = append(body.Items, orderItem{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: money.Amount(l.UnitPriceCents),
			Size:      l.Size,
			Color:     l.Color,
		})
	}
	var out orderBody
	if err := c.do(ctx, http.MethodPost, "/orders", body, &out); err != nil {
		return nil, err
	}
	order := &domain.Order{
		ID:                out.ID,
		ShippingAddress:   out.ShippingAddress,
		ShippingAddressID: out.ShippingAddressID,
		ShippingCostCents: out.ShippingCost.Cents(),
		ShippingMethod:    out.ShippingMethod,
		CouponCode:        out.CouponCode,
		TotalCents:        out.Total.Cents(),
		CreatedAt:         out.CreatedAt,
	}
	if m, ok := domain.ParsePaymentMethod(out.PaymentMethod); ok {
		order.PaymentMethod = m
	}
	for _, it := range out.Items {
		order.Items = append(order.Items, domain.CartLine{
			ProductID:      it.ProductID,
			VariantID:      it.VariantID,
			Name:           it.Name,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPrice.Cents(),
			Size:           it.Size,
			Color:          it.Color,
		})
	}
	return order, nil
}

type createPaymentBody struct {
	OrderID       string       `json:"orderId"`
	Gateway       string       `json:"gateway"`
	PaymentMethod string       `json:"paymentMethod"`
	Installments  int          `json:"installments"`
	Amount        money.Amount `json:"amount"`
}

type paymentBody struct {
	ID               string       `json:"id"`
	OrderID          string       `json:"orderId"`
	PaymentMethod    string       `json:"paymentMethod"`
	Amount           money.Amount `json:"amount"`
	Installments     int          `json:"installments"`
	Status           string       `json:"status"`
	StatusDetail     string       `json:"statusDetail"`
	GatewayReference string       `json:"gatewayReference"`
	GatewayPaymentID string       `json:"gatewayPaymentId"`
	ExpiresAt        *time.Time   `json:"expiresAt"`
	QRImage          string       `json:"qrImage"`
	QRCodeBase64     string       `json:"qrCodeBase64"`
	PayCode          string       `json:"payCode"`
	QRCode           string       `json:"qrCode"`
}

func (b paymentBody) toDomain() *domain.Payment {
	p := &domain.Payment{
		ID:               b.ID,
		OrderID:          b.OrderID,
		AmountCents:      b.Amount.Cents(),
		Installments:     b.Installments,
		Status:           domain.ParsePaymentStatus(b.Status),
		StatusDetail:     b.StatusDetail,
		GatewayReference: firstNonEmpty(b.GatewayReference, b.GatewayPaymentID),
		ExpiresAt:        b.ExpiresAt,
		QRImage:          firstNonEmpty(b.QRImage, b.QRCodeBase64),
		PayCode:          firstNonEmpty(b.PayCode, b.QRCode),
	}
	if m, ok := domain.ParsePaymentMethod(b.PaymentMethod); ok {
		p.Method = m
	}
	return p
}

// CreatePaymentRequest is the body of POST /payments.
type CreatePaymentRequest struct {
	OrderID      string
	Gateway      string
	Method       domain.PaymentMethod
	Installments int
	AmountCents  int64
}

func (c *Client) CreatePayment(ctx context.Context, in CreatePaymentRequest) (*domain.Payment, error) {
	body := createPaymentBody{
		OrderID:       in.OrderID,
		Gateway:       in.Gateway,
		PaymentMethod: string(in.Method),
		Installments:  in.Installments,
		Amount:        money.Amount(in.AmountCents),
	}
	var out paymentBody
	if err := c.do(ctx, http.MethodPost, "/payments", body, &out); err != nil {
		return nil, err
	}
	p := out.toDomain()
	if p.Method == "" {
		p.Method = in.Method
	}
	return p, nil
}

func (c *Client) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	var out paymentBody
	if err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, &out); err != nil {
		return nil, err
	}
	return out.toDomain(), nil
}

type instantTransferBody struct {
	QRImage      string     `json:"qrImage"`
	QRCodeBase64 string     `json:"qrCodeBase64"`
	PayCode      string     `json:"payCode"`
	QRCode       string     `json:"qrCode"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

// InstantTransferArtifact is the raw answer of process-instant-transfer;
// ExpiresAt is nil when the gateway did not send one.
type InstantTransferArtifact struct {
	QRImage   string
	PayCode   string
	ExpiresAt *time.Time
}

func (c *Client) ProcessInstantTransfer(ctx context.Context, paymentID string) (*InstantTransferArtifact, error) {
	var out instantTransferBody
	path := "/payments/" + url.PathEscape(paymentID) + "/process-instant-transfer"
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &InstantTransferArtifact{
		QRImage:   firstNonEmpty(out.QRImage, out.QRCodeBase64),
		PayCode:   firstNonEmpty(out.PayCode, out.QRCode),
		ExpiresAt: out.ExpiresAt,
	}, nil
}

type processCardBody struct {
	Token           string `json:"token"`
	Installments    int    `json:"installments"`
	PaymentMethodID string `json:"paymentMethodId"`
}

type processCardResponse struct {
	Status       string `json:"status"`
	StatusDetail string `json:"statusDetail"`
}

func (c *Client) ProcessCard(ctx context.Context, paymentID, token string, installments int, methodID string) (*domain.CardResult, error) {
	var out processCardResponse
	path := "/payments/" + url.PathEscape(paymentID) + "/process-card"
	body := processCardBody{Token: token, Installments: installments, PaymentMethodID: methodID}
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &domain.CardResult{
		Status:       domain.ParsePaymentStatus(out.Status),
		StatusDetail: out.StatusDetail,
	}, nil
}

type bankSlipBody struct {
	Reference   string     `json:"reference"`
	BarCode     string     `json:"barcode"`
	DocumentURL string     `json:"documentUrl"`
	DueDate     *time.Time `json:"dueDate"`
}

func (c *Client) ProcessBankSlip(ctx context.Context, paymentID string) (*domain.BankSlip, error) {
	var out bankSlipBody
	path := "/payments/" + url.PathEscape(paymentID) + "/process-bank-slip"
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &domain.BankSlip{
		Reference:   out.Reference,
		BarCode:     out.BarCode,
		DocumentURL: out.DocumentURL,
		DueDate:     out.DueDate,
	}, nil
}

// TokenizeRequest carries raw card fields for the tokenizer endpoint only.
type TokenizeRequest struct {
	CardNumber      string `json:"cardNumber"`
	ExpirationMonth int    `json:"expirationMonth"`
	ExpirationYear  int    `json:"expirationYear"`
	SecurityCode    string `json:"securityCode"`
	CardholderName  string `json:"cardholderName"`
	IdentityType    string `json:"identificationType"`
	IdentityNumber  string `json:"identificationNumber"`
}

type tokenizeResponse struct {
	ID string `json:"id"`
}

func (c *Client) TokenizeCard(ctx context.Context, in TokenizeRequest) (string, error) {
	var out tokenizeResponse
	if err := c.do(ctx, http.MethodPost, "/payments/tokenize-card", in, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.ID), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
