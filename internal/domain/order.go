package domain

import "time"

// Order is a committed purchase. Items and ShippingAddress are snapshots and
// stay interpretable after the cart, product or address change.
type Order struct {
	ID                string        `json:"id"`
	Items             []CartLine    `json:"items"`
	ShippingAddress   Address       `json:"shippingAddress"`
	ShippingAddressID string        `json:"shippingAddressId,omitempty"`
	ShippingCostCents int64         `json:"shippingCostCents"`
	ShippingMethod    string        `json:"shippingMethod"`
	PaymentMethod     PaymentMethod `json:"paymentMethod"`
	CouponCode        string        `json:"couponCode,omitempty"`
	TotalCents        int64         `json:"totalCents"`
	CreatedAt         time.Time     `json:"createdAt"`
}

// PendingPaymentHandle is the client-local resume pointer for an in-flight payment.
type PendingPaymentHandle struct {
	PaymentID string        `json:"paymentId"`
	Method    PaymentMethod `json:"method"`
	CreatedAt time.Time     `json:"createdAt"`
}
