package domain

const StorePickupServiceID = "store-pickup"

type ShippingOption struct {
	ServiceID     string `json:"serviceId"`
	DisplayName   string `json:"displayName"`
	PriceCents    int64  `json:"priceCents"`
	EstimatedDays int    `json:"estimatedDays"`
	Carrier       string `json:"carrier"`
}

// StorePickup is the synthetic option that is always offered.
func StorePickup() ShippingOption {
	return ShippingOption{
		ServiceID:     StorePickupServiceID,
		DisplayName:   "Retirar na loja",
		PriceCents:    0,
		EstimatedDays: 0,
		Carrier:       "store",
	}
}

func (o ShippingOption) IsStorePickup() bool {
	return o.ServiceID == StorePickupServiceID
}

// FindShippingOption returns the option with the given service id.
func FindShippingOption(options []ShippingOption, serviceID string) (ShippingOption, bool) {
	for _, o := range options {
		if o.ServiceID == serviceID {
			return o, true
		}
	}
	return ShippingOption{}, false
}

// AppliedCoupon is a discount validated against a specific subtotal.
type AppliedCoupon struct {
	Code            string `json:"code"`
	DiscountCents   int64  `json:"discountCents"`
	FinalTotalCents int64  `json:"finalTotalCents"`
	SubtotalCents   int64  `json:"subtotalCents"`
}

// NewAppliedCoupon clamps the discount into [0, subtotal] so the final total
// never goes negative.
func NewAppliedCoupon(code string, subtotal, discount int64) AppliedCoupon {
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	return AppliedCoupon{
		Code:            code,
		DiscountCents:   discount,
		FinalTotalCents: subtotal - discount,
		SubtotalCents:   subtotal,
	}
}

// StaleFor reports whether the coupon was validated against another subtotal.
func (c AppliedCoupon) StaleFor(subtotal int64) bool {
	return c.SubtotalCents != subtotal
}
