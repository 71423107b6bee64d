package domain

import (
	"strings"
	"time"
)

type PaymentMethod string

const (
	MethodCard            PaymentMethod = "card"
	MethodInstantTransfer PaymentMethod = "instant-transfer"
	MethodBankSlip        PaymentMethod = "bank-slip"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCard, MethodInstantTransfer, MethodBankSlip:
		return true
	}
	return false
}

// ParsePaymentMethod accepts the canonical names plus the storefront aliases.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "card", "credit_card", "credit-card", "credit":
		return MethodCard, true
	case "instant-transfer", "instant_transfer", "pix":
		return MethodInstantTransfer, true
	case "bank-slip", "bank_slip", "boleto":
		return MethodBankSlip, true
	}
	return "", false
}

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusInProcess PaymentStatus = "in_process"
	StatusApproved  PaymentStatus = "approved"
	StatusRejected  PaymentStatus = "rejected"
	StatusCancelled PaymentStatus = "cancelled"
)

func (s PaymentStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

func (s PaymentStatus) String() string {
	return string(s)
}

// ParsePaymentStatus normalizes gateway status strings. Unknown values are
// treated as pending so they never end a payment on their own.
func ParsePaymentStatus(s string) PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved", "authorized", "paid":
		return StatusApproved
	case "in_process", "in-process", "in_mediation":
		return StatusInProcess
	case "rejected", "declined":
		return StatusRejected
	case "cancelled", "canceled", "refunded", "charged_back":
		return StatusCancelled
	default:
		return StatusPending
	}
}

// Payment is one gateway attempt for an Order.
type Payment struct {
	ID               string        `json:"id"`
	OrderID          string        `json:"orderId"`
	Method           PaymentMethod `json:"method"`
	AmountCents      int64         `json:"amountCents"`
	Installments     int           `json:"installments"`
	Status           PaymentStatus `json:"status"`
	StatusDetail     string        `json:"statusDetail,omitempty"`
	GatewayReference string        `json:"gatewayReference,omitempty"`
	ExpiresAt        *time.Time    `json:"expiresAt,omitempty"`
	QRImage          string        `json:"-"`
	PayCode          string        `json:"-"`
}

// Advance applies an observed status. Terminal statuses never change;
// it reports whether the status changed.
func (p *Payment) Advance(next PaymentStatus, detail string) bool {
	if p.Status.IsTerminal() || p.Status == next {
		return false
	}
	p.Status = next
	if detail != "" {
		p.StatusDetail = detail
	}
	return true
}

// Merge folds a freshly fetched record into p, honoring status monotonicity.
func (p *Payment) Merge(fresh Payment) {
	p.Advance(fresh.Status, fresh.StatusDetail)
	if fresh.GatewayReference != "" {
		p.GatewayReference = fresh.GatewayReference
	}
	if fresh.ExpiresAt != nil {
		t := *fresh.ExpiresAt
		p.ExpiresAt = &t
	}
	if fresh.QRImage != "" {
		p.QRImage = fresh.QRImage
	}
	if fresh.PayCode != "" {
		p.PayCode = fresh.PayCode
	}
}

// ExpiredAt reports whether an instant-transfer deadline has passed.
func (p Payment) ExpiredAt(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// InstantTransferArtifact is what the payer scans or copies.
type InstantTransferArtifact struct {
	QRImage   string    `json:"qrImage,omitempty"`
	PayCode   string    `json:"payCode,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (a InstantTransferArtifact) Present() bool {
	return a.QRImage != "" || a.PayCode != ""
}

// BankSlip is the issued offline payment document.
type BankSlip struct {
	Reference   string     `json:"reference"`
	BarCode     string     `json:"barCode,omitempty"`
	DocumentURL string     `json:"documentUrl,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

// CardResult is the synchronous outcome of processing a card payment.
type CardResult struct {
	Status       PaymentStatus   `json:"status"`
	StatusDetail string          `json:"statusDetail,omitempty"`
	Reason       RejectionReason `json:"reason,omitempty"`
}

// CardToken references tokenized card data. It is valid for one payment.
type CardToken struct {
	ID string
}

// ClassifyRejection maps gateway status details to a reason bucket.
func ClassifyRejection(detail string) RejectionReason {
	d := strings.ToLower(strings.TrimSpace(detail))
	switch {
	case d == "":
		return RejectOther
	case strings.Contains(d, "insufficient"):
		return RejectInsufficientFunds
	case strings.Contains(d, "card_number"), strings.Contains(d, "invalid_number"), strings.Contains(d, "invalid-number"):
		return RejectInvalidNumber
	case strings.Contains(d, "bad_filled_date"), strings.Contains(d, "expir"):
		return RejectInvalidExpiry
	case strings.Contains(d, "security_code"), strings.Contains(d, "cvc"), strings.Contains(d, "cvv"):
		return RejectInvalidCVC
	case strings.Contains(d, "high_risk"), strings.Contains(d, "high-risk"), strings.Contains(d, "blacklist"):
		return RejectHighRisk
	default:
		return RejectOther
	}
}
