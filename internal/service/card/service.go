package card

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"storefront-checkout/internal/backend"
	"storefront-checkout/internal/domain"
)

type tokenizer interface {
	TokenizeCard(ctx context.Context, in backend.TokenizeRequest) (string, error)
}

// Input holds raw card fields. It is never persisted and its String form is masked.
type Input struct {
	Number          string `json:"number"`
	ExpiryMonth     int    `json:"expiryMonth"`
	ExpiryYear      int    `json:"expiryYear"`
	CVC             string `json:"cvc"`
	HolderName      string `json:"holderName"`
	HolderTaxID     string `json:"holderTaxId"`
	PaymentMethodID string `json:"paymentMethodId,omitempty"`
}

func (in Input) String() string {
	return fmt.Sprintf("card{%s exp=%02d/%d holder=%q}", Mask(in.Number), in.ExpiryMonth, in.ExpiryYear, in.HolderName)
}

func (in Input) GoString() string {
	return in.String()
}

// Mask keeps only the last four digits.
func Mask(number string) string {
	d := domain.DigitsOnly(number)
	if len(d) <= 4 {
		return "****"
	}
	return "**** " + d[len(d)-4:]
}

type Service struct {
	backend tokenizer
	now     func() time.Time
}

func New(t tokenizer) *Service {
	return &Service{backend: t, now: time.Now}
}

// Validate reports every invalid field at once.
func (s *Service) Validate(in Input) error {
	verr := &domain.ValidationError{}

	number := domain.DigitsOnly(in.Number)
	if len(number) < 13 || len(number) > 19 || !onlyDigitsAndSeparators(in.Number) {
		verr.Add("number", "card number must have 13 to 19 digits")
	}

	year := in.ExpiryYear
	if year >= 0 && year < 100 {
		year += 2000
	}
	now := s.now()
	switch {
	case in.ExpiryMonth < 1 || in.ExpiryMonth > 12:
		verr.Add("expiryMonth", "expiry month must be between 1 and 12")
	case year < now.Year() || (year == now.Year() && in.ExpiryMonth < int(now.Month())):
		verr.Add("expiryYear", "card is expired")
	}

	cvc := strings.TrimSpace(in.CVC)
	if len(cvc) < 3 || len(cvc) > 4 || domain.DigitsOnly(cvc) != cvc {
		verr.Add("cvc", "security code must have 3 or 4 digits")
	}
	if len([]rune(strings.TrimSpace(in.HolderName))) < 3 {
		verr.Add("holderName", "card holder name is required")
	}
	if len(domain.DigitsOnly(in.HolderTaxID)) != 11 {
		verr.Add("holderTaxId", "tax id must have 11 digits")
	}
	return verr.OrNil()
}

// Tokenize validates and exchanges the card fields for a single-use token.
func (s *Service) Tokenize(ctx context.Context, in Input) (*domain.CardToken, error) {
	if err := s.Validate(in); err != nil {
		return nil, err
	}
	year := in.ExpiryYear
	if year < 100 {
		year += 2000
	}
	id, err := s.backend.TokenizeCard(ctx, backend.TokenizeRequest{
		CardNumber:      domain.DigitsOnly(in.Number),
		ExpirationMonth: in.ExpiryMonth,
		ExpirationYear:  year,
		SecurityCode:    strings.TrimSpace(in.CVC),
		CardholderName:  strings.TrimSpace(in.HolderName),
		IdentityType:    "CPF",
		IdentityNumber:  domain.DigitsOnly(in.HolderTaxID),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var rl *domain.RateLimitedError
		if errors.As(err, &rl) {
			return nil, err
		}
		return nil, &domain.TokenizationError{Reason: backend.Message(err)}
	}
	if id == "" {
		return nil, &domain.TokenizationError{Reason: "empty token"}
	}
	return &domain.CardToken{ID: id}, nil
}

// MethodID returns the explicit gateway method id or the brand detected from the BIN.
func MethodID(in Input) string {
	if in.PaymentMethodID != "" {
		return in.PaymentMethodID
	}
	if b := DetectBrand(in.Number); b != BrandOther {
		return b
	}
	return ""
}

const (
	BrandVisa      = "visa"
	BrandMaster    = "master"
	BrandAmex      = "amex"
	BrandElo       = "elo"
	BrandHipercard = "hipercard"
	BrandOther     = "other"
)

type binRange struct {
	lo, hi int
}

var eloRanges = []binRange{
	{401178, 401179}, {431274, 431274}, {438935, 438935}, {451416, 451416},
	{457393, 457393}, {457631, 457632}, {504175, 504175}, {506699, 506778},
	{509000, 509999}, {627780, 627780}, {636297, 636297}, {636368, 636368},
	{650031, 650033}, {650035, 650051}, {650405, 650439}, {650485, 650538},
	{650541, 650598}, {650700, 650718}, {650720, 650727}, {650901, 650920},
	{651652, 651679}, {655000, 655019}, {655021, 655058},
}

// DetectBrand classifies a card number by its BIN.
func DetectBrand(number string) string {
	d := domain.DigitsOnly(number)
	if len(d) < 6 {
		return BrandOther
	}
	bin6, _ := strconv.Atoi(d[:6])
	for _, r := range eloRanges {
		if bin6 >= r.lo && bin6 <= r.hi {
			return BrandElo
		}
	}
	if strings.HasPrefix(d, "606282") || strings.HasPrefix(d, "3841") {
		return BrandHipercard
	}
	if strings.HasPrefix(d, "34") || strings.HasPrefix(d, "37") {
		return BrandAmex
	}
	bin2, _ := strconv.Atoi(d[:2])
	bin4, _ := strconv.Atoi(d[:4])
	if (bin2 >= 51 && bin2 <= 55) || (bin4 >= 2221 && bin4 <= 2720) {
		return BrandMaster
	}
	if d[0] == '4' {
		return BrandVisa
	}
	return BrandOther
}

func onlyDigitsAndSeparators(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != ' ' && r != '-' {
			return false
		}
	}
	return true
}
