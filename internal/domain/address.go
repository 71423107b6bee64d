package domain

import (
	"strings"
	"unicode"
)

// Address is a delivery destination owned by the user account.
type Address struct {
	ID            string `json:"id,omitempty"`
	Street        string `json:"street"`
	Number        string `json:"number"`
	Complement    string `json:"complement,omitempty"`
	Neighborhood  string `json:"neighborhood"`
	City          string `json:"city"`
	State         string `json:"state"`
	PostalCode    string `json:"postalCode"`
	RecipientName string `json:"recipientName"`
	Phone         string `json:"phone"`
	IsDefault     bool   `json:"isDefault,omitempty"`
}

// PostalLookup is the auto-fill result for a postal code.
type PostalLookup struct {
	PostalCode   string `json:"postalCode"`
	Street       string `json:"street"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	State        string `json:"state"`
}

const PostalCodeDigits = 8

// NormalizePostalCode strips everything that is not a digit.
func NormalizePostalCode(code string) string {
	return digitsOnly(code)
}

func ValidPostalCode(code string) bool {
	return len(NormalizePostalCode(code)) == PostalCodeDigits
}

// Validate checks required fields and the postal code format.
func (a Address) Validate() error {
	verr := &ValidationError{}
	required := []struct {
		field string
		value string
	}{
		{"street", a.Street},
		{"number", a.Number},
		{"neighborhood", a.Neighborhood},
		{"city", a.City},
		{"state", a.State},
		{"postalCode", a.PostalCode},
		{"recipientName", a.RecipientName},
		{"phone", a.Phone},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			verr.Add(r.field, "required")
		}
	}
	if strings.TrimSpace(a.PostalCode) != "" && !ValidPostalCode(a.PostalCode) {
		verr.Add("postalCode", "must have 8 digits")
	}
	if st := strings.TrimSpace(a.State); st != "" && (len(st) != 2 || !isLetters(st)) {
		verr.Add("state", "must be a 2-letter code")
	}
	return verr.OrNil()
}

// Normalized trims fields, upper-cases the state and strips the postal code.
func (a Address) Normalized() Address {
	a.Street = strings.TrimSpace(a.Street)
	a.Number = strings.TrimSpace(a.Number)
	a.Complement = strings.TrimSpace(a.Complement)
	a.Neighborhood = strings.TrimSpace(a.Neighborhood)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.ToUpper(strings.TrimSpace(a.State))
	a.PostalCode = NormalizePostalCode(a.PostalCode)
	a.RecipientName = strings.TrimSpace(a.RecipientName)
	a.Phone = strings.TrimSpace(a.Phone)
	return a
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DigitsOnly is exported for tax id and card number normalization.
func DigitsOnly(s string) string {
	return digitsOnly(s)
}

func isLetters(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
