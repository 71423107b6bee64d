package domain

import "strings"

// CartLine is one intended purchase held in the client session.
type CartLine struct {
	ProductID      string  `json:"productId"`
	VariantID      *string `json:"variantId,omitempty"`
	Name           string  `json:"name,omitempty"`
	Quantity       int     `json:"quantity"`
	UnitPriceCents int64   `json:"unitPriceCents"`
	Size           string  `json:"size,omitempty"`
	Color          string  `json:"color,omitempty"`
}

// LineKey identifies a cart line for merging: same product, size and color.
type LineKey struct {
	ProductID string `json:"productId"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
}

func (l CartLine) Key() LineKey {
	return LineKey{
		ProductID: strings.TrimSpace(l.ProductID),
		Size:      strings.TrimSpace(l.Size),
		Color:     strings.TrimSpace(l.Color),
	}
}

func (l CartLine) TotalCents() int64 {
	return l.UnitPriceCents * int64(l.Quantity)
}

// Cart is the client-held working set. The zero value is an empty cart.
type Cart struct {
	Lines []CartLine `json:"lines"`
}

// Add appends a line or merges its quantity into an existing line with the same key.
func (c *Cart) Add(line CartLine) error {
	if strings.TrimSpace(line.ProductID) == "" {
		return NewValidationError("productId", "required")
	}
	if line.Quantity <= 0 {
		return NewValidationError("quantity", "must be positive")
	}
	if line.UnitPriceCents < 0 {
		return NewValidationError("unitPrice", "must not be negative")
	}
	key := line.Key()
	for i := range c.Lines {
		if c.Lines[i].Key() == key {
			c.Lines[i].Quantity += line.Quantity
			return nil
		}
	}
	line.ProductID = key.ProductID
	line.Size = key.Size
	line.Color = key.Color
	c.Lines = append(c.Lines, line)
	return nil
}

// SetQuantity changes the quantity of the line with the given key.
// A quantity of zero or less removes the line.
func (c *Cart) SetQuantity(key LineKey, quantity int) error {
	for i := range c.Lines {
		if c.Lines[i].Key() != key {
			continue
		}
		if quantity <= 0 {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			return nil
		}
		c.Lines[i].Quantity = quantity
		return nil
	}
	return ErrNotFound
}

func (c *Cart) Remove(key LineKey) error {
	return c.SetQuantity(key, 0)
}

func (c *Cart) Clear() {
	c.Lines = nil
}

func (c Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

func (c Cart) SubtotalCents() int64 {
	var total int64
	for _, l := range c.Lines {
		total += l.TotalCents()
	}
	return total
}

func (c Cart) TotalQuantity() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

// Snapshot returns a deep copy suitable for embedding in an Order.
func (c Cart) Snapshot() []CartLine {
	out := make([]CartLine, 0, len(c.Lines))
	for _, l := range c.Lines {
		if l.VariantID != nil {
			v := *l.VariantID
			l.VariantID = &v
		}
		out = append(out, l)
	}
	return out
}

// Normalize merges duplicate keys and drops non-positive lines. Used when a
// cart comes back from storage or an import file.
func (c *Cart) Normalize() {
	lines := c.Lines
	c.Lines = nil
	for _, l := range lines {
		if l.Quantity <= 0 || strings.TrimSpace(l.ProductID) == "" {
			continue
		}
		_ = c.Add(l)
	}
}
