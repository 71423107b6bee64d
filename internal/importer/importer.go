package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"storefront-checkout/internal/domain"
	"storefront-checkout/internal/money"
	cartsvc "storefront-checkout/internal/service/cart"
)

type CartWriter interface {
	Import(ctx context.Context, sessionID string, lines []cartsvc.AddInput) (domain.Cart, error)
}

// CSVImporter loads cart lines from a CSV file with the header
// productId,variantId,quantity,unitPrice,size,color,name into one session.
type CSVImporter struct {
	reader    *csv.Reader
	carts     CartWriter
	sessionID string
}

func NewCSVImporter(r io.Reader, carts CartWriter, sessionID string) *CSVImporter {
	csvr := csv.NewReader(r)
	csvr.FieldsPerRecord = -1 // rows may have trailing commas
	csvr.TrimLeadingSpace = true
	return &CSVImporter{
		reader:    csvr,
		carts:     carts,
		sessionID: sessionID,
	}
}

// Result summarizes an import.
type Result struct {
	Rows  int
	Cart  domain.Cart
	Lines int
}

// Run parses every row and imports them as one batch, so a bad row leaves
// the stored cart untouched. Duplicate lines merge with the cart rules.
func (i *CSVImporter) Run(ctx context.Context) (Result, error) {
	headers, err := i.reader.Read()
	if err != nil {
		return Result{}, fmt.Errorf("read headers: %w", err)
	}
	index := headerIndex(headers)
	if _, ok := index["productid"]; !ok {
		return Result{}, errors.New("missing productId column")
	}

	var lines []cartsvc.AddInput
	for row := 2; ; row++ {
		record, err := i.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("read row %d: %w", row, err)
		}
		in, ok, err := parseRow(record, index)
		if err != nil {
			return Result{}, fmt.Errorf("row %d: %w", row, err)
		}
		if ok {
			lines = append(lines, in)
		}
	}
	if len(lines) == 0 {
		return Result{}, errors.New("no cart lines found")
	}

	cart, err := i.carts.Import(ctx, i.sessionID, lines)
	if err != nil {
		return Result{}, fmt.Errorf("import cart %s: %w", i.sessionID, err)
	}
	return Result{Rows: len(lines), Cart: cart, Lines: len(cart.Lines)}, nil
}

func headerIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	return idx
}

// parseRow skips blank rows.
func parseRow(record []string, index map[string]int) (cartsvc.AddInput, bool, error) {
	productID := pick(record, index, "productid")
	if productID == "" {
		for _, v := range record {
			if strings.TrimSpace(v) != "" {
				return cartsvc.AddInput{}, false, errors.New("productId is required")
			}
		}
		return cartsvc.AddInput{}, false, nil
	}

	in := cartsvc.AddInput{
		ProductID: productID,
		Name:      pick(record, index, "name"),
		Size:      pick(record, index, "size"),
		Color:     pick(record, index, "color"),
		Quantity:  1,
	}
	if v := pick(record, index, "variantid"); v != "" {
		in.VariantID = &v
	}
	if q := pick(record, index, "quantity"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			return cartsvc.AddInput{}, false, fmt.Errorf("invalid quantity %q", q)
		}
		in.Quantity = n
	}
	if p := pick(record, index, "unitprice"); p != "" {
		amount, err := money.Parse(p)
		if err != nil {
			return cartsvc.AddInput{}, false, fmt.Errorf("invalid unitPrice %q", p)
		}
		in.UnitPriceCents = amount.Cents()
	}
	return in, true, nil
}

func pick(record []string, index map[string]int, key string) string {
	pos, ok := index[key]
	if !ok || pos >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[pos])
}
