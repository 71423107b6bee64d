// Package postal looks up Brazilian postal codes (CEP) on a ViaCEP-style API.
package postal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storefront-checkout/internal/domain"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const DefaultBaseURL = "https://viacep.com.br/ws"

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

type lookupBody struct {
	PostalCode   string          `json:"cep"`
	Street       string          `json:"logradouro"`
	Neighborhood string          `json:"bairro"`
	City         string          `json:"localidade"`
	State        string          `json:"uf"`
	Erro         json.RawMessage `json:"erro"`
}

func (b lookupBody) notFound() bool {
	v := strings.Trim(string(b.Erro), `" `)
	return v == "true"
}

// Lookup expects an already-normalized 8-digit code. Unknown codes return
// domain.ErrNotFound; transport and server failures wrap domain.ErrNetwork.
func (c *Client) Lookup(ctx context.Context, code string) (*domain.PostalLookup, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+code+"/json/", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: postal lookup: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("postal code %s: %w", code, domain.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: postal lookup returned %d", domain.ErrNetwork, resp.StatusCode)
	}

	var body lookupBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode postal lookup: %v", domain.ErrNetwork, err)
	}
	if body.notFound() {
		return nil, fmt.Errorf("postal code %s: %w", code, domain.ErrNotFound)
	}
	return &domain.PostalLookup{
		PostalCode:   domain.NormalizePostalCode(firstNonEmpty(body.PostalCode, code)),
		Street:       body.Street,
		Neighborhood: body.Neighborhood,
		City:         body.City,
		State:        strings.ToUpper(body.State),
	}, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
