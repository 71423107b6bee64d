package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.Transition("Confirmed")
	m.Poll("ok")
	m.ResolverFallback("shipping")
	m.SessionOpened()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	out := string(body)
	require.True(t, strings.Contains(out, `checkout_transitions_total{to="Confirmed"} 1`), out)
	require.True(t, strings.Contains(out, `checkout_resolver_fallbacks_total{resolver="shipping"} 1`), out)
	require.True(t, strings.Contains(out, `checkout_active_sessions 1`), out)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Transition("Idle")
	m.Poll("error")
	m.ResolverFallback("postal")
	m.SessionClosed()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
}
