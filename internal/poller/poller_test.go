package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"storefront-checkout/internal/domain"

	"github.com/stretchr/testify/require"
)

func sequence(statuses ...domain.PaymentStatus) (FetchFunc, *int32) {
	var calls int32
	return func(_ context.Context) (*domain.Payment, error) {
		n := int(atomic.AddInt32(&calls, 1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		return &domain.Payment{ID: "pay-1", Status: statuses[n]}, nil
	}, &calls
}

func wait(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatalf("poller did not finish")
		return Result{}
	}
}

func TestPollerStopsOnTerminal(t *testing.T) {
	fetch, calls := sequence(domain.StatusPending, domain.StatusInProcess, domain.StatusApproved, domain.StatusPending)
	results := make(chan Result, 1)
	task := Start(context.Background(), Config{Interval: 5 * time.Millisecond, Timeout: time.Second},
		&domain.Payment{ID: "pay-1", Status: domain.StatusPending}, fetch, func(r Result) { results <- r })

	res := wait(t, results)
	require.Equal(t, ReasonTerminal, res.Reason)
	require.Equal(t, domain.StatusApproved, res.Payment.Status)
	task.Wait()
	require.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestPollerDeadline(t *testing.T) {
	fetch, _ := sequence(domain.StatusPending)
	results := make(chan Result, 1)
	Start(context.Background(), Config{Interval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond},
		nil, fetch, func(r Result) { results <- r })

	res := wait(t, results)
	require.Equal(t, ReasonDeadline, res.Reason)
	require.NotNil(t, res.Payment)
	require.Equal(t, domain.StatusPending, res.Payment.Status)
}

func TestPollerSwallowsFailuresUntilLimit(t *testing.T) {
	var calls int32
	boom := errors.New("boom")
	fetch := func(_ context.Context) (*domain.Payment, error) {
		atomic.AddInt32(&calls, 1)
		return nil, boom
	}
	results := make(chan Result, 1)
	Start(context.Background(), Config{Interval: 2 * time.Millisecond, Timeout: time.Second, MaxConsecutiveFailures: 4},
		nil, fetch, func(r Result) { results <- r })

	res := wait(t, results)
	require.Equal(t, ReasonFailures, res.Reason)
	require.ErrorIs(t, res.Err, boom)
	require.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestPollerFailureStreakResets(t *testing.T) {
	var calls int32
	fetch := func(_ context.Context) (*domain.Payment, error) {
		n := atomic.AddInt32(&calls, 1)
		switch {
		case n == 6:
			return &domain.Payment{Status: domain.StatusRejected}, nil
		case n%2 == 1:
			return nil, errors.New("flaky")
		default:
			return &domain.Payment{Status: domain.StatusPending}, nil
		}
	}
	results := make(chan Result, 1)
	Start(context.Background(), Config{Interval: 2 * time.Millisecond, Timeout: time.Second, MaxConsecutiveFailures: 2},
		nil, fetch, func(r Result) { results <- r })

	res := wait(t, results)
	require.Equal(t, ReasonTerminal, res.Reason)
	require.Equal(t, domain.StatusRejected, res.Payment.Status)
}

func TestPollerNeverCallsBackAfterStop(t *testing.T) {
	fetch, _ := sequence(domain.StatusPending)
	var fired int32
	task := Start(context.Background(), Config{Interval: time.Millisecond, Timeout: 20 * time.Millisecond},
		nil, fetch, func(Result) { atomic.StoreInt32(&fired, 1) })

	task.Stop()
	task.Wait()
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&fired))

	select {
	case <-task.Done():
	default:
		t.Fatalf("done channel should be closed")
	}
}

func TestPollerKeepsTerminalStatus(t *testing.T) {
	fetch, _ := sequence(domain.StatusPending)
	results := make(chan Result, 1)
	initial := &domain.Payment{ID: "pay-1", Status: domain.StatusApproved}
	Start(context.Background(), Config{Interval: 2 * time.Millisecond, Timeout: time.Second},
		initial, fetch, func(r Result) { results <- r })

	res := wait(t, results)
	require.Equal(t, ReasonTerminal, res.Reason)
	require.Equal(t, domain.StatusApproved, res.Payment.Status)
}
