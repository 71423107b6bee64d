// Package poller watches a payment until it settles, a deadline passes or
// the status source keeps failing.
package poller

import (
	"context"
	"sync"
	"time"

	"storefront-checkout/internal/domain"
	"storefront-checkout/internal/metrics"
)

type Reason string

const (
	ReasonTerminal Reason = "terminal"
	ReasonDeadline Reason = "deadline"
	ReasonFailures Reason = "failures"
)

type Result struct {
	Payment *domain.Payment
	Reason  Reason
	Err     error
}

type Config struct {
	Interval               time.Duration
	Timeout                time.Duration
	MaxConsecutiveFailures int
	Metrics                *metrics.Metrics
}

// FetchFunc performs one status read.
type FetchFunc func(ctx context.Context) (*domain.Payment, error)

type Task struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	stopped bool
}

// Start polls fetch every Interval until the payment turns terminal, Timeout
// elapses or MaxConsecutiveFailures reads in a row fail. onDone runs once
// with the outcome, unless Stop was called first.
func Start(ctx context.Context, cfg Config, initial *domain.Payment, fetch FetchFunc, onDone func(Result)) *Task {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}
	go t.run(ctx, cfg, initial, fetch, onDone)
	return t
}

func (t *Task) run(ctx context.Context, cfg Config, initial *domain.Payment, fetch FetchFunc, onDone func(Result)) {
	defer close(t.done)
	defer t.cancel()

	var last *domain.Payment
	if initial != nil {
		cp := *initial
		last = &cp
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	var deadline <-chan time.Time
	if cfg.Timeout > 0 {
		timer := time.NewTimer(cfg.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			t.finish(onDone, Result{Payment: last, Reason: ReasonDeadline})
			return
		case <-ticker.C:
		}

		p, err := fetch(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			cfg.Metrics.Poll("error")
			if cfg.MaxConsecutiveFailures > 0 && failures >= cfg.MaxConsecutiveFailures {
				t.finish(onDone, Result{Payment: last, Reason: ReasonFailures, Err: err})
				return
			}
			continue
		}
		failures = 0
		cfg.Metrics.Poll("ok")
		if last == nil {
			cp := *p
			last = &cp
		} else {
			last.Merge(*p)
		}
		if last.Status.IsTerminal() {
			t.finish(onDone, Result{Payment: last, Reason: ReasonTerminal})
			return
		}
	}
}

func (t *Task) finish(onDone func(Result), res Result) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()
	if onDone != nil {
		onDone(res)
	}
}

// Stop cancels polling. Once Stop returns onDone is never started; a
// callback already running is not interrupted. Stop does not block, so it
// is safe to call while holding a lock the callback needs.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.cancel()
}

// Wait blocks until the polling goroutine has exited.
func (t *Task) Wait() {
	if t == nil {
		return
	}
	<-t.done
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}
