package saturn

import (
	"context"
	"sync"
	"time"
)

// usageWindow is a sliding one-minute window of weighted entries: weight 1
// per request for RPM accounting, token counts for TPM accounting. Entries
// are appended in time order, so pruning pops from the front.
type usageWindow struct {
	entries []usageStamp
}

type usageStamp struct {
	at     time.Time
	weight int
}

func (w *usageWindow) prune(cutoff time.Time) {
	i := 0
	for i < len(w.entries) && w.entries[i].at.Before(cutoff) {
		i++
	}
	w.entries = w.entries[i:]
}

func (w *usageWindow) add(at time.Time, weight int) {
	w.entries = append(w.entries, usageStamp{at: at, weight: weight})
}

func (w *usageWindow) total() int {
	var sum int
	for _, e := range w.entries {
		sum += e.weight
	}
	return sum
}

// oldestExpiry returns when the window's oldest entry leaves a one-minute
// window, or false when the window is empty.
func (w *usageWindow) oldestExpiry() (time.Time, bool) {
	if len(w.entries) == 0 {
		return time.Time{}, false
	}
	return w.entries[0].at.Add(time.Minute), true
}

// rateLimitProvider wraps a Provider with proactive rate limiting.
// Requests block until both budgets allow them to proceed.
type rateLimitProvider struct {
	inner Provider

	mu       sync.Mutex
	rpm      int
	tpm      int
	requests usageWindow
	tokens   usageWindow
}

// RateLimitOption configures a rateLimitProvider.
type RateLimitOption func(*rateLimitProvider)

// RPM sets the maximum requests per minute.
func RPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.rpm = n }
}

// TPM sets the maximum tokens per minute (input + output combined).
// Token counts are recorded from ChatResponse.Usage after each request.
// This is a soft limit: the request that exceeds the budget completes,
// but subsequent requests block until the window slides.
func TPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.tpm = n }
}

// WithRateLimit wraps p with proactive rate limiting. Compose with other
// wrappers:
//
//	llm = saturn.WithRateLimit(provider, saturn.RPM(60))
//	llm = saturn.WithRateLimit(provider, saturn.RPM(60), saturn.TPM(100000))
//	llm = saturn.WithRateLimit(saturn.WithRetry(provider), saturn.RPM(60))
func WithRateLimit(p Provider, opts ...RateLimitOption) Provider {
	r := &rateLimitProvider{inner: p}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *rateLimitProvider) Name() string { return r.inner.Name() }

func (r *rateLimitProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := r.waitForBudget(ctx); err != nil {
		return ChatResponse{}, err
	}
	resp, err := r.inner.Chat(ctx, req)
	if err == nil {
		r.recordUsage(resp.Usage)
	}
	return resp, err
}

func (r *rateLimitProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamEvent) (ChatResponse, error) {
	if err := r.waitForBudget(ctx); err != nil {
		return ChatResponse{}, err
	}
	resp, err := r.inner.ChatStream(ctx, req, ch)
	if err == nil {
		r.recordUsage(resp.Usage)
	}
	return resp, err
}

// waitForBudget blocks until both RPM and TPM budgets allow a request.
// Returns ctx.Err() if the context is cancelled while waiting.
func (r *rateLimitProvider) waitForBudget(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-time.Minute)
		r.requests.prune(cutoff)
		r.tokens.prune(cutoff)

		rpmOK := r.rpm <= 0 || r.requests.total() < r.rpm
		tpmOK := r.tpm <= 0 || r.tokens.total() < r.tpm
		if rpmOK && tpmOK {
			if r.rpm > 0 {
				r.requests.add(now, 1)
			}
			r.mu.Unlock()
			return nil
		}

		// Wait until the oldest entry in the blocking window expires.
		var wait time.Duration
		if !rpmOK {
			if exp, ok := r.requests.oldestExpiry(); ok {
				wait = exp.Sub(now)
			}
		}
		if !tpmOK {
			if exp, ok := r.tokens.oldestExpiry(); ok {
				if w := exp.Sub(now); wait == 0 || w < wait {
					wait = w
				}
			}
		}
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		r.mu.Unlock()

		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// recordUsage adds token counts to the TPM window.
func (r *rateLimitProvider) recordUsage(u Usage) {
	if r.tpm <= 0 {
		return
	}
	total := u.InputTokens + u.OutputTokens
	if total <= 0 {
		return
	}
	r.mu.Lock()
	r.tokens.add(time.Now(), total)
	r.mu.Unlock()
}

var _ Provider = (*rateLimitProvider)(nil)
