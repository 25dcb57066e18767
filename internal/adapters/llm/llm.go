// Package llm provides text-generation providers behind domain.Generator.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"review_pipeline/internal/adapters/observability"
	"review_pipeline/internal/domain"
	"review_pipeline/internal/shared"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// New builds the configured provider wrapped with rate limiting, retries
// and metrics.
func New(cfg shared.LLMConfig) (domain.Generator, error) {
	var p provider
	switch strings.ToLower(cfg.Provider) {
	case "gemini", "":
		base := cfg.BaseURL
		if base == "" {
			base = geminiBaseURL
		}
		p = NewCompatible(base, cfg.APIKey, cfg.Model)
	case "compatible":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: compatible provider needs LLM_BASE_URL", domain.ErrConfig)
		}
		p = NewCompatible(cfg.BaseURL, cfg.APIKey, cfg.Model)
	case "openai":
		p = NewOpenAI(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.MaxOutputTokens)
	case "anthropic":
		p = NewAnthropic(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.MaxOutputTokens)
	default:
		return nil, fmt.Errorf("%w: unknown LLM provider %q", domain.ErrConfig, cfg.Provider)
	}
	return NewLimited(p, cfg.RPS, cfg.MaxRetries), nil
}

type provider interface {
	domain.Generator
	Name() string
}

// Limited paces calls and retries transient failures.
type Limited struct {
	p          provider
	rl         *rate.Limiter
	maxRetries int
	sleep      func(context.Context, time.Duration) bool
}

func NewLimited(p provider, rps float64, maxRetries int) *Limited {
	lim := rate.Inf
	if rps > 0 {
		lim = rate.Limit(rps)
	}
	return &Limited{p: p, rl: rate.NewLimiter(lim, 1), maxRetries: maxRetries, sleep: sleepCtx}
}

func (l *Limited) Generate(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		if err := l.rl.Wait(ctx); err != nil {
			return "", err
		}
		start := time.Now()
		out, err := l.p.Generate(ctx, prompt)
		observability.ObserveExternal("llm", l.p.Name(), statusOf(err), time.Since(start))
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil || !Retryable(err) || attempt == l.maxRetries {
			break
		}
		if !l.sleep(ctx, backoff(attempt)) {
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

// StatusError carries the HTTP status of a failed provider call.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string { return fmt.Sprintf("HTTP %d: %v", e.Status, e.Err) }
func (e *StatusError) Unwrap() error { return e.Err }

// Retryable reports whether a provider error is transient: rate limits,
// 5xx responses, timeouts and dropped connections.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == 429 || se.Status >= 500
	}
	s := strings.ToLower(err.Error())
	for _, pat := range []string{"429", "rate limit", "500", "502", "503", "504", "timeout", "deadline exceeded", "connection reset", "connection refused", "eof", "overloaded"} {
		if strings.Contains(s, pat) {
			return true
		}
	}
	return false
}

func statusOf(err error) int {
	if err == nil {
		return 200
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// backoff returns 1s, 2s, 4s... capped at 30s.
func backoff(i int) time.Duration {
	d := time.Second << i
	if d > 30*time.Second || d <= 0 {
		d = 30 * time.Second
	}
	return d
}
