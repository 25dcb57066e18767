// internal/adapters/apify/client.go
package apify

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"review_pipeline/internal/adapters/observability"
	"review_pipeline/internal/domain"
)

type Actors struct {
	Google     string
	Trustpilot string
}

// Client runs Apify actors synchronously and returns their dataset items.
type Client struct {
	base   string
	hc     *http.Client
	token  string
	actors Actors
	rl     *rate.Limiter
}

func New(base, token string, actors Actors, rps int) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("API token is required")
	}
	if actors.Google == "" || actors.Trustpilot == "" {
		return nil, fmt.Errorf("actor ids are required")
	}
	if rps <= 0 {
		rps = 2
	}
	return &Client{
		base: strings.TrimSuffix(base, "/"),
		// actor runs are synchronous and can take minutes
		hc:     &http.Client{Timeout: 15 * time.Minute},
		token:  token,
		actors: actors,
		rl:     rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// Scrape fetches all reviews for one entity on one platform.
func (c *Client) Scrape(ctx context.Context, p domain.Platform, target string) ([]map[string]any, error) {
	var actor string
	var input map[string]any
	switch p {
	case domain.PlatformGoogle:
		actor = c.actors.Google
		input = map[string]any{
			"startUrls":    []map[string]string{{"url": target}},
			"language":     "en",
			"maxReviews":   99999,
			"personalData": false,
		}
	case domain.PlatformTrustpilot:
		actor = c.actors.Trustpilot
		input = map[string]any{
			"companyDomain": TrustpilotDomain(target),
			"count":         100,
			"replies":       false,
			"startPage":     1,
			"verified":      false,
		}
	default:
		return nil, fmt.Errorf("unknown platform %q", p)
	}

	u := fmt.Sprintf("%s/acts/%s/run-sync-get-dataset-items?token=%s", c.base, url.PathEscape(actor), url.QueryEscape(c.token))
	var out []map[string]any
	start := time.Now()
	status, err := c.post(ctx, u, input, &out)
	observability.ObserveExternal("apify", string(p), status, time.Since(start))
	if err != nil {
		return nil, err
	}
	for _, item := range out {
		item["source_url"] = target
	}
	return out, nil
}

// TrustpilotDomain turns a website into the Trustpilot company domain,
// e.g. https://www.example.com/path -> example.com?languages=all.
func TrustpilotDomain(website string) string {
	host := website
	if u, err := url.Parse(website); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.TrimPrefix(host, "www.")
	return host + "?languages=all"
}

// ---- Internals ----

var (
	ErrNotFound     = errors.New("apify: not found")
	ErrUnauthorized = errors.New("apify: unauthorized")
)

// post sends a JSON body with client-side rate limiting and retries, and decodes into out.
// Retries on 429 and transient 5xx, honoring Retry-After when provided.
func (c *Client) post(ctx context.Context, url string, body any, out any) (int, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return 0, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	var lastErr error
	var lastStatus int
	for i := 0; i < 4; i++ {
		// build a fresh request each attempt
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return 0, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "review-pipeline/1.0")

		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			lastErr = err
			if i < 3 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, lastErr
		}
		lastStatus = resp.StatusCode

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			return resp.StatusCode, err

		case http.StatusNotFound:
			resp.Body.Close()
			return resp.StatusCode, ErrNotFound

		case http.StatusUnauthorized, http.StatusForbidden:
			resp.Body.Close()
			return resp.StatusCode, ErrUnauthorized

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("remote %d", resp.StatusCode)
			if i < 3 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return lastStatus, ctx.Err()
			}
			return lastStatus, lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return resp.StatusCode, fmt.Errorf("bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}

	return lastStatus, lastErr
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff returns 200ms, 400ms, 800ms... plus up to 50% jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	j := time.Duration(0.5 * f * float64(base))
	return base + j
}
