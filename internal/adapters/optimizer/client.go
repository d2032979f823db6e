package optimizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/stratbot/internal/domain"
	"github.com/alejandrodnm/stratbot/internal/ports"
)

const (
	suggestPath = "/v1/suggest"

	defaultRatePerSec = 5
	defaultTimeout    = 30 * time.Second

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client es el HTTP client del optimizador ML con rate limiting y retries.
// Implementa ports.Optimizer.
type Client struct {
	http      *http.Client
	base      string
	limiter   *rate.Limiter
	retries   int
	retryWait time.Duration
}

// NewClient crea un Client contra baseURL. timeout <= 0 usa 30s, ratePerSec <= 0 usa 5/s.
func NewClient(baseURL string, timeout time.Duration, ratePerSec float64) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if ratePerSec <= 0 {
		ratePerSec = defaultRatePerSec
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		base:      baseURL,
		limiter:   rate.NewLimiter(rate.Limit(ratePerSec), 1),
		retries:   maxRetries,
		retryWait: baseRetryWait,
	}
}

// WithRetry ajusta el número de reintentos y la espera base del backoff.
func (c *Client) WithRetry(retries int, wait time.Duration) *Client {
	c.retries = retries
	c.retryWait = wait
	return c
}

// SuggestParameters pide al optimizador un nuevo set de parámetros a partir del
// histórico del par. Devuelve (nil, nil) si el optimizador no tiene propuesta.
// Cualquier fallo de transporte o respuesta inválida envuelve ErrOptimizerUnavailable.
func (c *Client) SuggestParameters(ctx context.Context, symbol string, strategy domain.StrategyID, prior []ports.PriorResult) (domain.Parameters, error) {
	req := suggestRequest{
		Symbol:   symbol,
		Strategy: string(strategy),
		History:  make([]historyEntry, 0, len(prior)),
	}
	for _, p := range prior {
		req.History = append(req.History, historyEntry{
			Iteration:   p.Iteration,
			Parameters:  p.Parameters,
			SharpeRatio: p.Result.SharpeRatio,
			TotalReturn: p.Result.TotalReturn,
			MaxDrawdown: p.Result.MaxDrawdown,
			WinRate:     p.Result.WinRate,
			TradeCount:  p.Result.TradeCount,
		})
	}

	var resp suggestResponse
	if err := c.post(ctx, c.base+suggestPath, req, &resp); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("optimizer.SuggestParameters: %s/%s: %w: %w", symbol, strategy, domain.ErrOptimizerUnavailable, err)
	}

	if len(resp.Parameters) == 0 {
		slog.Debug("optimizer has no suggestion",
			"symbol", symbol,
			"strategy", strategy,
			"reason", resp.Reason,
		)
		return nil, nil
	}
	return domain.Parameters(resp.Parameters), nil
}

// post hace un POST JSON con rate limiting y retries.
func (c *Client) post(ctx context.Context, url string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	return c.doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// doWithRetry ejecuta la función con backoff exponencial.
func (c *Client) doWithRetry(ctx context.Context, fn func() (*http.Response, error), out any) error {
	for attempt := 0; attempt <= c.retries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if attempt == c.retries || errors.Is(err, context.Canceled) {
				return fmt.Errorf("request failed after %d retries: %w", attempt, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("rate limited by optimizer", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == c.retries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, c.retries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", c.retries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
