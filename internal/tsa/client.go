package tsa

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/evidentia/platform/internal/shared/config"
	"github.com/evidentia/platform/internal/shared/errors"
	"github.com/evidentia/platform/internal/shared/logger"
	"github.com/evidentia/platform/internal/shared/metrics"
	"github.com/evidentia/platform/internal/shared/types"
	"golang.org/x/time/rate"
)

// Client seals hashes with a primary provider and falls back to secondary
// providers when the primary's retry budget is exhausted. Outbound traffic
// is rate limited so a reseal sweep cannot flood an external authority.
type Client struct {
	providers     []Provider
	limiter       *rate.Limiter
	timeout       time.Duration
	maxAttempts   int
	validityDays  int
	retryInterval time.Duration
}

// NewClient builds a client from configuration. Providers are tried in
// order; the first is the primary.
func NewClient(cfg config.TSAConfig, providers ...Provider) *Client {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	rps := cfg.RequestsPerSecond
	if rps < 1 {
		rps = 1
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	validityDays := cfg.TokenValidityDays
	if validityDays < 1 {
		validityDays = 365
	}

	return &Client{
		providers:     providers,
		limiter:       rate.NewLimiter(rate.Limit(rps), rps),
		timeout:       timeout,
		maxAttempts:   maxAttempts,
		validityDays:  validityDays,
		retryInterval: 250 * time.Millisecond,
	}
}

// Seal obtains a timestamp token for a hex-encoded hash. Every configured
// provider failing yields an unavailable error, never a partial token.
func (c *Client) Seal(ctx context.Context, imprintHex string) (*Token, error) {
	imprint, err := hex.DecodeString(imprintHex)
	if err != nil {
		return nil, errors.BadRequest("imprint must be a hex-encoded hash")
	}
	if len(c.providers) == 0 {
		return nil, errors.Unavailable("no timestamp providers configured")
	}

	var lastErr error
	for _, provider := range c.providers {
		resp, err := c.sealWith(ctx, provider, imprint)
		if err == nil {
			return c.buildToken(provider.Name(), resp), nil
		}
		lastErr = err
		logger.L().Warnw("timestamp provider failed",
			"provider", provider.Name(),
			"error", err,
		)
	}

	appErr := errors.Unavailable("all timestamp providers failed")
	if lastErr != nil {
		appErr.Details = map[string]string{"cause": lastErr.Error()}
	}
	return nil, appErr
}

func (c *Client) sealWith(ctx context.Context, provider Provider, imprint []byte) (*TimestampResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		start := time.Now()
		resp, err := provider.Timestamp(reqCtx, imprint)
		cancel()

		if err == nil {
			metrics.RecordTSARequest(provider.Name(), "success", time.Since(start))
			return resp, nil
		}
		metrics.RecordTSARequest(provider.Name(), "failure", time.Since(start))
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < c.maxAttempts {
			select {
			case <-time.After(time.Duration(attempt) * c.retryInterval):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func (c *Client) buildToken(providerName string, resp *TimestampResponse) *Token {
	return &Token{
		ID:            types.NewID(),
		Provider:      providerName,
		HashedMessage: resp.HashedMessage,
		SerialNumber:  resp.SerialNumber,
		IssuedAt:      resp.Timestamp,
		ExpiresAt:     resp.Timestamp.AddDate(0, 0, c.validityDays),
		Status:        TokenStatusValid,
		Raw:           resp.Token,
	}
}

// Verify checks a stored token against a hex-encoded imprint. A mismatching
// or malformed token returns (false, nil); an error means the check could
// not be performed and says nothing about validity.
func (c *Client) Verify(ctx context.Context, token *Token, imprintHex string) (*VerifyResult, error) {
	imprint, err := hex.DecodeString(imprintHex)
	if err != nil {
		return nil, errors.BadRequest("imprint must be a hex-encoded hash")
	}

	provider := c.providerByName(token.Provider)
	if provider == nil {
		return nil, errors.Unavailable("no provider available to verify token from " + token.Provider)
	}

	return provider.Verify(ctx, token.Raw, imprint)
}

func (c *Client) providerByName(name string) Provider {
	for _, p := range c.providers {
		if p.Name() == name {
			return p
		}
	}
	// A renamed or removed provider must not make old tokens unverifiable;
	// any provider that can parse the token format will do.
	if len(c.providers) > 0 {
		return c.providers[0]
	}
	return nil
}
