package client

import (
	"net/http"

	"github.com/nightBaker/fleans-sub002/backoff"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithRetry enables retries for transport failures and gateway errors:
// up to maxAttempts attempts, delayed per the strategy. A nil strategy
// keeps backoff.DefaultStrategy.
func WithRetry(maxAttempts int, strategy backoff.Strategy) Option {
	return func(c *Client) {
		c.maxAttempts = maxAttempts
		if strategy != nil {
			c.retryDelay = strategy
		}
	}
}
