package transport

import (
	"context"

	"github.com/cenkalti/backoff/v4"
)

// Schedule exposes the per-call backoff policy to tests.
func (c *Client) Schedule(ctx context.Context) backoff.BackOff {
	return c.schedule(ctx)
}
