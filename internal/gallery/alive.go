// ABOUTME: Liveness check for media URLs before they are posted
// ABOUTME: Issues a HEAD request and treats any 2xx or 3xx answer as alive

package gallery

import (
	"context"
	"net/http"
	"time"
)

// aliveTimeout bounds a single liveness check.
const aliveTimeout = 5 * time.Second

// Alive reports whether rawURL answers a HEAD request with a 2xx or 3xx
// status. Any transport error counts as dead.
func (c *Client) Alive(ctx context.Context, rawURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, aliveTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 400
}
