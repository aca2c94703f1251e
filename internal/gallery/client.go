// ABOUTME: HTTP client for the remote image gallery API
// ABOUTME: Searches promoted items by tag and builds public media URLs

package gallery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Defaults for the public pr0gramm instance.
const (
	DefaultBaseURL   = "https://pr0gramm.com"
	DefaultImageHost = "https://img.pr0gramm.com"
	DefaultVideoHost = "https://vid.pr0gramm.com"
	DefaultFlags     = 9
	DefaultTimeout   = 15 * time.Second
)

// maxErrorBody caps how much of a failed response is quoted in errors.
const maxErrorBody = 512

// Item is one gallery post.
type Item struct {
	ID      uint64 `json:"id"`
	Image   string `json:"image"`
	Thumb   string `json:"thumb"`
	Created int64  `json:"created"`
	Up      int64  `json:"up"`
	Down    int64  `json:"down"`
}

// IsVideo reports whether the item is served from the video host.
func (i Item) IsVideo() bool {
	return strings.HasSuffix(i.Image, ".webm") || strings.HasSuffix(i.Image, ".mp4")
}

// itemsResponse is the JSON body of GET /api/items/get.
type itemsResponse struct {
	Items []Item `json:"items"`
	Error string `json:"error,omitempty"`
}

// Options configures a Client. Zero values fall back to the defaults above.
type Options struct {
	BaseURL   string
	ImageHost string
	VideoHost string
	Flags     int
	Promoted  bool
	Timeout   time.Duration
}

// Client talks to the gallery HTTP API.
type Client struct {
	baseURL   string
	imageHost string
	videoHost string
	flags     int
	promoted  bool
	client    *http.Client
}

// NewClient creates a gallery client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.ImageHost == "" {
		opts.ImageHost = DefaultImageHost
	}
	if opts.VideoHost == "" {
		opts.VideoHost = DefaultVideoHost
	}
	if opts.Flags == 0 {
		opts.Flags = DefaultFlags
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	return &Client{
		baseURL:   strings.TrimSuffix(opts.BaseURL, "/"),
		imageHost: strings.TrimSuffix(opts.ImageHost, "/"),
		videoHost: strings.TrimSuffix(opts.VideoHost, "/"),
		flags:     opts.Flags,
		promoted:  opts.Promoted,
		client:    &http.Client{Timeout: opts.Timeout},
	}
}

// Search returns the items tagged with all of tags.
func (c *Client) Search(ctx context.Context, tags []string) ([]Item, error) {
	q := url.Values{}
	q.Set("flags", strconv.Itoa(c.flags))
	if c.promoted {
		q.Set("promoted", "1")
	}
	q.Set("tags", strings.Join(tags, " "))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/items/get?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching items: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp)
	}

	var body itemsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("parsing items: %w", err)
	}
	if body.Error != "" {
		return nil, fmt.Errorf("gallery error: %s", body.Error)
	}
	return body.Items, nil
}

// MediaURL returns the public URL of the item's image or video.
func (c *Client) MediaURL(item Item) string {
	host := c.imageHost
	if item.IsVideo() {
		host = c.videoHost
	}
	return host + "/" + strings.TrimPrefix(item.Image, "/")
}

// handleErrorResponse extracts an error message from a non-200 response.
func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var errResp itemsResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("gallery error (%d): %s", resp.StatusCode, errResp.Error)
	}

	return fmt.Errorf("gallery returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
