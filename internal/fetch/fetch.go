// Package fetch is the outbound page fetcher: admission-controlled,
// optionally proxied, following redirects itself with a bounded hop count.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/html/charset"

	"storyscan/internal/limiter"
)

const RedirectLimit = 10

var movedStatus = map[int]bool{
	http.StatusMovedPermanently:  true,
	http.StatusFound:             true,
	http.StatusSeeOther:          true,
	http.StatusTemporaryRedirect: true,
	http.StatusPermanentRedirect: true,
}

// Func fetches one link and returns its body decoded to UTF-8. The scan
// loop works against this signature so tests can drop in fakes.
type Func func(ctx context.Context, link string) ([]byte, error)

type Client struct {
	http      *http.Client
	proxy     string
	limit     *limiter.Limiter
	userAgent string

	// PreferCached asks the page proxy to serve from cache without
	// validating.
	PreferCached bool
}

// New builds a fetcher capped at maxConcurrent in-flight requests. proxy,
// when non-empty, is prefixed to every fetched link.
func New(proxy string, maxConcurrent int) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   60 * time.Second,
			// redirects are followed manually so the hop count is bounded
			// and each hop goes back through the proxy
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		proxy:     proxy,
		limit:     limiter.New(maxConcurrent),
		userAgent: "storyscan/1.0",
	}
}

// Fetch retrieves link through one admission slot, following up to
// RedirectLimit redirects.
func (c *Client) Fetch(ctx context.Context, link string) ([]byte, error) {
	var body []byte
	err := c.limit.Do(ctx, func() error {
		var err error
		body, err = c.fetch(ctx, link)
		return err
	})
	return body, err
}

func (c *Client) fetch(ctx context.Context, link string) ([]byte, error) {
	for hop := 0; ; hop++ {
		target := link
		if c.proxy != "" {
			target = c.proxy + "/" + link
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("build request for %s: %w", link, err)
		}
		req.Header.Set("User-Agent", c.userAgent)
		if c.PreferCached {
			req.Header.Set("Cache-Control", "prefer-cached")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", link, err)
		}

		if movedStatus[resp.StatusCode] && resp.Header.Get("Location") != "" {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if hop >= RedirectLimit {
				return nil, fmt.Errorf("maximum redirects reached at: %s", link)
			}
			next, err := resp.Request.URL.Parse(resp.Header.Get("Location"))
			if err != nil {
				return nil, fmt.Errorf("bad redirect from %s: %w", link, err)
			}
			link = stripProxy(next, c.proxy)
			continue
		}

		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("read %s: %w", link, readErr)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("fetch %s: status %d", link, resp.StatusCode)
		}
		return decodeUTF8(raw, resp.Header.Get("Content-Type")), nil
	}
}

// stripProxy undoes the proxy prefix on a redirect target so the next hop
// is re-proxied instead of double-prefixed.
func stripProxy(next *url.URL, proxy string) string {
	link := next.String()
	if proxy == "" {
		return link
	}
	prefix := proxy + "/"
	if len(link) > len(prefix) && link[:len(prefix)] == prefix {
		return link[len(prefix):]
	}
	return link
}

// decodeUTF8 converts a page body to UTF-8 based on its declared or sniffed
// charset. Bodies that fail to decode pass through unchanged.
func decodeUTF8(raw []byte, contentType string) []byte {
	enc, _, _ := charset.DetermineEncoding(raw, contentType)
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return raw
	}
	return decoded
}
