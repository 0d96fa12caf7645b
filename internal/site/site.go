// Package site holds the site adapters that turn one fetched listing page
// from a specific content site into normalized stories plus a next-page
// pointer.
package site

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"storyscan/pkg/models"
)

// Page is one fetched-and-parsed listing page. It is consumed by the scan
// loop and discarded.
type Page struct {
	NextPage string
	Stories  []*models.Story
}

// Site is implemented by each adapter. Adapters are stateless; all per-feed
// state lives with the caller.
type Site interface {
	Name() string

	// ParseScan parses one raw listing page. pageLink is the link the body
	// was fetched from, pageAnchor the fragment of the configured feed link
	// (some forum-style sites scope parsing by it).
	ParseScan(pageLink string, body []byte, pageAnchor string) (*Page, error)

	// FetchLink transforms a human-facing listing link into the link that
	// is actually fetched (e.g. a site's JSON search API).
	FetchLink(link string) string

	// LinkFromID returns the canonical story link for a site id.
	LinkFromID(siteID int64) string

	// NewAuthor builds an author with a normalized profile link.
	NewAuthor(name, href, base string) models.Author
}

var registry = map[string]Site{}

func register(s Site) {
	registry[s.Name()] = s
}

// ForEngine returns the adapter registered under the given engine name, or,
// for "auto" (or empty), sniffs the adapter from the feed link's host.
func ForEngine(engine, link string) (Site, error) {
	if engine != "" && engine != "auto" {
		s, ok := registry[engine]
		if !ok {
			return nil, fmt.Errorf("unknown site engine %q", engine)
		}
		return s, nil
	}
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("cannot determine site from %q: %w", link, err)
	}
	for _, s := range registry {
		if sniffer, ok := s.(hostSniffer); ok && sniffer.matchesHost(u.Hostname()) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("could not determine site from: %s", link)
}

// hostSniffer is implemented by adapters that can claim a hostname for
// engine auto-detection.
type hostSniffer interface {
	matchesHost(host string) bool
}

// normalizeLink resolves href against base, forces https and strips a
// trailing slash.
func normalizeLink(href, base string) string {
	if href == "" {
		return href
	}
	if base != "" {
		if bu, err := url.Parse(base); err == nil {
			if hu, err := url.Parse(href); err == nil {
				href = bu.ResolveReference(hu).String()
			}
		}
	}
	if strings.HasPrefix(href, "http:") {
		href = "https:" + href[len("http:"):]
	}
	return strings.TrimSuffix(href, "/")
}

// num parses a human-formatted count like "1,234". Unparseable input counts
// as zero.
func num(s string) int {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || s == "?" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
