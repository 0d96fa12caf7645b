// Package config loads and validates the scanner's TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"storyscan/pkg/database"
)

const (
	DefaultPort       = 8080
	DefaultSchedule   = 3599 // seconds between scans of one feed
	DefaultFetchLimit = 50   // concurrent outbound fetches, all feeds
	DefaultScanLimit  = 20   // concurrent feed scans
)

type Author struct {
	Name string `toml:"name"`
	Link string `toml:"link"`
}

// Feed is one configured listing subscription.
type Feed struct {
	Name        string   `toml:"name"`
	Link        string   `toml:"link"`
	Engine      string   `toml:"engine"`
	Schedule    int64    `toml:"schedule"`
	FilterTags  string   `toml:"filter-tags"`
	FilterEntry string   `toml:"filter-entry"`
	Tags        []string `toml:"tags"`
	Authors     []Author `toml:"authors"`

	// compiled from FilterTags / FilterEntry at load time
	TagFilter   *regexp.Regexp `toml:"-"`
	EntryFilter *regexp.Regexp `toml:"-"`
}

type Config struct {
	Port        int    `toml:"port"`
	DBFile      string `toml:"dbfile"`
	PageProxy   string `toml:"page-proxy"`
	RequestLog  bool   `toml:"requestlog"`
	FetchLimit  int    `toml:"fetch-limit"`
	ScanLimit   int    `toml:"scan-limit"`
	SnapshotDir string `toml:"snapshot-dir"`

	Feeds []*Feed `toml:"feed"`
}

// Load reads, validates and defaults the config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = DefaultFetchLimit
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = DefaultScanLimit
	}
	if cfg.SnapshotDir == "" {
		cfg.SnapshotDir = filepath.Dir(path)
	}
	if cfg.DBFile == "" {
		cfg.DBFile = database.DefaultConfig().Path
	}

	seen := map[string]bool{}
	for i, feed := range cfg.Feeds {
		if feed.Name == "" {
			return nil, fmt.Errorf("config %s: feed %d has no name", path, i)
		}
		if seen[feed.Name] {
			return nil, fmt.Errorf("config %s: duplicate feed name %q", path, feed.Name)
		}
		seen[feed.Name] = true
		if feed.Link == "" {
			return nil, fmt.Errorf("config %s: feed %q has no link", path, feed.Name)
		}
		if feed.Schedule <= 0 {
			feed.Schedule = DefaultSchedule
		}
		if feed.TagFilter, err = CompileFilter(feed.FilterTags); err != nil {
			return nil, fmt.Errorf("config %s: feed %q filter-tags: %w", path, feed.Name, err)
		}
		if feed.EntryFilter, err = CompileFilter(feed.FilterEntry); err != nil {
			return nil, fmt.Errorf("config %s: feed %q filter-entry: %w", path, feed.Name, err)
		}
	}
	return &cfg, nil
}

// CompileFilter builds the case-insensitive matcher for a filter string.
// The text is matched literally, wrapped in word boundaries; a leading ^
// anchors it at the start instead.
func CompileFilter(s string) (*regexp.Regexp, error) {
	if s == "" {
		return nil, nil
	}
	var pattern string
	if strings.HasPrefix(s, "^") {
		pattern = `(?i)^` + regexp.QuoteMeta(s[1:])
	} else {
		pattern = `(?i)\b` + regexp.QuoteMeta(s) + `\b`
	}
	return regexp.Compile(pattern)
}

// SnapshotPath is where a feed's records are serialized between runs.
func (c *Config) SnapshotPath(feed *Feed) string {
	return filepath.Join(c.SnapshotDir, feed.Name+".ndjson")
}
