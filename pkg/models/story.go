package models

import (
	"regexp"
	"sort"
	"strings"
)

// Story status values used in StoryMeta.Status.
const (
	StatusActive  = "active"
	StatusDeleted = "deleted"
)

// Author is one credited author of a story.
type Author struct {
	Name string `json:"name"`
	Link string `json:"link"`
}

// StoryMeta holds the store-managed fields of a canonical story. They ride
// along in serialization under the "db" key and never take part in content
// comparison.
type StoryMeta struct {
	Added   int64  `json:"added,omitempty"`
	Updated int64  `json:"updated,omitempty"`
	Scanned int64  `json:"scanned,omitempty"`
	Status  string `json:"status,omitempty"`
}

// Story is the normalized, internal form of one story listing entry.
//
// All site adapters map their pages into this structure first, then the store
// merges from this representation. A story is uniquely identified by
// (Site, SiteID).
type Story struct {
	Site      string `json:"site"`
	SiteID    int64  `json:"siteId"`
	Link      string `json:"link,omitempty"`
	Published int64  `json:"published,omitempty"`
	Updated   int64  `json:"updated"`
	Title     string `json:"title,omitempty"`

	Authors []Author `json:"authors"`

	Words           int    `json:"words,omitempty"`
	ChapterCount    int    `json:"chapterCount,omitempty"`
	MaxChapterCount int    `json:"maxChapterCount,omitempty"`
	Cover           string `json:"cover,omitempty"`

	Stats map[string]int64 `json:"stats,omitempty"`
	Tags  []string         `json:"tags,omitempty"`

	Summary  string `json:"summary,omitempty"`
	Rating   string `json:"rating,omitempty"`
	Language string `json:"language,omitempty"`
	Status   string `json:"status,omitempty"`

	// DB is nil until the story has been through the store.
	DB *StoryMeta `json:"db,omitempty"`
}

// AddAuthor adds an author unless one with the same link is already present.
// The author list stays sorted by name, then link.
func (s *Story) AddAuthor(au Author) {
	for _, existing := range s.Authors {
		if existing.Link == au.Link {
			return
		}
	}
	s.Authors = append(s.Authors, au)
	sort.Slice(s.Authors, func(i, j int) bool {
		if s.Authors[i].Name != s.Authors[j].Name {
			return s.Authors[i].Name < s.Authors[j].Name
		}
		return s.Authors[i].Link < s.Authors[j].Link
	})
}

// TagMatch reports whether any tag matches the filter. The title is matched
// too, because some sites put tags in the title. A nil filter matches
// everything.
func (s *Story) TagMatch(filter *regexp.Regexp) bool {
	if filter == nil {
		return true
	}
	for _, tag := range s.Tags {
		if filter.MatchString(tag) {
			return true
		}
	}
	return filter.MatchString(s.Title)
}

// EntryText is the normalized rendering of tags, title and summary used by
// free-text entry filters.
func (s *Story) EntryText() string {
	parts := make([]string, 0, len(s.Tags)+2)
	parts = append(parts, s.Tags...)
	parts = append(parts, s.Title, s.Summary)
	return strings.ToLower(strings.Join(strings.Fields(strings.Join(parts, " ")), " "))
}

// EntryMatch reports whether the free-text filter matches EntryText. A nil
// filter matches everything.
func (s *Story) EntryMatch(filter *regexp.Regexp) bool {
	if filter == nil {
		return true
	}
	return filter.MatchString(s.EntryText())
}

// ContentEqual compares the site-reported content of two stories, ignoring
// the store-managed metadata on both sides.
func (s *Story) ContentEqual(other *Story) bool {
	if other == nil {
		return false
	}
	a := *s
	b := *other
	a.DB = nil
	b.DB = nil
	return Equivalent(a, b)
}

// Clone returns a deep copy.
func (s *Story) Clone() *Story {
	out := *s
	out.Authors = append([]Author(nil), s.Authors...)
	out.Tags = append([]string(nil), s.Tags...)
	if s.Stats != nil {
		out.Stats = make(map[string]int64, len(s.Stats))
		for k, v := range s.Stats {
			out.Stats[k] = v
		}
	}
	if s.DB != nil {
		meta := *s.DB
		out.DB = &meta
	}
	return &out
}
