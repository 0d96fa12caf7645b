package models

import (
	"regexp"
	"testing"
)

func TestAddAuthorDedupesAndSorts(t *testing.T) {
	s := &Story{}
	s.AddAuthor(Author{Name: "zed", Link: "https://example.com/users/zed"})
	s.AddAuthor(Author{Name: "anna", Link: "https://example.com/users/anna"})
	s.AddAuthor(Author{Name: "other zed", Link: "https://example.com/users/zed"})

	if len(s.Authors) != 2 {
		t.Fatalf("authors = %+v, want 2 entries", s.Authors)
	}
	if s.Authors[0].Name != "anna" || s.Authors[1].Name != "zed" {
		t.Errorf("authors not sorted by name: %+v", s.Authors)
	}
}

func TestTagMatchCoversTitle(t *testing.T) {
	s := &Story{
		Title: "The Dragon Keeper",
		Tags:  []string{"fandom:Harry Potter", "ship:A/B"},
	}
	if !s.TagMatch(regexp.MustCompile(`(?i)\bharry potter\b`)) {
		t.Error("tag should match")
	}
	if !s.TagMatch(regexp.MustCompile(`(?i)\bdragon\b`)) {
		t.Error("title should match")
	}
	if s.TagMatch(regexp.MustCompile(`(?i)\bnaruto\b`)) {
		t.Error("no match expected")
	}
	if !s.TagMatch(nil) {
		t.Error("nil filter matches everything")
	}
}

func TestEntryTextNormalization(t *testing.T) {
	s := &Story{
		Title:   "  Some   TITLE ",
		Summary: "A\n\tsummary",
		Tags:    []string{"Fluff"},
	}
	want := "fluff some title a summary"
	if got := s.EntryText(); got != want {
		t.Errorf("EntryText() = %q, want %q", got, want)
	}
}

func TestContentEqualIgnoresMeta(t *testing.T) {
	a := &Story{Site: "ao3", SiteID: 1, Title: "One", Updated: 100,
		DB: &StoryMeta{Scanned: 5, Status: StatusActive}}
	b := &Story{Site: "ao3", SiteID: 1, Title: "One", Updated: 100,
		DB: &StoryMeta{Scanned: 99, Status: StatusDeleted}}
	if !a.ContentEqual(b) {
		t.Error("metadata must not affect content comparison")
	}

	b.Title = "Two"
	if a.ContentEqual(b) {
		t.Error("differing title must not compare equal")
	}
	if a.ContentEqual(nil) {
		t.Error("nil never compares equal")
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := &Story{
		Site:    "ao3",
		SiteID:  1,
		Authors: []Author{{Name: "a"}},
		Tags:    []string{"one"},
		Stats:   map[string]int64{"kudos": 3},
		DB:      &StoryMeta{Status: StatusActive},
	}
	cp := orig.Clone()
	cp.Authors[0].Name = "b"
	cp.Tags[0] = "two"
	cp.Stats["kudos"] = 9
	cp.DB.Status = StatusDeleted

	if orig.Authors[0].Name != "a" || orig.Tags[0] != "one" ||
		orig.Stats["kudos"] != 3 || orig.DB.Status != StatusActive {
		t.Errorf("clone shares memory with original: %+v", orig)
	}
}
