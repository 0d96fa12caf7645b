package snapshot

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"storyscan/internal/store"
	"storyscan/pkg/models"
)

func testStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "data.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedFeed(t *testing.T, st store.Store) int64 {
	t.Helper()
	feedID, err := st.AddFeed(context.Background(), "snapshot-feed", nil)
	if err != nil {
		t.Fatalf("add feed: %v", err)
	}
	return feedID
}

func story(site string, id int64, updated int64) *models.Story {
	return &models.Story{
		Site:    site,
		SiteID:  id,
		Link:    "https://example.com/works/1",
		Updated: updated,
		Title:   "Story",
		Authors: []models.Author{{Name: "Author", Link: "https://example.com/users/author"}},
		Words:   1000,
		Tags:    []string{"Fantasy"},
		DB: &models.StoryMeta{
			Added:   updated,
			Updated: updated,
			Scanned: updated + 5,
			Status:  models.StatusActive,
		},
	}
}

func dump(t *testing.T, st store.Store, feedID int64) []*models.Story {
	t.Helper()
	var out []*models.Story
	err := st.FeedStories(context.Background(), feedID, func(s *models.Story) error {
		out = append(out, s)
		return nil
	})
	if err != nil {
		t.Fatalf("feed stories: %v", err)
	}
	return out
}

func TestWriteOrderAndHeader(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	feedID := seedFeed(t, st)

	for _, s := range []*models.Story{
		story("wattpad", 7, 3000),
		story("ao3", 20, 1000),
		story("ao3", 3, 2000),
	} {
		if _, err := st.Merge(ctx, feedID, s); err != nil {
			t.Fatalf("merge: %v", err)
		}
	}
	if err := st.SetLastSeen(ctx, feedID, 3000); err != nil {
		t.Fatal(err)
	}
	if err := st.SetLastScan(ctx, feedID, 3100); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := Write(ctx, &buf, st, feedID); err != nil {
		t.Fatalf("write: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4", len(lines))
	}
	if !strings.Contains(lines[0], `"source":true`) ||
		!strings.Contains(lines[0], `"lastSeen":3000`) ||
		!strings.Contains(lines[0], `"lastScan":3100`) {
		t.Fatalf("bad header line: %s", lines[0])
	}
	// Body ordered by (site, siteID), not by insertion or update time.
	for i, want := range []string{`"siteId":3`, `"siteId":20`, `"siteId":7`} {
		if !strings.Contains(lines[i+1], want) {
			t.Errorf("line %d = %s, want it to contain %s", i+1, lines[i+1], want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := testStore(t)
	srcFeed := seedFeed(t, src)

	for _, s := range []*models.Story{
		story("ao3", 1, 1000),
		story("ao3", 2, 2000),
		story("wattpad", 9, 1500),
	} {
		if _, err := src.Merge(ctx, srcFeed, s); err != nil {
			t.Fatalf("merge: %v", err)
		}
	}
	if err := src.SetLastSeen(ctx, srcFeed, 2000); err != nil {
		t.Fatal(err)
	}
	if err := src.SetLastScan(ctx, srcFeed, 2100); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := Write(ctx, &buf, src, srcFeed); err != nil {
		t.Fatalf("write: %v", err)
	}

	dst := testStore(t)
	dstFeed := seedFeed(t, dst)
	if err := Read(ctx, bytes.NewReader(buf.Bytes()), dst, dstFeed); err != nil {
		t.Fatalf("read: %v", err)
	}

	seen, err := dst.LastSeen(ctx, dstFeed)
	if err != nil {
		t.Fatal(err)
	}
	if seen != 2000 {
		t.Errorf("lastSeen = %d, want 2000", seen)
	}
	scan, err := dst.LastScan(ctx, dstFeed)
	if err != nil {
		t.Fatal(err)
	}
	if scan != 2100 {
		t.Errorf("lastScan = %d, want 2100", scan)
	}

	want := dump(t, src, srcFeed)
	got := dump(t, dst, dstFeed)
	if len(got) != len(want) {
		t.Fatalf("got %d stories, want %d", len(got), len(want))
	}
	for i := range want {
		if !models.Equivalent(got[i], want[i]) {
			t.Errorf("story %s/%d differs after round trip", want[i].Site, want[i].SiteID)
		}
	}
}

func TestSaveReplacesAtomically(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	feedID := seedFeed(t, st)
	if _, err := st.Merge(ctx, feedID, story("ao3", 1, 1000)); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "feed.ndjson")
	if err := os.WriteFile(path, []byte("stale\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Save(ctx, st, feedID, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path + ".new"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"source":true`) {
		t.Errorf("snapshot not replaced: %s", data)
	}
}

func TestLoadMissingFile(t *testing.T) {
	st := testStore(t)
	feedID := seedFeed(t, st)
	found, err := Load(context.Background(), st, feedID, filepath.Join(t.TempDir(), "nope.ndjson"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found {
		t.Error("found = true for missing file")
	}
}
