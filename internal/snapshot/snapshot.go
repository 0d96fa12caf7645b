// Package snapshot serializes one feed's record set to a newline-delimited
// JSON stream and back: a watermark header line first, then one story per
// line ordered by (site, siteID).
package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"storyscan/internal/store"
	"storyscan/pkg/models"
)

// maxLine bounds one serialized story.
const maxLine = 4 << 20

type header struct {
	Source   bool  `json:"source"`
	LastSeen int64 `json:"lastSeen"`
	LastScan int64 `json:"lastScan"`
}

// Write streams the feed's watermarks and stories to w.
func Write(ctx context.Context, w io.Writer, st store.Store, feedID int64) error {
	lastSeen, err := st.LastSeen(ctx, feedID)
	if err != nil {
		return err
	}
	lastScan, err := st.LastScan(ctx, feedID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	if err := enc.Encode(header{Source: true, LastSeen: lastSeen, LastScan: lastScan}); err != nil {
		return fmt.Errorf("write snapshot header: %w", err)
	}
	return st.FeedStories(ctx, feedID, func(story *models.Story) error {
		if err := enc.Encode(story); err != nil {
			return fmt.Errorf("write story %s/%d: %w", story.Site, story.SiteID, err)
		}
		return nil
	})
}

// Read replays a snapshot stream into the store: the header restores the
// feed's watermarks, every other line merges as a story.
func Read(ctx context.Context, r io.Reader, st store.Store, feedID int64) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var hdr header
		if err := json.Unmarshal(line, &hdr); err == nil && hdr.Source {
			if err := st.SetLastSeen(ctx, feedID, hdr.LastSeen); err != nil {
				return err
			}
			if err := st.SetLastScan(ctx, feedID, hdr.LastScan); err != nil {
				return err
			}
			continue
		}

		var story models.Story
		if err := json.Unmarshal(line, &story); err != nil {
			return fmt.Errorf("parse snapshot line: %w", err)
		}
		if _, err := st.Merge(ctx, feedID, &story); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Save atomically replaces the snapshot file at path: written to a .new
// sibling first, then renamed over the old file.
func Save(ctx context.Context, st store.Store, feedID int64, path string) error {
	tmp := path + ".new"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot %s: %w", tmp, err)
	}
	if err := Write(ctx, f, st, feedID); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close snapshot %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace snapshot %s: %w", path, err)
	}
	return nil
}

// Load replays the snapshot file at path if it exists. A missing file just
// reports found=false.
func Load(ctx context.Context, st store.Store, feedID int64, path string) (found bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer f.Close()
	if err := Read(ctx, f, st, feedID); err != nil {
		return true, err
	}
	return true, nil
}
