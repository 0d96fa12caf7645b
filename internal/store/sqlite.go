package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"storyscan/pkg/database"
	"storyscan/pkg/models"
)

// SQLite is the default Store backend.
type SQLite struct {
	db    *sql.DB
	bcast *broadcaster
	keys  keyLocks
}

// OpenSQLite opens (or creates) the sqlite database at path and applies the
// schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := database.Open(database.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewSQLite(db), nil
}

// NewSQLite wraps an already-opened, migrated database handle.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db, bcast: newBroadcaster()}
}

func (s *SQLite) AddFeed(ctx context.Context, name string, tags []string) (int64, error) {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return 0, fmt.Errorf("marshal feed tags: %w", err)
	}

	var feedID int64
	err = s.db.QueryRowContext(ctx, `SELECT feedid FROM feed WHERE name = ?`, name).Scan(&feedID)
	switch {
	case err == nil:
		if _, err := s.db.ExecContext(ctx, `UPDATE feed SET tags = ? WHERE feedid = ?`, string(tagsJSON), feedID); err != nil {
			return 0, fmt.Errorf("update feed %q: %w", name, err)
		}
		return feedID, nil
	case errors.Is(err, sql.ErrNoRows):
		res, err := s.db.ExecContext(ctx, `INSERT INTO feed (name, tags) VALUES (?, ?)`, name, string(tagsJSON))
		if err != nil {
			return 0, fmt.Errorf("insert feed %q: %w", name, err)
		}
		return res.LastInsertId()
	default:
		return 0, fmt.Errorf("lookup feed %q: %w", name, err)
	}
}

func (s *SQLite) Merge(ctx context.Context, feedID int64, story *models.Story) (*models.Story, error) {
	if story.Site == "" || story.SiteID == 0 {
		return nil, fmt.Errorf("merge: story has no site identity")
	}

	mu := s.keys.lock(story.Site, story.SiteID)
	mu.Lock()
	defer mu.Unlock()

	cand := candidateMeta(story, time.Now().Unix())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var (
		storyID int64
		meta    models.StoryMeta
		content string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT storyid, updated, scanned, added, status, content
		FROM story
		WHERE site = ? AND siteid = ?
	`, story.Site, story.SiteID).Scan(&storyID, &meta.Updated, &meta.Scanned, &meta.Added, &meta.Status, &content)

	var merged *models.Story
	publish := false

	switch {
	case errors.Is(err, sql.ErrNoRows):
		contentJSON, err := encodeContent(story)
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO story (site, siteid, updated, scanned, added, status, content)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, story.Site, story.SiteID, cand.Updated, cand.Scanned, cand.Added, cand.Status, contentJSON)
		if err != nil {
			return nil, fmt.Errorf("insert story %s/%d: %w", story.Site, story.SiteID, err)
		}
		if storyID, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("story id: %w", err)
		}
		merged = story.Clone()
		metaCopy := cand
		merged.DB = &metaCopy
		merged.Updated = cand.Updated
		publish = true

	case err != nil:
		return nil, fmt.Errorf("lookup story %s/%d: %w", story.Site, story.SiteID, err)

	default:
		existing, err := decodeContent(story.Site, story.SiteID, content, meta)
		if err != nil {
			return nil, err
		}

		// freshness gate: stale observations change nothing and emit nothing
		if cand.Updated < meta.Updated {
			if err := ensureAssoc(ctx, tx, feedID, storyID); err != nil {
				return nil, err
			}
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("commit: %w", err)
			}
			return existing, nil
		}

		newMeta := meta
		newMeta.Updated = cand.Updated
		if cand.Scanned >= meta.Scanned {
			newMeta.Scanned = cand.Scanned
		}
		// a record seen in any scan is live again, content change or not
		newMeta.Status = models.StatusActive

		newContent := content
		if story.ContentEqual(existing) {
			merged = existing
		} else {
			if newContent, err = encodeContent(story); err != nil {
				return nil, err
			}
			merged = story.Clone()
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE story SET updated = ?, scanned = ?, status = ?, content = ?
			WHERE storyid = ?
		`, newMeta.Updated, newMeta.Scanned, newMeta.Status, newContent, storyID); err != nil {
			return nil, fmt.Errorf("update story %s/%d: %w", story.Site, story.SiteID, err)
		}
		metaCopy := newMeta
		merged.DB = &metaCopy
		merged.Updated = newMeta.Updated
		publish = true
	}

	if err := ensureAssoc(ctx, tx, feedID, storyID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	if publish {
		s.bcast.publish(merged)
	}
	return merged, nil
}

func ensureAssoc(ctx context.Context, tx *sql.Tx, feedID, storyID int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO feed_story (feedid, storyid) VALUES (?, ?)
	`, feedID, storyID); err != nil {
		return fmt.Errorf("associate story %d with feed %d: %w", storyID, feedID, err)
	}
	return nil
}

func (s *SQLite) GetByIDs(ctx context.Context, feedID int64, site string, ids []int64) ([]*models.Story, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+2)
	args = append(args, feedID, site)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT siteid, updated, scanned, added, status, content
		FROM story
		JOIN feed_story USING (storyid)
		WHERE feedid = ? AND site = ? AND siteid IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("get by ids: %w", err)
	}
	defer rows.Close()

	var out []*models.Story
	for rows.Next() {
		var (
			siteID  int64
			meta    models.StoryMeta
			content string
		)
		if err := rows.Scan(&siteID, &meta.Updated, &meta.Scanned, &meta.Added, &meta.Status, &content); err != nil {
			return nil, fmt.Errorf("scan story row: %w", err)
		}
		story, err := decodeContent(site, siteID, content, meta)
		if err != nil {
			return nil, err
		}
		out = append(out, story)
	}
	return out, rows.Err()
}

func (s *SQLite) SetLastSeen(ctx context.Context, feedID, lastSeen int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE feed SET last_seen = ? WHERE feedid = ?`, lastSeen, feedID)
	if err != nil {
		return fmt.Errorf("set last_seen: %w", err)
	}
	return nil
}

func (s *SQLite) SetLastScan(ctx context.Context, feedID, lastScan int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE feed SET last_scan = ? WHERE feedid = ?`, lastScan, feedID)
	if err != nil {
		return fmt.Errorf("set last_scan: %w", err)
	}
	return nil
}

func (s *SQLite) LastSeen(ctx context.Context, feedID int64) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(last_seen, 0) FROM feed WHERE feedid = ?`, feedID).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("last_seen: %w", err)
	}
	return v, nil
}

func (s *SQLite) LastScan(ctx context.Context, feedID int64) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(last_scan, 0) FROM feed WHERE feedid = ?`, feedID).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("last_scan: %w", err)
	}
	return v, nil
}

func (s *SQLite) ChangesSince(ctx context.Context, since int64, fn func(*models.Story) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT site, siteid, updated, scanned, added, status, content
		FROM story
		WHERE updated >= ?
		ORDER BY scanned, updated
	`, since)
	if err != nil {
		return fmt.Errorf("changes since: %w", err)
	}
	defer rows.Close()
	return scanStoryRows(rows, fn)
}

func (s *SQLite) FeedStories(ctx context.Context, feedID int64, fn func(*models.Story) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT site, siteid, updated, scanned, added, status, content
		FROM story
		JOIN feed_story USING (storyid)
		WHERE feedid = ?
		ORDER BY site, siteid
	`, feedID)
	if err != nil {
		return fmt.Errorf("feed stories: %w", err)
	}
	defer rows.Close()
	return scanStoryRows(rows, fn)
}

func scanStoryRows(rows *sql.Rows, fn func(*models.Story) error) error {
	for rows.Next() {
		var (
			site    string
			siteID  int64
			meta    models.StoryMeta
			content string
		)
		if err := rows.Scan(&site, &siteID, &meta.Updated, &meta.Scanned, &meta.Added, &meta.Status, &content); err != nil {
			return fmt.Errorf("scan story row: %w", err)
		}
		story, err := decodeContent(site, siteID, content, meta)
		if err != nil {
			return err
		}
		if err := fn(story); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLite) Subscribe() *Subscription {
	return s.bcast.Subscribe()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
