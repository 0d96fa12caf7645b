package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"storyscan/pkg/models"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS feed (
    feedid BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    tags JSONB NOT NULL DEFAULT '[]',
    last_seen BIGINT,
    last_scan BIGINT
);

CREATE TABLE IF NOT EXISTS story (
    storyid BIGSERIAL PRIMARY KEY,
    site VARCHAR(40) NOT NULL,
    siteid BIGINT NOT NULL,
    updated BIGINT NOT NULL,
    scanned BIGINT NOT NULL,
    added BIGINT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    content JSONB NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_story_identity ON story (site, siteid);
CREATE INDEX IF NOT EXISTS idx_story_changes ON story (updated, scanned);

CREATE TABLE IF NOT EXISTS feed_story (
    feedid BIGINT NOT NULL REFERENCES feed(feedid) ON DELETE CASCADE,
    storyid BIGINT NOT NULL REFERENCES story(storyid) ON DELETE CASCADE,
    PRIMARY KEY (feedid, storyid)
);
`

// Postgres is the pgx-backed Store. The system still assumes a single writer
// process, so merges are serialized per key in process, same as sqlite.
type Postgres struct {
	pool  *pgxpool.Pool
	bcast *broadcaster
	keys  keyLocks
}

func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	return &Postgres{pool: pool, bcast: newBroadcaster()}, nil
}

func (p *Postgres) AddFeed(ctx context.Context, name string, tags []string) (int64, error) {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return 0, fmt.Errorf("marshal feed tags: %w", err)
	}
	var feedID int64
	err = p.pool.QueryRow(ctx, `
		INSERT INTO feed (name, tags) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET tags = EXCLUDED.tags
		RETURNING feedid
	`, name, string(tagsJSON)).Scan(&feedID)
	if err != nil {
		return 0, fmt.Errorf("upsert feed %q: %w", name, err)
	}
	return feedID, nil
}

func (p *Postgres) Merge(ctx context.Context, feedID int64, story *models.Story) (*models.Story, error) {
	if story.Site == "" || story.SiteID == 0 {
		return nil, fmt.Errorf("merge: story has no site identity")
	}

	mu := p.keys.lock(story.Site, story.SiteID)
	mu.Lock()
	defer mu.Unlock()

	cand := candidateMeta(story, time.Now().Unix())

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		storyID int64
		meta    models.StoryMeta
		content string
	)
	err = tx.QueryRow(ctx, `
		SELECT storyid, updated, scanned, added, status, content
		FROM story
		WHERE site = $1 AND siteid = $2
	`, story.Site, story.SiteID).Scan(&storyID, &meta.Updated, &meta.Scanned, &meta.Added, &meta.Status, &content)

	var merged *models.Story
	publish := false

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		contentJSON, err := encodeContent(story)
		if err != nil {
			return nil, err
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO story (site, siteid, updated, scanned, added, status, content)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING storyid
		`, story.Site, story.SiteID, cand.Updated, cand.Scanned, cand.Added, cand.Status, contentJSON).Scan(&storyID)
		if err != nil {
			return nil, fmt.Errorf("insert story %s/%d: %w", story.Site, story.SiteID, err)
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

		if cand.Updated < meta.Updated {
			if err := p.ensureAssoc(ctx, tx, feedID, storyID); err != nil {
				return nil, err
			}
			if err := tx.Commit(ctx); err != nil {
				return nil, fmt.Errorf("commit: %w", err)
			}
			return existing, nil
		}

		newMeta := meta
		newMeta.Updated = cand.Updated
		if cand.Scanned >= meta.Scanned {
			newMeta.Scanned = cand.Scanned
		}
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
		if _, err := tx.Exec(ctx, `
			UPDATE story SET updated = $1, scanned = $2, status = $3, content = $4
			WHERE storyid = $5
		`, newMeta.Updated, newMeta.Scanned, newMeta.Status, newContent, storyID); err != nil {
			return nil, fmt.Errorf("update story %s/%d: %w", story.Site, story.SiteID, err)
		}
		metaCopy := newMeta
		merged.DB = &metaCopy
		merged.Updated = newMeta.Updated
		publish = true
	}

	if err := p.ensureAssoc(ctx, tx, feedID, storyID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	if publish {
		p.bcast.publish(merged)
	}
	return merged, nil
}

func (p *Postgres) ensureAssoc(ctx context.Context, tx pgx.Tx, feedID, storyID int64) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO feed_story (feedid, storyid) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, feedID, storyID); err != nil {
		return fmt.Errorf("associate story %d with feed %d: %w", storyID, feedID, err)
	}
	return nil
}

func (p *Postgres) GetByIDs(ctx context.Context, feedID int64, site string, ids []int64) ([]*models.Story, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `
		SELECT siteid, updated, scanned, added, status, content
		FROM story
		JOIN feed_story USING (storyid)
		WHERE feedid = $1 AND site = $2 AND siteid = ANY($3)
	`, feedID, site, ids)
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

func (p *Postgres) SetLastSeen(ctx context.Context, feedID, lastSeen int64) error {
	if _, err := p.pool.Exec(ctx, `UPDATE feed SET last_seen = $1 WHERE feedid = $2`, lastSeen, feedID); err != nil {
		return fmt.Errorf("set last_seen: %w", err)
	}
	return nil
}

func (p *Postgres) SetLastScan(ctx context.Context, feedID, lastScan int64) error {
	if _, err := p.pool.Exec(ctx, `UPDATE feed SET last_scan = $1 WHERE feedid = $2`, lastScan, feedID); err != nil {
		return fmt.Errorf("set last_scan: %w", err)
	}
	return nil
}

func (p *Postgres) LastSeen(ctx context.Context, feedID int64) (int64, error) {
	var v int64
	if err := p.pool.QueryRow(ctx, `SELECT COALESCE(last_seen, 0) FROM feed WHERE feedid = $1`, feedID).Scan(&v); err != nil {
		return 0, fmt.Errorf("last_seen: %w", err)
	}
	return v, nil
}

func (p *Postgres) LastScan(ctx context.Context, feedID int64) (int64, error) {
	var v int64
	if err := p.pool.QueryRow(ctx, `SELECT COALESCE(last_scan, 0) FROM feed WHERE feedid = $1`, feedID).Scan(&v); err != nil {
		return 0, fmt.Errorf("last_scan: %w", err)
	}
	return v, nil
}

func (p *Postgres) ChangesSince(ctx context.Context, since int64, fn func(*models.Story) error) error {
	rows, err := p.pool.Query(ctx, `
		SELECT site, siteid, updated, scanned, added, status, content
		FROM story
		WHERE updated >= $1
		ORDER BY scanned, updated
	`, since)
	if err != nil {
		return fmt.Errorf("changes since: %w", err)
	}
	defer rows.Close()
	return scanPGStoryRows(rows, fn)
}

func (p *Postgres) FeedStories(ctx context.Context, feedID int64, fn func(*models.Story) error) error {
	rows, err := p.pool.Query(ctx, `
		SELECT site, siteid, updated, scanned, added, status, content
		FROM story
		JOIN feed_story USING (storyid)
		WHERE feedid = $1
		ORDER BY site, siteid
	`, feedID)
	if err != nil {
		return fmt.Errorf("feed stories: %w", err)
	}
	defer rows.Close()
	return scanPGStoryRows(rows, fn)
}

func scanPGStoryRows(rows pgx.Rows, fn func(*models.Story) error) error {
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

func (p *Postgres) Subscribe() *Subscription {
	return p.bcast.Subscribe()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
