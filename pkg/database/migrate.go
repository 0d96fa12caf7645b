package database

import (
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS feed (
    feedid INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    tags TEXT NOT NULL DEFAULT '[]',
    last_seen INTEGER,
    last_scan INTEGER
);

CREATE TABLE IF NOT EXISTS story (
    storyid INTEGER PRIMARY KEY AUTOINCREMENT,
    site TEXT NOT NULL,
    siteid INTEGER NOT NULL,
    updated INTEGER NOT NULL,
    scanned INTEGER NOT NULL,
    added INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    content TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_story_identity ON story (site, siteid);
CREATE INDEX IF NOT EXISTS idx_story_changes ON story (updated, scanned);

CREATE TABLE IF NOT EXISTS feed_story (
    feedid INTEGER NOT NULL,
    storyid INTEGER NOT NULL,
    PRIMARY KEY (feedid, storyid),
    FOREIGN KEY (feedid) REFERENCES feed(feedid) ON DELETE CASCADE,
    FOREIGN KEY (storyid) REFERENCES story(storyid) ON DELETE CASCADE
);
`

func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Reset drops and recreates all tables.
func Reset(db *sql.DB) error {
	drop := `
		DROP TABLE IF EXISTS feed_story;
		DROP TABLE IF EXISTS story;
		DROP TABLE IF EXISTS feed;
	`
	if _, err := db.Exec(drop); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	return Migrate(db)
}
