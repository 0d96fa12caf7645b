// Package store is the canonical story store: deduplicated records keyed by
// (site, siteID), per-feed watermarks, and a change-notification feed.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"storyscan/pkg/models"
)

// Store is implemented by each persistence backend (sqlite, postgres).
type Store interface {
	// AddFeed upserts a feed by name and returns its id.
	AddFeed(ctx context.Context, name string, tags []string) (int64, error)

	// Merge inserts or updates the canonical record for story and returns
	// the stored state after the operation. Stale candidates (updated older
	// than stored) change nothing and publish no event. The feed↔story
	// association is ensured either way.
	Merge(ctx context.Context, feedID int64, story *models.Story) (*models.Story, error)

	// GetByIDs returns the stories with the given site ids that are already
	// associated with the feed.
	GetByIDs(ctx context.Context, feedID int64, site string, ids []int64) ([]*models.Story, error)

	SetLastSeen(ctx context.Context, feedID, lastSeen int64) error
	SetLastScan(ctx context.Context, feedID, lastScan int64) error
	LastSeen(ctx context.Context, feedID int64) (int64, error)
	LastScan(ctx context.Context, feedID int64) (int64, error)

	// ChangesSince calls fn for every story with updated >= since, ordered
	// by (scanned, updated) ascending.
	ChangesSince(ctx context.Context, since int64, fn func(*models.Story) error) error

	// FeedStories calls fn for every story associated with the feed,
	// ordered by (site, siteID). Used for snapshots.
	FeedStories(ctx context.Context, feedID int64, fn func(*models.Story) error) error

	// Subscribe returns a handle receiving every future change event.
	Subscribe() *Subscription

	Ping(ctx context.Context) error
	Close() error
}

// Open picks a backend from the DSN: postgres:// or postgresql:// selects
// the pgx backend, anything else is treated as a sqlite path.
func Open(ctx context.Context, dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return OpenPostgres(ctx, dsn)
	}
	return OpenSQLite(dsn)
}

// Subscription receives change events until cancelled. Cancelling one
// subscription does not affect others.
type Subscription struct {
	id uuid.UUID
	ch chan *models.Story
	b  *broadcaster
}

// Events yields merged stories in emission order. The channel closes when
// the subscription is cancelled or evicted.
func (s *Subscription) Events() <-chan *models.Story {
	return s.ch
}

func (s *Subscription) Cancel() {
	s.b.cancel(s.id)
}

// subscriberBuffer is how many undelivered events a subscriber may lag
// before it is evicted.
const subscriberBuffer = 1024

type broadcaster struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*Subscription
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[uuid.UUID]*Subscription)}
}

func (b *broadcaster) Subscribe() *Subscription {
	sub := &Subscription{
		id: uuid.New(),
		ch: make(chan *models.Story, subscriberBuffer),
		b:  b,
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

func (b *broadcaster) cancel(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// publish delivers to every subscriber. A subscriber whose buffer is full is
// evicted rather than blocking the merge path.
func (b *broadcaster) publish(story *models.Story) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- story:
		default:
			log.Printf("[store] dropping slow subscriber %s", id)
			delete(b.subs, id)
			close(sub.ch)
		}
	}
}

// keyLocks serializes merges per (site, siteID) so the freshness-gate
// read-then-write is atomic per key while distinct keys proceed in parallel.
type keyLocks struct {
	locks sync.Map // string -> *sync.Mutex
}

func (k *keyLocks) lock(site string, siteID int64) *sync.Mutex {
	key := site + "/" + strconv.FormatInt(siteID, 10)
	mu, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// encodeContent serializes the site-reported content of a story, without the
// store-managed metadata.
func encodeContent(story *models.Story) (string, error) {
	c := story.Clone()
	c.DB = nil
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal story content: %w", err)
	}
	return string(raw), nil
}

// decodeContent rebuilds a story from its content column plus the metadata
// columns.
func decodeContent(site string, siteID int64, content string, meta models.StoryMeta) (*models.Story, error) {
	var story models.Story
	if err := json.Unmarshal([]byte(content), &story); err != nil {
		return nil, fmt.Errorf("unmarshal story content: %w", err)
	}
	story.Site = site
	story.SiteID = siteID
	story.DB = &meta
	return &story, nil
}

// candidateMeta resolves the metadata a candidate brings to a merge,
// defaulting the rest to now.
func candidateMeta(story *models.Story, now int64) models.StoryMeta {
	meta := models.StoryMeta{
		Added:   now,
		Updated: story.Updated,
		Scanned: now,
		Status:  models.StatusActive,
	}
	if story.DB == nil {
		return meta
	}
	if story.DB.Added != 0 {
		meta.Added = story.DB.Added
	}
	if story.Updated == 0 && story.DB.Updated != 0 {
		meta.Updated = story.DB.Updated
	}
	if story.DB.Scanned != 0 {
		meta.Scanned = story.DB.Scanned
	}
	if story.DB.Status != "" {
		meta.Status = story.DB.Status
	}
	return meta
}
