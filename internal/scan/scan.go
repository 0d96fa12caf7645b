// Package scan implements the incremental walk of one feed's listing pages.
package scan

import (
	"context"
	"fmt"
	"net/url"

	"storyscan/internal/config"
	"storyscan/internal/fetch"
	"storyscan/internal/site"
	"storyscan/internal/store"
	"storyscan/pkg/models"
)

// Update walks the feed's pages from its configured link, merging admitted
// stories into the store, until the pages run out or a whole page holds
// nothing newer than the previous scan's high-water mark. Listing feeds are
// assumed newest-first; the early stop is a heuristic on that assumption,
// not a protocol guarantee.
//
// A fetch or parse failure aborts the scan; stories merged from earlier
// pages stay merged.
func Update(ctx context.Context, fetchFn fetch.Func, st store.Store, feedID int64, feed *config.Feed, adapter site.Site) error {
	lastSeen, err := st.LastSeen(ctx, feedID)
	if err != nil {
		return err
	}
	// the previous completed scan's mark, held constant for this scan
	newerThan := lastSeen

	pageAnchor := ""
	if u, err := url.Parse(feed.Link); err == nil {
		pageAnchor = u.Fragment
	}

	var forced []models.Author
	for _, au := range feed.Authors {
		forced = append(forced, adapter.NewAuthor(au.Name, au.Link, ""))
	}

	nextPage := feed.Link
	for nextPage != "" {
		body, err := fetchFn(ctx, adapter.FetchLink(nextPage))
		if err != nil {
			return fmt.Errorf("feed %s: %w", feed.Name, err)
		}
		page, err := adapter.ParseScan(nextPage, body, pageAnchor)
		if err != nil {
			return fmt.Errorf("feed %s: %w", feed.Name, err)
		}

		ids := make([]int64, 0, len(page.Stories))
		for _, story := range page.Stories {
			if story.SiteID != 0 {
				ids = append(ids, story.SiteID)
			}
		}
		known, err := st.GetByIDs(ctx, feedID, adapter.Name(), ids)
		if err != nil {
			return fmt.Errorf("feed %s: %w", feed.Name, err)
		}
		existing := make(map[int64]*models.Story, len(known))
		for _, story := range known {
			existing[story.SiteID] = story
		}

		nextPage = page.NextPage
		sawAnyNewer := false
		for _, story := range page.Stories {
			for _, au := range forced {
				story.AddAuthor(au)
			}
			if story.Updated > newerThan {
				sawAnyNewer = true
			}
			if story.Updated > lastSeen {
				lastSeen = story.Updated
			}
			if story.SiteID == 0 {
				continue
			}
			prior := existing[story.SiteID]

			// no changes, skip
			if prior != nil && story.ContentEqual(prior) {
				continue
			}

			// admit stories this feed already tracks (to refresh watermarks
			// and status), plus anything passing a configured filter; the
			// rest are never force-added by this feed
			if prior == nil && !admitted(feed, story) {
				continue
			}

			if _, err := st.Merge(ctx, feedID, story); err != nil {
				return fmt.Errorf("feed %s: %w", feed.Name, err)
			}
		}

		// a full page of non-newer items means older pages hold nothing new
		if newerThan != 0 && !sawAnyNewer {
			break
		}
	}

	if lastSeen > newerThan {
		if err := st.SetLastSeen(ctx, feedID, lastSeen); err != nil {
			return fmt.Errorf("feed %s: %w", feed.Name, err)
		}
	}
	return nil
}

// admitted applies the feed's filters to a story it does not track yet. A
// feed with no filters admits everything; otherwise any configured filter
// matching is enough.
func admitted(feed *config.Feed, story *models.Story) bool {
	if feed.TagFilter == nil && feed.EntryFilter == nil {
		return true
	}
	if feed.TagFilter != nil && story.TagMatch(feed.TagFilter) {
		return true
	}
	return feed.EntryFilter != nil && story.EntryMatch(feed.EntryFilter)
}
