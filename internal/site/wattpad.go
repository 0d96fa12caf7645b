package site

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"storyscan/pkg/models"
)

func init() {
	register(&wattpad{})
}

// wattpad reads the JSON search API behind Wattpad's human search pages.
type wattpad struct{}

func (w *wattpad) Name() string { return "wattpad" }

func (w *wattpad) matchesHost(host string) bool {
	return strings.Contains(host, "wattpad.com")
}

var wattpadSearch = regexp.MustCompile(`https://www[.]wattpad[.]com/search/(.*)`)

// FetchLink transforms a human search into the internal JSON API search; the
// page returned by the human search URL requests this endpoint itself.
func (w *wattpad) FetchLink(link string) string {
	return wattpadSearch.ReplaceAllString(link,
		"https://www.wattpad.com/v4/search/stories/?query=$1&mature=true&limit=100"+
			"&fields=stories(id%2Ctitle%2CvoteCount%2CreadCount%2CcommentCount%2Cdescription"+
			"%2Cmature%2Ccompleted%2Ccover%2Curl%2CnumParts%2Cuser(name)%2ClastPublishedPart(createDate)"+
			"%2Ctags)%2Ctotal%2CnextUrl")
}

func (w *wattpad) LinkFromID(siteID int64) string {
	return fmt.Sprintf("https://www.wattpad.com/story/%d", siteID)
}

func (w *wattpad) NewAuthor(name, href, base string) models.Author {
	return models.Author{Name: name, Link: normalizeLink(href, base)}
}

type wattpadResponse struct {
	NextURL string `json:"nextUrl"`
	Stories []struct {
		ID           int64    `json:"id"`
		Title        string   `json:"title"`
		VoteCount    int64    `json:"voteCount"`
		ReadCount    int64    `json:"readCount"`
		CommentCount int64    `json:"commentCount"`
		Description  string   `json:"description"`
		Mature       bool     `json:"mature"`
		Completed    bool     `json:"completed"`
		Cover        string   `json:"cover"`
		NumParts     int      `json:"numParts"`
		Tags         []string `json:"tags"`
		User         struct {
			Name string `json:"name"`
		} `json:"user"`
		LastPublishedPart struct {
			CreateDate string `json:"createDate"`
		} `json:"lastPublishedPart"`
	} `json:"stories"`
}

func (w *wattpad) ParseScan(pageLink string, body []byte, pageAnchor string) (*Page, error) {
	var resp wattpadResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("wattpad: decode search response: %w", err)
	}

	page := &Page{NextPage: normalizeLink(resp.NextURL, pageLink)}

	for _, raw := range resp.Stories {
		// entries without date data are unusable for freshness tracking
		if raw.LastPublishedPart.CreateDate == "" {
			continue
		}
		when, err := time.Parse(time.RFC3339, raw.LastPublishedPart.CreateDate)
		if err != nil {
			continue
		}

		story := &models.Story{
			Site:         w.Name(),
			SiteID:       raw.ID,
			Link:         w.LinkFromID(raw.ID),
			Updated:      when.Unix(),
			Title:        strings.TrimSpace(raw.Title),
			Summary:      normalizeSummary(raw.Description),
			ChapterCount: raw.NumParts,
			Cover:        raw.Cover,
			Tags:         append([]string(nil), raw.Tags...),
			Stats: map[string]int64{
				"comments": raw.CommentCount,
				"kudos":    raw.VoteCount,
				"hits":     raw.ReadCount,
			},
		}
		story.AddAuthor(models.Author{
			Name: raw.User.Name,
			Link: "https://www.wattpad.com/user/" + raw.User.Name,
		})
		if raw.Mature {
			story.Rating = "Explicit"
		}
		if raw.Completed {
			story.Status = "complete"
		} else {
			story.Status = "in-progress"
		}
		page.Stories = append(page.Stories, story)
	}

	return page, nil
}

var summaryEdges = regexp.MustCompile(`(?m)^\s+|\s+$`)

func normalizeSummary(desc string) string {
	desc = strings.ReplaceAll(desc, "<", "&lt;")
	desc = strings.ReplaceAll(desc, "\n", "<br>\n")
	return summaryEdges.ReplaceAllString(desc, "")
}
