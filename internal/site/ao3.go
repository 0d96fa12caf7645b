package site

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"storyscan/pkg/models"
)

func init() {
	register(&ao3{})
}

// ao3 parses Archive of Our Own work listings.
type ao3 struct{}

func (a *ao3) Name() string { return "ao3" }

func (a *ao3) matchesHost(host string) bool {
	return strings.Contains(host, "archiveofourown.org")
}

func (a *ao3) FetchLink(link string) string { return link }

func (a *ao3) LinkFromID(siteID int64) string {
	return fmt.Sprintf("https://archiveofourown.org/works/%d", siteID)
}

func (a *ao3) NewAuthor(name, href, base string) models.Author {
	return models.Author{Name: name, Link: normalizeLink(href, base)}
}

var (
	ao3WorkID = regexp.MustCompile(`/(?:works|series)/(\d+)`)
	// AO3 lists names as Pseudonym (Username); the username part is noise.
	ao3Pseud = regexp.MustCompile(` [(].*[)]$`)
)

func (a *ao3) ParseScan(pageLink string, body []byte, pageAnchor string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ao3: parse page: %w", err)
	}

	base := doc.Find("base").AttrOr("href", pageLink)
	page := &Page{
		NextPage: normalizeLink(doc.Find("a[rel=next]").AttrOr("href", ""), base),
	}

	doc.Find("ol > li[role=article]").Each(func(_ int, item *goquery.Selection) {
		titleLink := item.Find(".header .heading a").First()
		match := ao3WorkID.FindStringSubmatch(titleLink.AttrOr("href", ""))
		if match == nil {
			return
		}
		siteID, _ := strconv.ParseInt(match[1], 10, 64)

		story := &models.Story{
			Site:   a.Name(),
			SiteID: siteID,
			Link:   a.LinkFromID(siteID),
			Title:  strings.TrimSpace(titleLink.Text()),
			Stats:  map[string]int64{},
		}

		item.Find(`.header .heading a[rel="author"]`).Each(func(_ int, author *goquery.Selection) {
			name := ao3Pseud.ReplaceAllString(strings.TrimSpace(author.Text()), "")
			story.AddAuthor(a.NewAuthor(name, author.AttrOr("href", ""), base))
		})

		item.Find(".fandoms a.tag").Each(func(_ int, fandom *goquery.Selection) {
			story.Tags = append(story.Tags, "fandom:"+fandom.Text())
		})

		story.Rating = strings.TrimSpace(item.Find(".rating").AttrOr("title", ""))
		if category := strings.TrimSpace(item.Find(".category").AttrOr("title", "")); category != "" {
			story.Tags = append(story.Tags, "category:"+category)
		}

		switch strings.TrimSpace(item.Find(".iswip").AttrOr("title", "")) {
		case "Work in Progress":
			story.Status = "in-progress"
		case "Complete Work":
			story.Status = "complete"
		}

		if when, err := time.ParseInLocation("2 Jan 2006", strings.TrimSpace(item.Find(".header .datetime").Text()), time.UTC); err == nil {
			story.Updated = when.Unix()
		}

		item.Find(".tags li").Each(func(_ int, tag *goquery.Selection) {
			tagType := strings.TrimSuffix(strings.Replace(tag.AttrOr("class", ""), " last", "", 1), "s")
			tagName := strings.TrimSpace(tag.Find(".tag").Text())
			if tagName == "Friendship - Relationship" {
				return
			}
			if tagName == "Abandoned Work - Unfinished and Discontinued" {
				story.Status = "abandoned"
				return
			}
			if tagType == "relationship" {
				if strings.Contains(tagName, " & ") {
					tagType = "friendship"
				} else {
					tagType = "ship"
				}
			}
			story.Tags = append(story.Tags, tagType+":"+tagName)
		})

		if summary, err := item.Find(".summary").Html(); err == nil && summary != "" {
			story.Summary = strings.TrimSpace(summary)
		}
		story.Language = strings.TrimSpace(item.Find("dd.language").Text())
		story.Words = num(item.Find("dd.words").Text())

		chapters := strings.Split(item.Find("dd.chapters").Text(), "/")
		story.ChapterCount = num(chapters[0])
		if len(chapters) > 1 {
			story.MaxChapterCount = num(chapters[1])
		}

		for key, sel := range map[string]string{
			"comments":    "dd.comments",
			"kudos":       "dd.kudos",
			"hits":        "dd.hits",
			"bookmarks":   "dd.bookmarks",
			"collections": "dd.collections",
		} {
			if v := num(item.Find(sel).Text()); v != 0 {
				story.Stats[key] = int64(v)
			}
		}

		page.Stories = append(page.Stories, story)
	})

	return page, nil
}
