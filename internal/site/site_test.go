package site

import (
	"testing"
)

const ao3Fixture = `<html><head><base href="https://archiveofourown.org/"></head><body>
<ol class="work index group">
<li role="article">
  <div class="header module">
    <h4 class="heading">
      <a href="/works/12345">The Longest Night</a>
      by <a rel="author" href="/users/writer/pseuds/writer">writer (someuser)</a>
    </h4>
    <h5 class="fandoms heading"><a class="tag" href="/tags/Testing">Testing Fandom</a></h5>
    <ul class="required-tags">
      <li><a><span class="rating" title="Teen And Up Audiences"></span></a></li>
      <li><a><span class="category" title="Gen"></span></a></li>
      <li><a><span class="iswip" title="Work in Progress"></span></a></li>
    </ul>
    <p class="datetime">12 Mar 2024</p>
  </div>
  <ul class="tags commas">
    <li class="relationships"><a class="tag">Alice &amp; Bob</a></li>
    <li class="freeforms last"><a class="tag">Slow Burn</a></li>
  </ul>
  <blockquote class="summary"><p>A long night indeed.</p></blockquote>
  <dl class="stats">
    <dd class="language">English</dd>
    <dd class="words">12,345</dd>
    <dd class="chapters">3/?</dd>
    <dd class="comments"><a>7</a></dd>
    <dd class="kudos"><a>101</a></dd>
    <dd class="hits">2,000</dd>
  </dl>
</li>
</ol>
<a rel="next" href="/works?page=2">Next</a>
</body></html>`

func TestAO3ParseScan(t *testing.T) {
	s, err := ForEngine("ao3", "")
	if err != nil {
		t.Fatal(err)
	}
	page, err := s.ParseScan("https://archiveofourown.org/works", []byte(ao3Fixture), "")
	if err != nil {
		t.Fatal(err)
	}
	if page.NextPage != "https://archiveofourown.org/works?page=2" {
		t.Fatalf("nextPage = %q", page.NextPage)
	}
	if len(page.Stories) != 1 {
		t.Fatalf("stories = %d, want 1", len(page.Stories))
	}
	st := page.Stories[0]
	if st.SiteID != 12345 || st.Title != "The Longest Night" {
		t.Fatalf("story = %+v", st)
	}
	if st.Link != "https://archiveofourown.org/works/12345" {
		t.Fatalf("link = %q", st.Link)
	}
	if len(st.Authors) != 1 || st.Authors[0].Name != "writer" {
		t.Fatalf("authors = %v, want pseudonym suffix stripped", st.Authors)
	}
	if st.Status != "in-progress" {
		t.Fatalf("status = %q", st.Status)
	}
	if st.Words != 12345 || st.ChapterCount != 3 || st.MaxChapterCount != 0 {
		t.Fatalf("counts = %d/%d/%d", st.Words, st.ChapterCount, st.MaxChapterCount)
	}
	if st.Updated == 0 {
		t.Fatal("updated not parsed from datetime")
	}
	if st.Stats["kudos"] != 101 || st.Stats["hits"] != 2000 {
		t.Fatalf("stats = %v", st.Stats)
	}
	wantTags := map[string]bool{
		"fandom:Testing Fandom": true,
		"category:Gen":          true,
		"friendship:Alice & Bob": true,
		"freeform:Slow Burn":    true,
	}
	for _, tag := range st.Tags {
		delete(wantTags, tag)
	}
	if len(wantTags) != 0 {
		t.Fatalf("missing tags %v in %v", wantTags, st.Tags)
	}
}

const wattpadFixture = `{
  "nextUrl": "https://www.wattpad.com/v4/search/stories/?query=test&offset=100",
  "stories": [
    {
      "id": 777, "title": " Skyfall ", "voteCount": 9, "readCount": 400,
      "commentCount": 2, "description": "line one\nline two",
      "mature": true, "completed": true, "cover": "https://img/777.jpg",
      "numParts": 12, "tags": ["adventure"],
      "user": {"name": "skywriter"},
      "lastPublishedPart": {"createDate": "2024-03-12T10:00:00Z"}
    },
    {
      "id": 778, "title": "No dates", "user": {"name": "x"},
      "lastPublishedPart": {"createDate": ""}
    }
  ]
}`

func TestWattpadParseScan(t *testing.T) {
	s, err := ForEngine("wattpad", "")
	if err != nil {
		t.Fatal(err)
	}
	page, err := s.ParseScan("https://www.wattpad.com/search/test", []byte(wattpadFixture), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Stories) != 1 {
		t.Fatalf("stories = %d, want 1 (dateless entries dropped)", len(page.Stories))
	}
	st := page.Stories[0]
	if st.SiteID != 777 || st.Title != "Skyfall" {
		t.Fatalf("story = %+v", st)
	}
	if st.Rating != "Explicit" || st.Status != "complete" {
		t.Fatalf("rating/status = %q/%q", st.Rating, st.Status)
	}
	if st.Summary != "line one<br>\nline two" {
		t.Fatalf("summary = %q", st.Summary)
	}
	if st.Authors[0].Link != "https://www.wattpad.com/user/skywriter" {
		t.Fatalf("author link = %q", st.Authors[0].Link)
	}
}

func TestWattpadFetchLink(t *testing.T) {
	s, _ := ForEngine("wattpad", "")
	got := s.FetchLink("https://www.wattpad.com/search/dragons")
	if got == "https://www.wattpad.com/search/dragons" {
		t.Fatal("search link not transformed to the JSON API")
	}
	if want := "https://www.wattpad.com/v4/search/stories/?query=dragons"; len(got) < len(want) || got[:len(want)] != want {
		t.Fatalf("fetch link = %q", got)
	}
}

func TestForEngineAutoDetect(t *testing.T) {
	s, err := ForEngine("auto", "https://archiveofourown.org/tags/Testing/works")
	if err != nil {
		t.Fatal(err)
	}
	if s.Name() != "ao3" {
		t.Fatalf("detected %q, want ao3", s.Name())
	}
	if _, err := ForEngine("", "https://example.com/feed"); err == nil {
		t.Fatal("expected error for unknown host")
	}
	if _, err := ForEngine("nope", ""); err == nil {
		t.Fatal("expected error for unknown engine")
	}
}

func TestNormalizeLink(t *testing.T) {
	got := normalizeLink("/works?page=2", "http://archiveofourown.org/works")
	if got != "https://archiveofourown.org/works?page=2" {
		t.Fatalf("normalizeLink = %q", got)
	}
	if normalizeLink("", "https://x") != "" {
		t.Fatal("empty href must stay empty")
	}
}
