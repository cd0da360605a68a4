package resolve

import (
	"context"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// scraper is the last-resort resolution path: fetch the page HTML and
// look for direct media URLs and Open Graph metadata with regexes.
type scraper struct {
	client *http.Client
	log    *zap.SugaredLogger
}

func newScraper() *scraper {
	return &scraper{
		client: &http.Client{Timeout: 30 * time.Second},
		log:    zap.S().Named("scrape"),
	}
}

var (
	ogTitlePattern    = regexp.MustCompile(`<meta [^>]*property=["']og:title["'] [^>]*content=["']([^'"]+?)["'][^>]*>`)
	ogDescPattern     = regexp.MustCompile(`<meta [^>]*property=["']og:description["'] [^>]*content=["']([^'"]+?)["'][^>]*>`)
	titleTagPattern   = regexp.MustCompile(`<title>(.*?)</title>`)
	pageTokenPattern  = regexp.MustCompile(`['"]?([^'" >]+)`)
	contentURLPattern = regexp.MustCompile(`contentURL":"([^"]+)"`)
)

const maxPageBytes = 8 << 20

// sourceLinks fetches the page and returns its best-guess title and every
// candidate media URL found in the markup. A network failure is terminal
// for this call: it returns no candidates rather than an error.
func (s *scraper) sourceLinks(ctx context.Context, pageURL string) (title string, candidates []string) {
	title = "No title (missing)"

	// Single-post embeds carry the media element; bare post pages often
	// don't.
	if strings.Contains(pageURL, "://t.me") && !strings.Contains(pageURL, "embed=1") {
		pageURL += "?embed=1"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return title, nil
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warnw("unable to fetch page", "url", pageURL, "err", err)
		return title, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		s.log.Warnw("unable to read page body", "url", pageURL, "err", err)
		return title, nil
	}
	page := string(body)

	title = pageTitle(page)

	if strings.Contains(pageURL, "://t.me") && strings.Contains(page, "grouped_media") {
		s.log.Warnw("post contains multiple videos, link an individual page", "url", pageURL)
		return "Multiple videos on page", nil
	}

	if m := contentURLPattern.FindStringSubmatch(page); m != nil && strings.Count(m[1], "://") == 1 {
		candidates = append(candidates, unescapeURL(m[1]))
	}

	for _, m := range pageTokenPattern.FindAllStringSubmatch(page, -1) {
		token := m[1]
		lower := strings.ToLower(token)
		if strings.HasSuffix(lower, ".mp4") || (strings.Contains(lower, "http") && strings.Contains(lower, ".mp4")) {
			candidates = append(candidates, unescapeURL(token))
		}
	}

	return title, candidates
}

func pageTitle(page string) string {
	if m := ogTitlePattern.FindStringSubmatch(page); m != nil {
		return html.UnescapeString(m[1])
	}
	if m := titleTagPattern.FindStringSubmatch(page); m != nil {
		return html.UnescapeString(m[1])
	}
	if m := ogDescPattern.FindStringSubmatch(page); m != nil {
		return html.UnescapeString(m[1])
	}
	return "No title (mp4)"
}

func unescapeURL(s string) string {
	s = strings.ReplaceAll(s, `\/`, `/`)
	return html.UnescapeString(s)
}

// Quality heuristic for ranking scraped candidate URLs: explicit
// resolution tags score high, proper containers add a bonus, manifest and
// preview URLs are penalized.
var qualityPoints = []struct {
	tag   string
	score int
}{
	{"1080p", 6}, {"1080", 5},
	{"720p", 5}, {"720", 4},
	{"540p", 3}, {"540", 3},
	{"360p", 2}, {"360", 2},
	{"280p", 1}, {"280", 1},
	{"270p", 1}, {"270", 1},
	{"hq", 5}, {"hd", 4},
	{"high", 5}, {"hi", 2},
	{"medium", 3}, {"med", 2},
}

func scoreCandidate(rawURL string) int {
	lower := strings.ToLower(rawURL)
	best := 0
	for _, p := range qualityPoints {
		if strings.Contains(lower, p.tag) && p.score > best {
			best = p.score
		}
	}
	switch {
	case strings.Contains(lower, ".mp4"):
		best += 10
	case strings.Contains(lower, "mp4"):
		best += 5
	case strings.Contains(lower, ".mkv"), strings.Contains(lower, ".ogv"):
		best += 3
	}
	switch {
	case strings.HasSuffix(lower, ".m3u8"), strings.HasSuffix(lower, ".f4m"),
		strings.Contains(lower, ".m3u8?"), strings.Contains(lower, ".m3u8&"):
		best = best / 4
	case strings.Contains(lower, ".m3u8"):
		best = best / 2
	}
	if strings.Contains(lower, "preview") {
		best = best / 10
	}
	return best
}

// bestCandidate returns the highest-scoring URL, keeping the earliest on
// ties.
func bestCandidate(candidates []string) string {
	best := candidates[0]
	bestScore := scoreCandidate(best)
	for _, c := range candidates[1:] {
		if score := scoreCandidate(c); score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}
