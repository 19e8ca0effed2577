package sources

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const wikipediaBase = "https://en.wikipedia.org"

// Wikipedia finds the lead image of the best matching encyclopedia page.
type Wikipedia struct {
	base      string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
	log       zerolog.Logger
}

func NewWikipedia(base, userAgent string, client *http.Client, limiter *rate.Limiter, log zerolog.Logger) *Wikipedia {
	if base == "" {
		base = wikipediaBase
	}
	return &Wikipedia{base: strings.TrimRight(base, "/"), userAgent: userAgent, client: client, limiter: limiter, log: log}
}

func (w *Wikipedia) Kind() Kind { return KindWikipedia }

// Resolve searches for "label (hint)". A page thumbnail wins; otherwise the page's file list
// is scored against the label and the best file's URL is looked up.
func (w *Wikipedia) Resolve(ctx context.Context, label, hint string) Result {
	label = strings.TrimSpace(label)
	if label == "" {
		return Result{}
	}
	query := label
	if hint = strings.TrimSpace(hint); hint != "" {
		query = label + " (" + hint + ")"
	}

	var search struct {
		Pages []struct {
			ID        int64  `json:"id"`
			Key       string `json:"key"`
			Title     string `json:"title"`
			Thumbnail *struct {
				URL string `json:"url"`
			} `json:"thumbnail"`
		} `json:"pages"`
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", "1")
	if err := w.get(ctx, "/w/rest.php/v1/search/page", params, &search); err != nil {
		w.log.Warn().Err(err).Str("label", label).Msg("wikipedia search failed")
		return Result{}
	}
	if len(search.Pages) == 0 {
		return Result{}
	}

	page := search.Pages[0]
	pageID := strconv.FormatInt(page.ID, 10)
	if page.Thumbnail != nil && page.Thumbnail.URL != "" {
		return Result{Image: absoluteURL(strings.Replace(page.Thumbnail.URL, "60px", "1024px", 1)), ExternalID: pageID}
	}

	title := w.bestImageTitle(ctx, pageID, label)
	if title == "" {
		return Result{}
	}
	image := w.imageURL(ctx, title)
	if image == "" {
		return Result{}
	}
	return Result{Image: image, ExternalID: pageID}
}

func (w *Wikipedia) bestImageTitle(ctx context.Context, pageID, label string) string {
	var payload struct {
		Query struct {
			Pages map[string]struct {
				Images []struct {
					Title string `json:"title"`
				} `json:"images"`
			} `json:"pages"`
		} `json:"query"`
	}
	params := url.Values{}
	params.Set("action", "query")
	params.Set("format", "json")
	params.Set("prop", "images")
	params.Set("pageids", pageID)
	if err := w.get(ctx, "/w/api.php", params, &payload); err != nil {
		w.log.Warn().Err(err).Str("page_id", pageID).Msg("wikipedia image list failed")
		return ""
	}

	var titles []string
	for _, p := range payload.Query.Pages {
		for _, img := range p.Images {
			titles = append(titles, img.Title)
		}
	}
	return BestImageTitle(label, titles)
}

func (w *Wikipedia) imageURL(ctx context.Context, title string) string {
	var payload struct {
		Query struct {
			Pages map[string]struct {
				ImageInfo []struct {
					URL string `json:"url"`
				} `json:"imageinfo"`
			} `json:"pages"`
		} `json:"query"`
	}
	params := url.Values{}
	params.Set("action", "query")
	params.Set("format", "json")
	params.Set("prop", "imageinfo")
	params.Set("titles", title)
	params.Set("iiprop", "url")
	if err := w.get(ctx, "/w/api.php", params, &payload); err != nil {
		w.log.Warn().Err(err).Str("title", title).Msg("wikipedia image info failed")
		return ""
	}
	for _, p := range payload.Query.Pages {
		if len(p.ImageInfo) > 0 && p.ImageInfo[0].URL != "" {
			return absoluteURL(p.ImageInfo[0].URL)
		}
	}
	return ""
}

func (w *Wikipedia) get(ctx context.Context, path string, params url.Values, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.base+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	if w.userAgent != "" {
		req.Header.Set("User-Agent", w.userAgent)
	}
	req.Header.Set("Accept", "application/json")
	return getJSON(ctx, w.client, w.limiter, req, target)
}

// BestImageTitle picks the highest scoring file title, or "" when every title is
// disqualified.
func BestImageTitle(label string, titles []string) string {
	type scored struct {
		title string
		score int
	}
	candidates := make([]scored, 0, len(titles))
	for _, title := range titles {
		candidates = append(candidates, scored{title: title, score: ScoreImageTitle(label, title)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) == 0 || candidates[0].score < 0 {
		return ""
	}
	return candidates[0].title
}

// ScoreImageTitle rates how well a file title matches label: two points per label word
// found in the title, one per label character found, plus five for poster, cover or movie
// art. Vector and XML files score -1.
func ScoreImageTitle(label, title string) int {
	lowerTitle := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(title, "File:")))
	if strings.HasSuffix(lowerTitle, ".svg") || strings.HasSuffix(lowerTitle, ".xml") {
		return -1
	}
	normalizedTitle := alnumOnly(lowerTitle)
	normalizedLabel := alnumOnly(strings.ToLower(label))

	wordMatches := 0
	for _, word := range labelWords(label) {
		if strings.Contains(normalizedTitle, word) {
			wordMatches++
		}
	}
	charMatches := 0
	for _, r := range normalizedLabel {
		if strings.ContainsRune(normalizedTitle, r) {
			charMatches++
		}
	}

	score := wordMatches*2 + charMatches
	for _, bonus := range []string{"poster", "cover", "movie"} {
		if strings.Contains(normalizedTitle, bonus) {
			score += 5
			break
		}
	}
	return score
}

func alnumOnly(value string) string {
	var b strings.Builder
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// labelWords splits on anything that is not a letter or digit and also at letter/digit
// boundaries, so "Blink182" yields "blink" and "182".
func labelWords(label string) []string {
	var words []string
	var current strings.Builder
	lastDigit := false
	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	for _, r := range strings.ToLower(label) {
		isLetter := r >= 'a' && r <= 'z'
		isDigit := unicode.IsDigit(r) && r < 128
		if !isLetter && !isDigit {
			flush()
			continue
		}
		if current.Len() > 0 && isDigit != lastDigit {
			flush()
		}
		current.WriteRune(r)
		lastDigit = isDigit
	}
	flush()
	return words
}
