package enrich

import (
	"context"
	"regexp"
	"strings"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/scrape"
)

// BlogThreshold is the heuristic score at which a site counts as a blog.
const BlogThreshold = 50

type blogSignal struct {
	name   string
	weight int
	match  func(p *scrape.Page, lower string) bool
}

var (
	datedPathRe = regexp.MustCompile(`/20\d{2}/\d{2}/`)
	articleRe   = regexp.MustCompile(`(?i)<article[\s>]`)
)

var blogSignals = []blogSignal{
	{"articles", 20, func(_ *scrape.Page, lower string) bool {
		return len(articleRe.FindAllStringIndex(lower, 4)) >= 3
	}},
	{"feed", 20, func(_ *scrape.Page, lower string) bool {
		return strings.Contains(lower, "application/rss+xml") || strings.Contains(lower, "application/atom+xml")
	}},
	{"dated_urls", 20, func(p *scrape.Page, _ string) bool {
		n := 0
		for _, l := range p.Links {
			if datedPathRe.MatchString(l) {
				n++
			}
		}
		return n >= 2
	}},
	{"blog_nav", 15, func(p *scrape.Page, _ string) bool {
		for _, l := range p.Links {
			if strings.Contains(strings.ToLower(l), "/blog") {
				return true
			}
		}
		return false
	}},
	{"comments", 10, func(_ *scrape.Page, lower string) bool {
		return strings.Contains(lower, "disqus") || strings.Contains(lower, "comment-form") ||
			strings.Contains(lower, "wp-comments")
	}},
	{"post_meta", 10, func(_ *scrape.Page, lower string) bool {
		return strings.Contains(lower, "posted on") || strings.Contains(lower, "read more") ||
			strings.Contains(lower, "article:published_time")
	}},
	{"wordpress", 5, func(_ *scrape.Page, lower string) bool {
		return strings.Contains(lower, "wp-content") || strings.Contains(lower, `content="wordpress`)
	}},
}

// HeuristicClassifier scores blog markers on a record's homepage.
type HeuristicClassifier struct {
	fetcher scrape.Fetcher
}

// NewHeuristicClassifier creates a classifier over f.
func NewHeuristicClassifier(f scrape.Fetcher) *HeuristicClassifier {
	return &HeuristicClassifier{fetcher: f}
}

func (c *HeuristicClassifier) Classify(ctx context.Context, rec model.Record) (model.Classification, error) {
	page, err := c.fetch(ctx, rec)
	if err != nil {
		return model.Classification{}, err
	}
	return ScorePage(page), nil
}

func (c *HeuristicClassifier) fetch(ctx context.Context, rec model.Record) (*scrape.Page, error) {
	if strings.TrimSpace(rec.Website) == "" {
		return nil, Soft("no website")
	}
	page, err := c.fetcher.Fetch(ctx, rec.Website)
	if err != nil {
		return nil, SoftWrap(err, "website unreachable")
	}
	return page, nil
}

// ScorePage sums the weights of the blog signals present on page.
func ScorePage(page *scrape.Page) model.Classification {
	lower := strings.ToLower(page.HTML)
	score := 0
	var hits []string
	for _, s := range blogSignals {
		if s.match(page, lower) {
			score += s.weight
			hits = append(hits, s.name)
		}
	}
	if strings.Contains(strings.ToLower(page.FinalURL), "/blog") {
		score += 20
		hits = append(hits, "blog_url")
	}
	score = min(score, 100)

	notes := "no blog signals"
	if len(hits) > 0 {
		notes = strings.Join(hits, ",")
	}
	return model.Classification{IsBlog: score >= BlogThreshold, Score: score, Notes: notes}
}
