package enrich

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/scrape"
	"github.com/sells-group/leadflow/pkg/anthropic"
)

var blogPage = &scrape.Page{
	URL:      "https://janeblogs.com",
	FinalURL: "https://janeblogs.com/",
	HTML: `<html><head><link rel="alternate" type="application/rss+xml" href="/feed"></head><body>
<article>One</article><article>Two</article><article>Three</article>
<p>Posted on March 3</p><div id="disqus_thread"></div></body></html>`,
	Links: []string{"https://janeblogs.com/2024/03/one", "https://janeblogs.com/2024/02/two", "https://janeblogs.com/blog"},
}

var shopPage = &scrape.Page{
	URL:      "https://acme.com",
	FinalURL: "https://acme.com/",
	HTML:     `<html><body><h1>Acme widgets</h1><a href="/cart">Cart</a></body></html>`,
	Links:    []string{"https://acme.com/cart"},
}

// ambiguousPage scores 35: a feed and a blog link only.
var ambiguousPage = &scrape.Page{
	URL:      "https://mixed.com",
	FinalURL: "https://mixed.com/",
	Title:    "Mixed",
	Text:     "We sell things and sometimes write.",
	HTML:     `<html><head><link type="application/rss+xml"></head><body>shop</body></html>`,
	Links:    []string{"https://mixed.com/blog"},
}

func pages(ps ...*scrape.Page) *fakeFetcher {
	f := &fakeFetcher{pages: map[string]*scrape.Page{}}
	for _, p := range ps {
		f.pages[p.URL] = p
	}
	return f
}

func TestScorePage(t *testing.T) {
	c := ScorePage(blogPage)
	assert.True(t, c.IsBlog)
	assert.Equal(t, 95, c.Score)
	assert.Contains(t, c.Notes, "feed")
	assert.Contains(t, c.Notes, "dated_urls")

	c = ScorePage(shopPage)
	assert.False(t, c.IsBlog)
	assert.Equal(t, 0, c.Score)
	assert.Equal(t, "no blog signals", c.Notes)

	assert.Equal(t, 35, ScorePage(ambiguousPage).Score)
}

func TestHeuristicClassifier_SoftFailures(t *testing.T) {
	c := NewHeuristicClassifier(pages())

	_, err := c.Classify(context.Background(), model.Record{ID: 1})
	var sf *SoftFailure
	require.True(t, errors.As(err, &sf))
	assert.Equal(t, "no website", sf.Reason)

	_, err = c.Classify(context.Background(), model.Record{ID: 2, Website: "https://down.example"})
	require.True(t, errors.As(err, &sf))
	assert.Equal(t, "website unreachable", sf.Reason)
}

type fakeLLM struct {
	reply  string
	err    error
	calls  int
	prompt string
}

func (f *fakeLLM) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.calls++
	f.prompt = req.Prompt
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{Text: f.reply}, nil
}

func TestLLMClassifier(t *testing.T) {
	f := pages(blogPage, shopPage, ambiguousPage)
	ctx := context.Background()

	t.Run("clear scores skip the model", func(t *testing.T) {
		llm := &fakeLLM{}
		c := NewLLMClassifier(NewHeuristicClassifier(f), llm, "m", 0)
		got, err := c.Classify(ctx, model.Record{Website: blogPage.URL})
		require.NoError(t, err)
		assert.True(t, got.IsBlog)
		_, err = c.Classify(ctx, model.Record{Website: shopPage.URL})
		require.NoError(t, err)
		assert.Zero(t, llm.calls)
	})

	t.Run("ambiguous score uses the verdict", func(t *testing.T) {
		llm := &fakeLLM{reply: "Sure: {\"is_blog\": true, \"score\": 140, \"reason\": \"dated posts\"}"}
		c := NewLLMClassifier(NewHeuristicClassifier(f), llm, "m", 0)
		got, err := c.Classify(ctx, model.Record{Website: ambiguousPage.URL})
		require.NoError(t, err)
		assert.Equal(t, 1, llm.calls)
		assert.True(t, got.IsBlog)
		assert.Equal(t, 100, got.Score)
		assert.Contains(t, got.Notes, "llm: dated posts")
	})

	t.Run("model error falls back", func(t *testing.T) {
		llm := &fakeLLM{err: errors.New("overloaded")}
		c := NewLLMClassifier(NewHeuristicClassifier(f), llm, "m", 0)
		got, err := c.Classify(ctx, model.Record{Website: ambiguousPage.URL})
		require.NoError(t, err)
		assert.Equal(t, ScorePage(ambiguousPage), got)
	})

	t.Run("garbage reply falls back", func(t *testing.T) {
		llm := &fakeLLM{reply: "I think so"}
		c := NewLLMClassifier(NewHeuristicClassifier(f), llm, "m", 0)
		got, err := c.Classify(ctx, model.Record{Website: ambiguousPage.URL})
		require.NoError(t, err)
		assert.Equal(t, 35, got.Score)
	})

	t.Run("long page text is cut on a rune boundary", func(t *testing.T) {
		long := *ambiguousPage
		long.URL = "https://long.example"
		long.Text = "a" + strings.Repeat("é", maxPromptText)
		llm := &fakeLLM{reply: `{"is_blog": false, "score": 20, "reason": "shop"}`}
		c := NewLLMClassifier(NewHeuristicClassifier(pages(&long)), llm, "m", 0)
		_, err := c.Classify(ctx, model.Record{Website: long.URL})
		require.NoError(t, err)
		require.Equal(t, 1, llm.calls)
		assert.True(t, utf8.ValidString(llm.prompt))
	})
}

func TestTruncateText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 5, "abc"},
		{"ascii", "abcdef", 3, "abc"},
		{"mid rune", "aé", 2, "a"},
		{"rune end", "aéb", 3, "aé"},
		{"four byte", "😀x", 3, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateText(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
