// Package scrape fetches company websites for the classify and discover
// steps.
package scrape

import "context"

// Page is one fetched HTML document.
type Page struct {
	URL        string   // requested URL
	FinalURL   string   // after redirects
	StatusCode int
	Title      string
	HTML       string   // decoded to UTF-8
	Text       string   // tags stripped, whitespace collapsed
	Links      []string // absolute hrefs in document order
}

// Fetcher fetches a single URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
	Name() string
}
