package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFetcher_CleanHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`<html><head><title>Acme &amp; Co</title><style>.x{}</style></head>
<body><h1>Welcome</h1><p>We build great products.</p>
<a href="/contact">Contact</a> <a href="mailto:hello@acme.com">Mail</a>
<a href="javascript:void(0)">x</a> <a href="/contact">Again</a>
<script>var secret = 1;</script></body></html>`))
	}))
	defer srv.Close()

	f := NewLocalFetcher(Options{})
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Acme & Co", page.Title)
	assert.Equal(t, 200, page.StatusCode)
	assert.Contains(t, page.Text, "Welcome")
	assert.NotContains(t, page.Text, "secret")
	assert.Equal(t, []string{srv.URL + "/contact", "mailto:hello@acme.com"}, page.Links)
}

func TestLocalFetcher_Cloudflare(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cf-Ray", "abc123")
		w.WriteHeader(403)
		_, _ = w.Write([]byte(`<html><body>Access denied</body></html>`))
	}))
	defer srv.Close()

	_, err := NewLocalFetcher(Options{}).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
}

func TestLocalFetcher_CaptchaOnLargePageIsNotBlock(t *testing.T) {
	big := make([]byte, 5000)
	for i := range big {
		big[i] = 'a'
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><form class="g-recaptcha"></form>` + string(big) + `</body></html>`))
	}))
	defer srv.Close()

	_, err := NewLocalFetcher(Options{}).Fetch(context.Background(), srv.URL)
	assert.NoError(t, err)
}

func TestLocalFetcher_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	}))
	defer srv.Close()

	_, err := NewLocalFetcher(Options{}).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestLocalFetcher_DecodesLatin1(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		// "Café" with é as 0xE9
		_, _ = w.Write([]byte("<html><head><title>Caf\xe9</title></head><body>ok</body></html>"))
	}))
	defer srv.Close()

	page, err := NewLocalFetcher(Options{}).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Café", page.Title)
}

func TestLocalFetcher_RateLimitPerHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	f := NewLocalFetcher(Options{RatePerHost: 10})
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	// burst 1 at 10/s: the 2nd and 3rd requests wait ~100ms each
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestLocalFetcher_InvalidURL(t *testing.T) {
	_, err := NewLocalFetcher(Options{}).Fetch(context.Background(), "")
	assert.Error(t, err)
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://acme.com", NormalizeURL(" acme.com "))
	assert.Equal(t, "http://acme.com", NormalizeURL("http://acme.com"))
	assert.Equal(t, "", NormalizeURL(""))
}

func TestFetchAll_SkipsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(404)
			return
		}
		_, _ = w.Write([]byte("<html><body>" + r.URL.Path + "</body></html>"))
	}))
	defer srv.Close()

	pages := FetchAll(context.Background(), NewLocalFetcher(Options{}),
		[]string{srv.URL + "/a", srv.URL + "/missing", srv.URL + "/b"}, 2)
	require.Len(t, pages, 2)
	assert.Equal(t, "/a", pages[0].Text)
	assert.Equal(t, "/b", pages[1].Text)
}
