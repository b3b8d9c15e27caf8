package scrape

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/time/rate"
)

// Options configures a LocalFetcher.
type Options struct {
	Timeout     time.Duration
	UserAgent   string
	RatePerHost float64 // requests per second per host; 0 disables limiting
	MaxBodyKB   int
}

// LocalFetcher fetches pages via net/http with a per-host rate limit and
// charset decoding.
type LocalFetcher struct {
	client    *http.Client
	userAgent string
	perHost   rate.Limit
	maxBody   int64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLocalFetcher creates a LocalFetcher. Zero option values fall back to
// a 15s timeout, 512KB body cap and no rate limit.
func NewLocalFetcher(opts Options) *LocalFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (compatible; leadflow/1.0)"
	}
	if opts.MaxBodyKB <= 0 {
		opts.MaxBodyKB = 512
	}
	return &LocalFetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 4,
			},
		},
		userAgent: opts.UserAgent,
		perHost:   rate.Limit(opts.RatePerHost),
		maxBody:   int64(opts.MaxBodyKB) * 1024,
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (l *LocalFetcher) Name() string { return "local_http" }

// Fetch downloads targetURL. A URL without a scheme is fetched over https.
func (l *LocalFetcher) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	targetURL = NormalizeURL(targetURL)
	u, err := url.Parse(targetURL)
	if err != nil || u.Host == "" {
		return nil, eris.Errorf("local_http: invalid url %q", targetURL)
	}

	if err := l.wait(ctx, u.Hostname()); err != nil {
		return nil, eris.Wrap(err, "local_http: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: create request")
	}
	req.Header.Set("User-Agent", l.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBody))
	if err != nil {
		return nil, eris.Wrap(err, "local_http: read body")
	}

	if kind := detectBlock(resp, raw); kind != "" {
		return nil, eris.Errorf("local_http: blocked (%s)", kind)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("local_http: status %d", resp.StatusCode)
	}

	body := decodeBody(resp.Header.Get("Content-Type"), raw)
	base := resp.Request.URL
	return &Page{
		URL:        targetURL,
		FinalURL:   base.String(),
		StatusCode: resp.StatusCode,
		Title:      extractTitle(body),
		HTML:       body,
		Text:       stripHTML(body),
		Links:      extractLinks(base, body),
	}, nil
}

func (l *LocalFetcher) wait(ctx context.Context, host string) error {
	if l.perHost <= 0 {
		return nil
	}
	l.mu.Lock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.perHost, 1)
		l.limiters[host] = lim
	}
	l.mu.Unlock()
	return lim.Wait(ctx)
}

// NormalizeURL adds an https scheme to bare hosts such as "acme.com".
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "://") {
		return raw
	}
	return "https://" + raw
}

var metaCharsetRe = regexp.MustCompile(`(?i)<meta[^>]+charset=["']?([a-zA-Z0-9_\-]+)`)

// decodeBody converts the body to UTF-8 using the header charset, then a
// <meta charset>, falling back to the raw bytes.
func decodeBody(contentType string, raw []byte) string {
	name := ""
	if _, params, err := mime.ParseMediaType(contentType); err == nil {
		name = params["charset"]
	}
	if name == "" {
		head := raw
		if len(head) > 2048 {
			head = head[:2048]
		}
		if m := metaCharsetRe.FindSubmatch(head); len(m) > 1 {
			name = string(m[1])
		}
	}
	if name == "" || strings.EqualFold(name, "utf-8") {
		return string(raw)
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		zap.L().Debug("local_http: unknown charset", zap.String("charset", name))
		return string(raw)
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// detectBlock returns a non-empty kind when the response is an anti-bot
// wall rather than the site itself.
func detectBlock(resp *http.Response, body []byte) string {
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("Cf-Ray") != "" || strings.EqualFold(resp.Header.Get("Server"), "cloudflare") {
			return "cloudflare"
		}
	}
	lower := bytes.ToLower(body)
	switch {
	case bytes.Contains(lower, []byte("checking your browser")),
		bytes.Contains(lower, []byte("cf-browser-verification")):
		return "cloudflare"
	case len(body) < 4096 && bytes.Contains(lower, []byte("captcha")):
		// contact forms embed recaptcha; only a bare challenge page is a wall
		return "captcha"
	}
	return ""
}

var (
	titleRe     = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	hrefRe      = regexp.MustCompile(`(?i)<a\s[^>]*href\s*=\s*["']([^"'#]+)["']`)
	dropBlockRe = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(?:script|style|noscript)>`)
	tagRe       = regexp.MustCompile(`<[^>]+>`)
	spaceRe     = regexp.MustCompile(`[ \t\r\f]+`)
	blankRe     = regexp.MustCompile(`\n\s*\n+`)
	entities    = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&#64;", "@",
		"&nbsp;", " ",
	)
)

func extractTitle(html string) string {
	if m := titleRe.FindStringSubmatch(html); len(m) > 1 {
		return strings.TrimSpace(entities.Replace(m[1]))
	}
	return ""
}

// extractLinks resolves every anchor href against base, dropping
// javascript: links and duplicates.
func extractLinks(base *url.URL, html string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range hrefRe.FindAllStringSubmatch(html, -1) {
		href := strings.TrimSpace(entities.Replace(m[1]))
		if strings.HasPrefix(strings.ToLower(href), "javascript:") {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		abs := base.ResolveReference(ref).String()
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
	}
	return out
}

// stripHTML drops script and style blocks, strips tags, decodes common
// entities and collapses whitespace.
func stripHTML(html string) string {
	html = dropBlockRe.ReplaceAllString(html, "")
	html = tagRe.ReplaceAllString(html, " ")
	html = entities.Replace(html)
	html = spaceRe.ReplaceAllString(html, " ")
	html = blankRe.ReplaceAllString(html, "\n")
	return strings.TrimSpace(html)
}
