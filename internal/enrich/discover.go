package enrich

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/scrape"
)

// contactHints mark links worth following for contact details.
var contactHints = []string{"contact", "about", "team", "impressum", "kontakt"}

var (
	phoneRe = regexp.MustCompile(`\+?\(?\d{1,4}\)?[\s.\-]?\(?\d{2,4}\)?[\s.\-]?\d{3,4}[\s.\-]?\d{3,4}`)
	formRe  = regexp.MustCompile(`(?i)<form[\s>]`)
)

// SiteDiscoverer reads a record's homepage plus a few contact-like pages
// and extracts addresses, social links and a phone number. Every address
// it returns has been through the Verifier.
type SiteDiscoverer struct {
	fetcher  scrape.Fetcher
	verifier Verifier
	maxPages int
}

// NewSiteDiscoverer creates a discoverer that follows at most maxPages
// contact-like links besides the homepage.
func NewSiteDiscoverer(f scrape.Fetcher, v Verifier, maxPages int) *SiteDiscoverer {
	if maxPages <= 0 {
		maxPages = 3
	}
	return &SiteDiscoverer{fetcher: f, verifier: v, maxPages: maxPages}
}

func (d *SiteDiscoverer) Discover(ctx context.Context, rec model.Record) (DiscoverResult, error) {
	if strings.TrimSpace(rec.Website) == "" {
		return DiscoverResult{}, Soft("no website")
	}
	home, err := d.fetcher.Fetch(ctx, rec.Website)
	if err != nil {
		return DiscoverResult{}, SoftWrap(err, "website unreachable")
	}
	base, _ := url.Parse(home.FinalURL)

	pages := []*scrape.Page{home}
	extra := contactLinks(base, home.Links, d.maxPages)
	if len(extra) == 0 && base != nil {
		extra = []string{base.ResolveReference(&url.URL{Path: "/contact"}).String()}
	}
	pages = append(pages, scrape.FetchAll(ctx, d.fetcher, extra, len(extra))...)

	var res DiscoverResult
	var candidates []string
	seen := make(map[string]bool)
	add := func(e string) {
		if !seen[e] && ValidFormat(e) && !LooksLikeAsset(e) {
			seen[e] = true
			candidates = append(candidates, e)
		}
	}
	for _, p := range pages {
		for _, l := range p.Links {
			lower := strings.ToLower(l)
			switch {
			case strings.HasPrefix(lower, "mailto:"):
				add(NormalizeEmail(l))
			case strings.HasPrefix(lower, "tel:") && res.Phone == "":
				res.Phone = strings.TrimSpace(l[4:])
			default:
				collectSocial(&res.Socials, l)
			}
		}
		for _, e := range ExtractEmails(p.Text) {
			add(e)
		}
		if res.Socials.ContactForm == "" && p != home && formRe.MatchString(p.HTML) {
			res.Socials.ContactForm = p.FinalURL
		}
	}
	if res.Phone == "" {
		for _, p := range pages {
			if m := phoneRe.FindString(p.Text); m != "" {
				res.Phone = strings.TrimSpace(m)
				break
			}
		}
	}

	if len(candidates) == 0 {
		return res, Soft("no emails found")
	}

	host := ""
	if base != nil {
		host = base.Hostname()
	}
	ranked := RankEmails(candidates, host)
	for _, e := range ranked[:min(model.MaxEmails, len(ranked))] {
		v, err := d.verifier.Verify(ctx, e)
		if err != nil {
			if IsFatal(err) {
				return DiscoverResult{}, err
			}
			zap.L().Debug("enrich: verify during discovery failed",
				zap.String("email", e), zap.Error(err))
			v = NewVerification(0, "error", Reason(err))
		}
		res.Emails = append(res.Emails, DiscoveredEmail{Address: e, Verification: v})
	}
	return res, nil
}

// contactLinks picks same-host links whose path hints at contact details.
func contactLinks(base *url.URL, links []string, limit int) []string {
	if base == nil {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	for _, l := range links {
		u, err := url.Parse(l)
		if err != nil || !strings.EqualFold(u.Hostname(), base.Hostname()) {
			continue
		}
		path := strings.ToLower(u.Path)
		for _, h := range contactHints {
			if strings.Contains(path, h) && !seen[path] {
				seen[path] = true
				out = append(out, l)
				break
			}
		}
		if len(out) >= limit {
			break
		}
	}
	return out
}

func collectSocial(s *model.Socials, link string) {
	u, err := url.Parse(link)
	if err != nil || u.Path == "" || u.Path == "/" {
		return
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch {
	case s.LinkedIn == "" && strings.HasSuffix(host, "linkedin.com"):
		s.LinkedIn = link
	case s.Instagram == "" && host == "instagram.com":
		s.Instagram = link
	case s.Facebook == "" && (host == "facebook.com" || host == "fb.com"):
		s.Facebook = link
	}
}
