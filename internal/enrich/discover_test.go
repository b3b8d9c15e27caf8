package enrich

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/scrape"
)

func acmeSite() *fakeFetcher {
	return pages(
		&scrape.Page{
			URL:      "https://acme.com",
			FinalURL: "https://acme.com/",
			Text:     "Welcome to Acme. Call (555) 123-4567.",
			Links: []string{
				"https://acme.com/about-us",
				"https://acme.com/shop",
				"https://other.com/contact",
				"https://www.linkedin.com/company/acme",
				"https://instagram.com/acme",
				"https://facebook.com/",
				"mailto:Sales@Acme.com",
			},
		},
		&scrape.Page{
			URL:      "https://acme.com/about-us",
			FinalURL: "https://acme.com/about-us",
			Text:     "Team: jane [at] acme [dot] com, press@agency.io, logo@2x.png, info@acme.com",
			HTML:     `<form action="/send"><input name="msg"></form>`,
			Links:    []string{"tel:+1-555-000-1111", "https://www.facebook.com/acmeco"},
		},
	)
}

func TestSiteDiscoverer_Discover(t *testing.T) {
	r := &fakeResolver{mx: map[string][]*net.MX{"acme.com": {{Host: "mx.acme.com."}}}}
	d := NewSiteDiscoverer(acmeSite(), newTestVerifier(r), 0)

	res, err := d.Discover(context.Background(), model.Record{ID: 7, Website: "https://acme.com"})
	require.NoError(t, err)

	require.Len(t, res.Emails, model.MaxEmails)
	var addrs []string
	for _, e := range res.Emails {
		addrs = append(addrs, e.Address)
		assert.NotEmpty(t, e.Verification.Status)
	}
	assert.Equal(t, []string{"sales@acme.com", "info@acme.com", "jane@acme.com"}, addrs)
	assert.Equal(t, 70, res.Emails[0].Verification.Quality)

	assert.Equal(t, "https://www.linkedin.com/company/acme", res.Socials.LinkedIn)
	assert.Equal(t, "https://instagram.com/acme", res.Socials.Instagram)
	assert.Equal(t, "https://www.facebook.com/acmeco", res.Socials.Facebook)
	assert.Equal(t, "https://acme.com/about-us", res.Socials.ContactForm)
	assert.Equal(t, "+1-555-000-1111", res.Phone)
}

func TestSiteDiscoverer_ContactFallback(t *testing.T) {
	f := pages(
		&scrape.Page{URL: "https://solo.dev", FinalURL: "https://solo.dev/"},
		&scrape.Page{URL: "https://solo.dev/contact", FinalURL: "https://solo.dev/contact", Text: "me@solo.dev"},
	)
	r := &fakeResolver{}
	d := NewSiteDiscoverer(f, newTestVerifier(r), 3)

	res, err := d.Discover(context.Background(), model.Record{Website: "https://solo.dev"})
	require.NoError(t, err)
	require.Len(t, res.Emails, 1)
	assert.Equal(t, "me@solo.dev", res.Emails[0].Address)
	assert.Equal(t, "no_mx", res.Emails[0].Verification.Status)
}

func TestSiteDiscoverer_SoftFailures(t *testing.T) {
	d := NewSiteDiscoverer(pages(&scrape.Page{URL: "https://empty.com", FinalURL: "https://empty.com/"}), newTestVerifier(&fakeResolver{}), 3)
	ctx := context.Background()

	tests := []struct {
		name    string
		website string
		reason  string
	}{
		{"no website", "", "no website"},
		{"unreachable", "https://down.com", "website unreachable"},
		{"no emails", "https://empty.com", "no emails found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Discover(ctx, model.Record{Website: tt.website})
			var sf *SoftFailure
			require.True(t, errors.As(err, &sf))
			assert.Equal(t, tt.reason, sf.Reason)
		})
	}
}

func TestSiteDiscoverer_VerifierErrorIsRecorded(t *testing.T) {
	f := pages(&scrape.Page{URL: "https://acme.com", FinalURL: "https://acme.com/", Text: "info@acme.com"})
	r := &fakeResolver{err: &net.DNSError{Err: "timeout", IsTemporary: true}}
	d := NewSiteDiscoverer(f, newTestVerifier(r), 3)

	res, err := d.Discover(context.Background(), model.Record{Website: "https://acme.com"})
	require.NoError(t, err)
	require.Len(t, res.Emails, 1)
	assert.Equal(t, "error", res.Emails[0].Verification.Status)
	assert.Zero(t, res.Emails[0].Verification.Quality)
}
