package enrich

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMXVerifier_Scores(t *testing.T) {
	r := &fakeResolver{mx: map[string][]*net.MX{
		"acme.com":  {{Host: "mx1.acme.com.", Pref: 10}},
		"gmail.com": {{Host: "gmail-smtp-in.l.google.com.", Pref: 5}},
	}}
	v := newTestVerifier(r)
	ctx := context.Background()

	tests := []struct {
		addr    string
		quality int
		status  string
	}{
		{"not-an-email", 0, "invalid"},
		{"logo@2x.png", 0, "invalid"},
		{"info@nomx.example", 30, "no_mx"},
		{"info@acme.com", 70, "domain_ok"},
		{"Someone@Gmail.com", 80, "domain_ok_highrep"},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got, err := v.Verify(ctx, tt.addr)
			require.NoError(t, err)
			assert.Equal(t, tt.quality, got.Quality)
			assert.Equal(t, tt.status, got.Status)
			assert.Less(t, got.Quality, VerifiedThreshold)
			assert.False(t, got.Verified)
		})
	}
}

func TestMXVerifier_CachesDomain(t *testing.T) {
	r := &fakeResolver{mx: map[string][]*net.MX{"acme.com": {{Host: "mx.acme.com."}}}}
	v := newTestVerifier(r)

	for range 3 {
		_, err := v.Verify(context.Background(), "a@acme.com")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, r.calls)
}

func TestMXVerifier_TemporaryFailureIsSoft(t *testing.T) {
	r := &fakeResolver{err: &net.DNSError{Err: "timeout", IsTemporary: true}}
	v := newTestVerifier(r)

	_, err := v.Verify(context.Background(), "a@acme.com")
	require.Error(t, err)
	var sf *SoftFailure
	assert.True(t, errors.As(err, &sf))
	assert.False(t, IsFatal(err))

	// Not cached: the next call asks again.
	_, _ = v.Verify(context.Background(), "a@acme.com")
	assert.Equal(t, 2, r.calls)
}
