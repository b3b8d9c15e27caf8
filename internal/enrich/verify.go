package enrich

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sells-group/leadflow/internal/model"
)

// mxResolver is the part of *net.Resolver the verifier uses.
type mxResolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// highRepDomains are large inbox providers whose MX presence is a stronger
// deliverability signal than an arbitrary domain's.
var highRepDomains = map[string]bool{
	"gmail.com": true, "googlemail.com": true, "outlook.com": true,
	"hotmail.com": true, "live.com": true, "yahoo.com": true,
	"icloud.com": true, "me.com": true, "aol.com": true, "proton.me": true,
}

// MXVerifier scores an address by format and MX presence without an SMTP
// probe. Quality: 0 invalid, 30 no MX, 70 domain ok, 80 well-known provider.
// The ceiling is below VerifiedThreshold, so it never reports Verified.
type MXVerifier struct {
	resolver mxResolver
	timeout  time.Duration

	mu    sync.Mutex
	cache map[string][]string
}

// NewMXVerifier creates a verifier using the default resolver.
func NewMXVerifier(timeout time.Duration) *MXVerifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MXVerifier{
		resolver: net.DefaultResolver,
		timeout:  timeout,
		cache:    make(map[string][]string),
	}
}

func (v *MXVerifier) Verify(ctx context.Context, address string) (model.Verification, error) {
	e := NormalizeEmail(address)
	if !ValidFormat(e) || LooksLikeAsset(e) {
		return NewVerification(0, "invalid", "format_or_asset"), nil
	}
	domain := Domain(e)

	hosts, err := v.lookup(ctx, domain)
	if err != nil {
		return model.Verification{}, SoftWrap(err, "mx lookup failed")
	}
	if len(hosts) == 0 {
		return NewVerification(30, "no_mx", "no_mx_records"), nil
	}

	notes := "mx=" + strings.Join(hosts[:min(3, len(hosts))], ",")
	if highRepDomains[domain] {
		return NewVerification(80, "domain_ok_highrep", notes), nil
	}
	return NewVerification(70, "domain_ok", notes), nil
}

// lookup resolves MX hosts for domain, caching definitive answers. A
// missing domain is cached as no hosts; temporary failures are not cached.
func (v *MXVerifier) lookup(ctx context.Context, domain string) ([]string, error) {
	v.mu.Lock()
	hosts, ok := v.cache[domain]
	v.mu.Unlock()
	if ok {
		return hosts, nil
	}

	lctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	mxs, err := v.resolver.LookupMX(lctx, domain)

	var dnsErr *net.DNSError
	switch {
	case err == nil:
		for _, mx := range mxs {
			if h := strings.TrimSuffix(mx.Host, "."); h != "" {
				hosts = append(hosts, h)
			}
		}
	case errors.As(err, &dnsErr) && dnsErr.IsNotFound:
	default:
		return nil, err
	}

	v.mu.Lock()
	v.cache[domain] = hosts
	v.mu.Unlock()
	return hosts, nil
}
