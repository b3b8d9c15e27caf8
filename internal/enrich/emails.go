package enrich

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var (
	emailFormatRe = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)
	emailFindRe   = regexp.MustCompile(`(?i)[a-z0-9._%+\-]+\s*(?:@|\[at\]|\(at\))\s*[a-z0-9\-]+(?:(?:\.|\s*(?:\[dot\]|\(dot\))\s*)[a-z0-9\-]+)+`)
	retinaAssetRe = regexp.MustCompile(`(?i)@\d+x\.(?:png|jpe?g|webp|gif|svg|ico)$`)
	hexIDLocalRe  = regexp.MustCompile(`^[a-f0-9]{16,}$`)
	obfuscations  = strings.NewReplacer(
		"[at]", "@", "(at)", "@",
		"[dot]", ".", "(dot)", ".",
	)
)

// assetTLDs are file extensions that regex extraction mistakes for TLDs.
var assetTLDs = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "webp": true,
	"svg": true, "ico": true, "css": true, "js": true, "pdf": true,
}

// NormalizeEmail cleans a scraped address: mailto: prefix, query strings,
// [at]/[dot] obfuscation, stray punctuation and case.
func NormalizeEmail(raw string) string {
	e := strings.TrimSpace(raw)
	if len(e) >= 7 && strings.EqualFold(e[:7], "mailto:") {
		e = e[7:]
	}
	if u, err := url.PathUnescape(e); err == nil {
		e = u
	}
	if i := strings.IndexAny(e, "?#|"); i >= 0 {
		e = e[:i]
	}
	e = strings.ToLower(e)
	e = obfuscations.Replace(e)
	e = strings.ReplaceAll(e, " ", "")
	return strings.Trim(e, `).,;:>]}"'<([{`)
}

// ValidFormat reports whether e looks like a deliverable address.
func ValidFormat(e string) bool {
	return emailFormatRe.MatchString(e)
}

// LooksLikeAsset filters strings such as logo@2x.png or tracking ids that
// match the email pattern but are not addresses.
func LooksLikeAsset(e string) bool {
	local, host, ok := strings.Cut(e, "@")
	if !ok || host == "" || !strings.Contains(host, ".") {
		return true
	}
	if assetTLDs[host[strings.LastIndex(host, ".")+1:]] {
		return true
	}
	if retinaAssetRe.MatchString(e) {
		return true
	}
	return hexIDLocalRe.MatchString(local)
}

// Domain returns the host part of an address.
func Domain(e string) string {
	_, host, _ := strings.Cut(e, "@")
	return host
}

// ExtractEmails finds addresses in free text, normalized and deduplicated
// in order of first appearance.
func ExtractEmails(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range emailFindRe.FindAllString(text, -1) {
		e := NormalizeEmail(m)
		if seen[e] || !ValidFormat(e) || LooksLikeAsset(e) {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

var rolePrefixes = []string{"info", "contact", "hello", "office", "sales", "admin", "team"}

// RankEmails orders candidates for a site: addresses on the site's own
// domain first, then role mailboxes, keeping the discovery order otherwise.
func RankEmails(candidates []string, siteHost string) []string {
	siteHost = strings.TrimPrefix(strings.ToLower(siteHost), "www.")
	score := func(e string) int {
		s := 0
		if d := Domain(e); d == siteHost || strings.HasSuffix(d, "."+siteHost) {
			s += 2
		}
		local, _, _ := strings.Cut(e, "@")
		for _, p := range rolePrefixes {
			if local == p {
				s++
				break
			}
		}
		return s
	}
	out := append([]string(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool { return score(out[i]) > score(out[j]) })
	return out
}
