// Package urlcanon normalizes URLs so that equivalent links hash to the same
// value. Canonicalization is idempotent: applying it twice yields the same
// string.
package urlcanon

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Tracking parameters stripped during canonicalization.
var trackingParams = map[string]struct{}{
	"fbclid":      {},
	"gclid":       {},
	"msclkid":     {},
	"igshid":      {},
	"mc_cid":      {},
	"mc_eid":      {},
	"ref":         {},
	"ref_src":     {},
	"ref_url":     {},
	"s":           {},
	"spm":         {},
	"_hsenc":      {},
	"_hsmi":       {},
	"vero_conv":   {},
	"vero_id":     {},
	"wickedid":    {},
	"yclid":       {},
	"share_id":    {},
	"source":      {},
	"cmpid":       {},
	"mkt_tok":     {},
	"trk":         {},
	"si":          {},
	"feature":     {},
	"sr_share":    {},
	"rdt":         {},
}

// All utm_* parameters are stripped by prefix.
const utmPrefix = "utm_"

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Canonicalize normalizes scheme and host case, drops default ports and
// fragments, removes tracking parameters, sorts remaining query keys, and
// strips a trailing slash except for the root path. Returns the input
// unchanged if it does not parse as an absolute URL.
func Canonicalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = normalizeHost(u.Scheme, u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = normalizeQuery(u.Query())

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}

// HashURL returns the hex SHA-256 of the canonicalized URL, or "" for an
// empty input.
func HashURL(raw string) string {
	canonical := Canonicalize(raw)
	if canonical == "" {
		return ""
	}

	return HashText(canonical)
}

// HashText returns the hex SHA-256 of the given string.
func HashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// IsXLike reports whether the URL points at X/Twitter. Signal corroboration
// ignores these both as candidates and as evidence.
func IsXLike(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}

	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")

	switch host {
	case "x.com", "twitter.com", "mobile.twitter.com", "t.co", "fxtwitter.com", "vxtwitter.com", "nitter.net":
		return true
	}

	return false
}

func normalizeHost(scheme, host string) string {
	host = strings.ToLower(host)

	if port, ok := defaultPorts[scheme]; ok {
		host = strings.TrimSuffix(host, ":"+port)
	}

	return host
}

func normalizeQuery(values url.Values) string {
	keys := make([]string, 0, len(values))

	for key := range values {
		if isTrackingParam(key) {
			continue
		}

		keys = append(keys, key)
	}

	if len(keys) == 0 {
		return ""
	}

	sort.Strings(keys)

	var sb strings.Builder

	for _, key := range keys {
		vals := values[key]
		sort.Strings(vals)

		for _, v := range vals {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}

			sb.WriteString(url.QueryEscape(key))
			sb.WriteByte('=')
			sb.WriteString(url.QueryEscape(v))
		}
	}

	return sb.String()
}

func isTrackingParam(key string) bool {
	lower := strings.ToLower(key)
	if strings.HasPrefix(lower, utmPrefix) {
		return true
	}

	_, ok := trackingParams[lower]

	return ok
}
