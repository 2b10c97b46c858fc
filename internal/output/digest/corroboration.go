package digest

import (
	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/core/urlcanon"
)

// Metadata keys under which signal bundles carry their evidence URLs.
var bundleURLKeys = []string{"external_urls", "urls", "links"}

// buildSignalHashSet collects the SHA-256 hashes of the canonicalized non-X
// URLs carried by signal bundles.
func buildSignalHashSet(bundles []domain.ContentItem) map[string]struct{} {
	hashes := map[string]struct{}{}

	for _, bundle := range bundles {
		for _, raw := range bundleURLs(bundle) {
			if urlcanon.IsXLike(raw) {
				continue
			}

			if h := urlcanon.HashURL(raw); h != "" {
				hashes[h] = struct{}{}
			}
		}
	}

	return hashes
}

func bundleURLs(bundle domain.ContentItem) []string {
	var out []string

	for _, container := range []map[string]any{bundle.Metadata, bundle.Raw} {
		for _, key := range bundleURLKeys {
			list, ok := container[key].([]any)
			if !ok {
				continue
			}

			for _, entry := range list {
				if s, ok := entry.(string); ok && s != "" {
					out = append(out, s)
				}
			}
		}
	}

	return out
}

// markCorroborated flags candidates whose primary URL appears in the signal
// hash set. X-like URLs never corroborate and are never corroborated.
func markCorroborated(candidates []*Candidate, hashes map[string]struct{}) int {
	matched := 0

	for _, c := range candidates {
		if c.Item.CanonicalURL == nil || *c.Item.CanonicalURL == "" {
			continue
		}

		if urlcanon.IsXLike(*c.Item.CanonicalURL) {
			continue
		}

		if _, ok := hashes[urlcanon.HashURL(*c.Item.CanonicalURL)]; ok {
			c.SignalMatched = true
			matched++
		}
	}

	return matched
}
