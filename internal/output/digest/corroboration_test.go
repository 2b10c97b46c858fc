package digest

import (
	"testing"

	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/storage"
)

func candidateItemWithURL(id string, url *string) storage.CandidateItem {
	return storage.CandidateItem{ID: id, SourceID: "s1", SourceType: "rss", CanonicalURL: url}
}

func TestSignalCorroborationMatchesCanonicalizedURL(t *testing.T) {
	bundles := []domain.ContentItem{{
		Metadata: map[string]any{
			"external_urls": []any{
				"https://Example.com/story?utm_source=signal",
				"https://x.com/someone/status/1",
			},
		},
	}}

	hashes := buildSignalHashSet(bundles)
	if len(hashes) != 1 {
		t.Fatalf("hash set size = %d, want x-like evidence dropped", len(hashes))
	}

	url := "https://example.com/story"
	xURL := "https://twitter.com/someone/status/1"

	candidates := []*Candidate{
		{Item: candidateItemWithURL("a", &url)},
		{Item: candidateItemWithURL("b", &xURL)},
		{Item: candidateItemWithURL("c", nil)},
	}

	matched := markCorroborated(candidates, hashes)

	if matched != 1 || !candidates[0].SignalMatched {
		t.Errorf("matched = %d, want only the canonical-equal non-X candidate", matched)
	}

	if candidates[1].SignalMatched || candidates[2].SignalMatched {
		t.Error("x-like and url-less candidates must never match")
	}
}

func TestBundleURLsReadsRawFallback(t *testing.T) {
	bundle := domain.ContentItem{
		Metadata: map[string]any{},
		Raw:      map[string]any{"urls": []any{"https://example.org/post"}},
	}

	urls := bundleURLs(bundle)
	if len(urls) != 1 || urls[0] != "https://example.org/post" {
		t.Errorf("urls = %v, want the raw payload fallback", urls)
	}
}
