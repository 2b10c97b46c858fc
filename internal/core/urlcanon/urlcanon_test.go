package urlcanon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "lowercases scheme and host",
			in:   "HTTPS://Example.COM/Path",
			want: "https://example.com/Path",
		},
		{
			name: "drops default https port",
			in:   "https://example.com:443/a",
			want: "https://example.com/a",
		},
		{
			name: "keeps non-default port",
			in:   "https://example.com:8443/a",
			want: "https://example.com:8443/a",
		},
		{
			name: "strips utm and click ids",
			in:   "https://example.com/a?utm_source=x&utm_medium=y&fbclid=z&id=7",
			want: "https://example.com/a?id=7",
		},
		{
			name: "sorts query keys",
			in:   "https://example.com/a?b=2&a=1",
			want: "https://example.com/a?a=1&b=2",
		},
		{
			name: "removes fragment",
			in:   "https://example.com/a#section",
			want: "https://example.com/a",
		},
		{
			name: "strips trailing slash except root",
			in:   "https://example.com/a/b/",
			want: "https://example.com/a/b",
		},
		{
			name: "root keeps slash",
			in:   "https://example.com/",
			want: "https://example.com/",
		},
		{
			name: "bare host gets root path",
			in:   "https://example.com",
			want: "https://example.com/",
		},
		{
			name: "relative url returned unchanged",
			in:   "not a url",
			want: "not a url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonicalize(tt.in))
		})
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	inputs := []string{
		"HTTPS://Example.COM:443/Path/?utm_source=a&b=2&a=1#frag",
		"http://news.example.org/story/123?ref=homepage",
		"https://example.com",
		"https://example.com/a%20b?q=c%20d",
	}

	for _, in := range inputs {
		once := Canonicalize(in)
		assert.Equal(t, once, Canonicalize(once), "not idempotent for %q", in)
	}
}

func TestHashURL(t *testing.T) {
	a := HashURL("https://Example.com/a?utm_source=x")
	b := HashURL("https://example.com/a")

	require.NotEmpty(t, a)
	assert.Equal(t, a, b, "equivalent URLs should hash equal")
	assert.Empty(t, HashURL(""))
}

func TestIsXLike(t *testing.T) {
	assert.True(t, IsXLike("https://x.com/user/status/1"))
	assert.True(t, IsXLike("https://www.twitter.com/user"))
	assert.False(t, IsXLike("https://example.com/x"))
}
