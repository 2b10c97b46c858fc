package connector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	readability "github.com/go-shiori/go-readability"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/core/urlcanon"
)

const (
	TypeRSS = "rss"

	rssFetchTimeout   = 30 * time.Second
	cursorLastPublish = "last_published_at"
	configFeedURL     = "feed_url"
)

// RSS fetches items from an RSS or Atom feed.
type RSS struct {
	parser *gofeed.Parser
	logger *zerolog.Logger
}

func NewRSS(logger *zerolog.Logger) *RSS {
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: rssFetchTimeout}

	return &RSS{parser: parser, logger: logger}
}

func (r *RSS) Type() string { return TypeRSS }

func (r *RSS) Fetch(ctx context.Context, params FetchParams) (*FetchResult, error) {
	feedURL, _ := params.Source.Config[configFeedURL].(string)
	if feedURL == "" {
		return nil, fmt.Errorf("source %s: missing %s in config", params.Source.ID, configFeedURL)
	}

	feed, err := r.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing feed %s: %w", feedURL, err)
	}

	cursorAfter := cursorTime(params.Cursor)

	var (
		raw    []any
		newest time.Time
	)

	for _, item := range feed.Items {
		published := itemPublished(item)

		if published != nil {
			if !published.Before(params.WindowEnd) {
				continue
			}

			if cursorAfter != nil && !published.After(*cursorAfter) {
				continue
			}

			if published.After(newest) {
				newest = *published
			}
		}

		raw = append(raw, item)
		if params.MaxItems > 0 && len(raw) >= params.MaxItems {
			break
		}
	}

	next := map[string]any{}
	if !newest.IsZero() {
		next[cursorLastPublish] = newest.UTC().Format(time.RFC3339)
	} else if cursorAfter != nil {
		next[cursorLastPublish] = cursorAfter.UTC().Format(time.RFC3339)
	}

	return &FetchResult{RawItems: raw, NextCursor: next}, nil
}

func (r *RSS) Normalize(raw any, params FetchParams) (*domain.ContentItemDraft, error) {
	item, ok := raw.(*gofeed.Item)
	if !ok {
		return nil, fmt.Errorf("unexpected raw item type %T", raw)
	}

	body := item.Description
	if item.Content != "" {
		body = item.Content
	}

	if strings.Contains(body, "<") {
		if text, err := extractText(body, item.Link); err == nil && text != "" {
			body = text
		}
	}

	externalID := item.GUID
	if externalID == "" {
		externalID = item.Link
	}

	author := ""
	if len(item.Authors) > 0 {
		author = item.Authors[0].Name
	}

	draft := &domain.ContentItemDraft{
		SourceType:   TypeRSS,
		ExternalID:   externalID,
		CanonicalURL: urlcanon.Canonicalize(item.Link),
		Title:        strings.TrimSpace(item.Title),
		BodyText:     strings.TrimSpace(body),
		Author:       author,
		PublishedAt:  itemPublished(item),
		Metadata:     map[string]any{"feed_title": feedTitle(params)},
		Raw:          map[string]any{"guid": item.GUID, "link": item.Link},
	}

	return draft, nil
}

func feedTitle(params FetchParams) string {
	return params.Source.Name
}

func itemPublished(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		t := item.PublishedParsed.UTC()
		return &t
	}

	if item.UpdatedParsed != nil {
		t := item.UpdatedParsed.UTC()
		return &t
	}

	if item.Published != "" {
		if t, err := dateparse.ParseAny(item.Published); err == nil {
			t = t.UTC()
			return &t
		}
	}

	return nil
}

func cursorTime(cursor map[string]any) *time.Time {
	raw, _ := cursor[cursorLastPublish].(string)
	if raw == "" {
		return nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}

	t = t.UTC()

	return &t
}

func extractText(html, link string) (string, error) {
	pageURL, err := url.Parse(link)
	if err != nil {
		pageURL = &url.URL{}
	}

	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		return "", fmt.Errorf("extracting readable text: %w", err)
	}

	return strings.TrimSpace(article.TextContent), nil
}
