// Package connector defines the source connector contract and the registry
// that resolves a source type string to an implementation.
package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/lensfeed/lensfeed/internal/core/domain"
)

// FetchParams is the per-run input handed to a connector.
type FetchParams struct {
	Source domain.Source
	Cursor map[string]any

	// MaxItems bounds items returned; MaxPaidCalls bounds provider search
	// calls for paid connectors. Both are per run.
	MaxItems     int
	MaxPaidCalls int

	WindowStart time.Time
	WindowEnd   time.Time
}

// ProviderCallDraft is embedded accounting for paid fetches; the ingest stage
// persists it.
type ProviderCallDraft struct {
	Purpose             string
	Provider            string
	Model               string
	InputTokens         int
	OutputTokens        int
	CostEstimateCredits float64
	Meta                map[string]any
	Status              string
	Error               map[string]any
}

// FetchResult is the raw output of one fetch.
type FetchResult struct {
	RawItems      []any
	NextCursor    map[string]any
	ProviderCalls []ProviderCallDraft
}

// Connector fetches raw items from one source type and normalizes them into
// content item drafts.
type Connector interface {
	Type() string
	Fetch(ctx context.Context, params FetchParams) (*FetchResult, error)
	Normalize(raw any, params FetchParams) (*domain.ContentItemDraft, error)
}

// Registry resolves source types to connectors and knows which types are
// paid.
type Registry struct {
	connectors map[string]Connector
	paidTypes  map[string]struct{}
}

func NewRegistry(paidTypes []string) *Registry {
	paid := make(map[string]struct{}, len(paidTypes))
	for _, t := range paidTypes {
		paid[t] = struct{}{}
	}

	return &Registry{
		connectors: map[string]Connector{},
		paidTypes:  paid,
	}
}

func (r *Registry) Register(c Connector) {
	r.connectors[c.Type()] = c
}

// Lookup returns the connector for a source type.
func (r *Registry) Lookup(sourceType string) (Connector, error) {
	c, ok := r.connectors[sourceType]
	if !ok {
		return nil, fmt.Errorf("no connector registered for source type %q", sourceType)
	}

	return c, nil
}

// Paid reports whether fetches of this source type consume credits.
func (r *Registry) Paid(sourceType string) bool {
	_, ok := r.paidTypes[sourceType]
	return ok
}
