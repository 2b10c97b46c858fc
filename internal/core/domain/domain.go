// Package domain holds the entities shared across the aggregation pipeline:
// topics, sources, content items, clusters, digests, and the accounting rows
// written by paid provider calls.
package domain

import "time"

// Tier selects LLM model size for a run.
type Tier string

// Supported tiers.
const (
	TierLow    Tier = "low"
	TierNormal Tier = "normal"
	TierHigh   Tier = "high"
)

// ParseTier maps an arbitrary string onto a known tier, defaulting to normal.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierLow, TierNormal, TierHigh:
		return Tier(s)
	default:
		return TierNormal
	}
}

// Feedback actions recorded against digest items.
const (
	FeedbackLike    = "like"
	FeedbackDislike = "dislike"
	FeedbackSave    = "save"
	FeedbackSkip    = "skip"
)

// User is the owner of all other entities. Singleton in the MVP.
type User struct {
	ID        string
	CreatedAt time.Time
}

// Topic is a per-user subject with its own digest cadence and mode.
type Topic struct {
	ID              string
	UserID          string
	Name            string
	ScheduleEnabled bool
	IntervalMinutes int
	Mode            Tier
	Depth           int
	CursorEnd       *time.Time
	DecayHours      *float64
}

// Source is an external feed configured under a topic.
type Source struct {
	ID      string
	UserID  string
	TopicID string
	Type    string
	Name    string
	Config  map[string]any
	Cursor  map[string]any
	Enabled bool
	Weight  *float64
}

// ContentItem is one ingested unit of content.
type ContentItem struct {
	ID           string
	UserID       string
	SourceID     string
	SourceType   string
	ExternalID   *string
	CanonicalURL *string
	Title        string
	BodyText     string
	Author       string
	PublishedAt  *time.Time
	FetchedAt    time.Time
	Metadata     map[string]any
	Raw          map[string]any
	HashURL      *string
	HashText     *string
	DuplicateOf  *string
	DeletedAt    *time.Time
}

// ContentItemDraft is the connector-normalized form of a raw item, before
// upsert keying and hashing.
type ContentItemDraft struct {
	SourceType   string
	ExternalID   string
	CanonicalURL string
	Title        string
	BodyText     string
	Author       string
	PublishedAt  *time.Time
	Metadata     map[string]any
	Raw          map[string]any
}

// Embedding is the vector representation of a content item.
type Embedding struct {
	ContentItemID string
	Model         string
	Dims          int
	Vector        []float32
	CreatedAt     time.Time
}

// Cluster groups related content items under a running-mean centroid.
type Cluster struct {
	ID               string
	UserID           string
	RepresentativeID *string
	Centroid         []float32
	MemberCount      int
	UpdatedAt        time.Time
}

// ClusterItem links a content item to its (single) cluster.
type ClusterItem struct {
	ClusterID     string
	ContentItemID string
	Similarity    float64
}

// PreferenceProfile holds per-(user, topic) EMA vectors over liked and
// disliked item embeddings.
type PreferenceProfile struct {
	UserID         string
	TopicID        string
	PositiveVector []float32
	NegativeVector []float32
	PositiveCount  int
	NegativeCount  int
}

// FeedbackEvent is an append-only user reaction to a digest item.
type FeedbackEvent struct {
	ID            string
	UserID        string
	ContentItemID string
	DigestID      string
	Action        string
	CreatedAt     time.Time
}

// Digest is one persisted, ordered selection for a (user, topic, window, mode).
type Digest struct {
	ID          string
	UserID      string
	TopicID     string
	WindowStart time.Time
	WindowEnd   time.Time
	Mode        Tier
	CreatedAt   time.Time
}

// DigestItem is one ranked entry of a digest. Exactly one of ClusterID or
// ContentItemID is set.
type DigestItem struct {
	DigestID      string
	Rank          int
	ClusterID     *string
	ContentItemID *string
	Score         float64
	TriageJSON    map[string]any
	SummaryJSON   map[string]any
}

// Provider call statuses.
const (
	CallStatusOK    = "ok"
	CallStatusError = "error"
)

// Provider call purposes.
const (
	PurposeTriage            = "triage"
	PurposeEnrich            = "enrich"
	PurposeEmbed             = "embed"
	PurposeCatchupPackSelect = "catchup_pack_select"
	PurposeCatchupPackTier   = "catchup_pack_tier"
)

// ProviderCall is the append-only audit row written for every paid call.
type ProviderCall struct {
	ID                  string
	UserID              string
	Purpose             string
	Provider            string
	Model               string
	InputTokens         int
	OutputTokens        int
	CostEstimateCredits float64
	Meta                map[string]any
	StartedAt           time.Time
	EndedAt             time.Time
	Status              string
	Error               map[string]any
}

// BudgetReset offsets provider-call sums when credits are granted back.
type BudgetReset struct {
	ID             string
	UserID         string
	Period         string // daily | monthly
	CreditsAtReset float64
	ResetAt        time.Time
}

// Fetch run statuses.
const (
	FetchStatusOK      = "ok"
	FetchStatusPartial = "partial"
	FetchStatusError   = "error"
	FetchStatusSkipped = "skipped"
)

// FetchRun records one ingest attempt against one source.
type FetchRun struct {
	ID        string
	SourceID  string
	StartedAt time.Time
	EndedAt   *time.Time
	Status    string
	CursorIn  map[string]any
	CursorOut map[string]any
	Counts    map[string]any
	Error     *string
}

// TriageOutput is the structured result of the LLM triage task.
type TriageOutput struct {
	SchemaVersion       int      `json:"schema_version"`
	PromptID            string   `json:"prompt_id"`
	Provider            string   `json:"provider"`
	Model               string   `json:"model"`
	AIScore             int      `json:"ai_score"`
	Reason              string   `json:"reason"`
	IsRelevant          bool     `json:"is_relevant"`
	IsNovel             bool     `json:"is_novel"`
	Categories          []string `json:"categories"`
	ShouldDeepSummarize bool     `json:"should_deep_summarize"`
	Topic               string   `json:"topic"`
	OneLiner            string   `json:"one_liner"`
}

// Window bounds one pipeline run: [Start, End) in UTC.
type Window struct {
	Start   time.Time
	End     time.Time
	Mode    Tier
	Trigger string
}
