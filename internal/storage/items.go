package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/lensfeed/lensfeed/internal/core/domain"
)

// topicScope restricts a content_items alias i to one topic via the
// item-source links. $1 is always the topic id in queries using it.
const topicScopeExists = `EXISTS (
	SELECT 1 FROM content_item_sources cis
	JOIN sources s ON s.id = cis.source_id
	WHERE cis.content_item_id = i.id AND s.topic_id = $1
)`

// signal bundles are signal-source items without a canonical URL; they feed
// corroboration and are excluded from dedupe, clustering, and candidates.
const notSignalBundle = `NOT (i.source_type = 'signal' AND i.canonical_url IS NULL)`

// UpsertContentItem inserts or updates a content item using the keying
// already resolved by the caller: external_id when present, else hash_url.
// Returns the item id and whether the row was newly inserted.
func (db *DB) UpsertContentItem(ctx context.Context, item domain.ContentItem) (string, bool, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	if item.Metadata == nil {
		item.Metadata = map[string]any{}
	}

	if item.Raw == nil {
		item.Raw = map[string]any{}
	}

	conflict := `(user_id, hash_url) WHERE hash_url IS NOT NULL`
	if item.ExternalID != nil {
		conflict = `(source_id, external_id) WHERE external_id IS NOT NULL`
	}

	var (
		id       pgtype.UUID
		inserted bool
	)

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO content_items (id, user_id, source_id, source_type, external_id,
			canonical_url, title, body_text, author, published_at, fetched_at,
			metadata, raw, hash_url, hash_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT `+conflict+` DO UPDATE SET
			title = EXCLUDED.title,
			body_text = EXCLUDED.body_text,
			author = EXCLUDED.author,
			canonical_url = COALESCE(EXCLUDED.canonical_url, content_items.canonical_url),
			hash_url = COALESCE(EXCLUDED.hash_url, content_items.hash_url),
			published_at = COALESCE(EXCLUDED.published_at, content_items.published_at),
			metadata = EXCLUDED.metadata,
			raw = EXCLUDED.raw
		RETURNING id, (xmax = 0)
	`, toUUID(item.ID), toUUID(item.UserID), toUUID(item.SourceID), item.SourceType,
		toTextPtr(item.ExternalID), toTextPtr(item.CanonicalURL),
		sanitizeUTF8(item.Title), sanitizeUTF8(item.BodyText), sanitizeUTF8(item.Author),
		toTimestamptzPtr(item.PublishedAt), toTimestamptz(item.FetchedAt),
		item.Metadata, item.Raw, toTextPtr(item.HashURL), toTextPtr(item.HashText),
	).Scan(&id, &inserted)
	if err != nil {
		return "", false, fmt.Errorf("upsert content item: %w", err)
	}

	return fromUUID(id), inserted, nil
}

// LinkItemSource records that an item was seen via a source. Idempotent.
func (db *DB) LinkItemSource(ctx context.Context, contentItemID, sourceID string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO content_item_sources (content_item_id, source_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, toUUID(contentItemID), toUUID(sourceID))
	if err != nil {
		return fmt.Errorf("link item source: %w", err)
	}

	return nil
}

// EmbedCandidate is one item the embed stage must process.
type EmbedCandidate struct {
	ID              string
	Title           string
	BodyText        string
	HasEmbedding    bool
	HashTextMissing bool
}

// ListItemsNeedingEmbedding returns topic-scoped live items that either lack
// an embedding at (model, dims) or have one with a missing hash_text.
func (db *DB) ListItemsNeedingEmbedding(
	ctx context.Context,
	topicID string,
	window *domain.Window,
	model string,
	dims, limit int,
) ([]EmbedCandidate, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT i.id, i.title, i.body_text,
		       (e.content_item_id IS NOT NULL) AS has_embedding,
		       (i.hash_text IS NULL) AS hash_text_missing
		FROM content_items i
		LEFT JOIN embeddings e
		       ON e.content_item_id = i.id AND e.model = $2 AND e.dims = $3
		WHERE `+topicScopeExists+`
		  AND i.deleted_at IS NULL
		  AND i.duplicate_of_content_item_id IS NULL
		  AND (e.content_item_id IS NULL OR i.hash_text IS NULL)
		  AND ($4::timestamptz IS NULL OR COALESCE(i.published_at, i.fetched_at) >= $4)
		  AND ($5::timestamptz IS NULL OR COALESCE(i.published_at, i.fetched_at) < $5)
		ORDER BY COALESCE(i.published_at, i.fetched_at)
		LIMIT $6
	`, toUUID(topicID), model, toInt4(dims), windowStart(window), windowEnd(window), toInt4(limit))
	if err != nil {
		return nil, fmt.Errorf("list items needing embedding: %w", err)
	}
	defer rows.Close()

	var out []EmbedCandidate

	for rows.Next() {
		var (
			c  EmbedCandidate
			id pgtype.UUID
		)

		if err := rows.Scan(&id, &c.Title, &c.BodyText, &c.HasEmbedding, &c.HashTextMissing); err != nil {
			return nil, fmt.Errorf("scan embed candidate: %w", err)
		}

		c.ID = fromUUID(id)
		out = append(out, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list items needing embedding: %w", err)
	}

	return out, nil
}

// SetItemHashText pins the embedded-text hash on an item.
func (db *DB) SetItemHashText(ctx context.Context, itemID, hashText string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE content_items SET hash_text = $2 WHERE id = $1
	`, toUUID(itemID), hashText)
	if err != nil {
		return fmt.Errorf("set item hash_text: %w", err)
	}

	return nil
}

// EmbeddingEntry is one (item, vector) pair of an embed batch.
type EmbeddingEntry struct {
	ContentItemID string
	HashText      string
	Vector        []float32
}

// UpsertEmbeddingsBatch writes a whole batch of embeddings and their items'
// hash_text in one transaction. Either all entries land or none do.
func (db *DB) UpsertEmbeddingsBatch(ctx context.Context, model string, dims int, entries []EmbeddingEntry) error {
	return db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, entry := range entries {
			if _, err := tx.Exec(ctx, `
				UPDATE content_items SET hash_text = $2 WHERE id = $1
			`, toUUID(entry.ContentItemID), entry.HashText); err != nil {
				return fmt.Errorf("set hash_text in batch: %w", err)
			}

			if _, err := tx.Exec(ctx, `
				INSERT INTO embeddings (content_item_id, model, dims, vector)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (content_item_id) DO UPDATE SET
					model = EXCLUDED.model,
					dims = EXCLUDED.dims,
					vector = EXCLUDED.vector,
					created_at = now()
			`, toUUID(entry.ContentItemID), model, toInt4(dims), pgvector.NewVector(entry.Vector)); err != nil {
				return fmt.Errorf("upsert embedding in batch: %w", err)
			}
		}

		return nil
	})
}

// VectorItem is an item plus its embedding vector and effective timestamp.
type VectorItem struct {
	ID     string
	At     time.Time
	Vector []float32
}

// ListDedupeCandidates returns in-window topic items with embeddings that are
// not yet duplicates and not signal bundles, oldest first.
func (db *DB) ListDedupeCandidates(ctx context.Context, topicID string, window domain.Window, limit int) ([]VectorItem, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT i.id, COALESCE(i.published_at, i.fetched_at), e.vector
		FROM content_items i
		JOIN embeddings e ON e.content_item_id = i.id
		WHERE `+topicScopeExists+`
		  AND i.deleted_at IS NULL
		  AND i.duplicate_of_content_item_id IS NULL
		  AND `+notSignalBundle+`
		  AND COALESCE(i.published_at, i.fetched_at) >= $2
		  AND COALESCE(i.published_at, i.fetched_at) < $3
		ORDER BY COALESCE(i.published_at, i.fetched_at)
		LIMIT $4
	`, toUUID(topicID), toTimestamptz(window.Start), toTimestamptz(window.End), toInt4(limit))
	if err != nil {
		return nil, fmt.Errorf("list dedupe candidates: %w", err)
	}
	defer rows.Close()

	return scanVectorItems(rows)
}

// Neighbor is the result of a nearest-neighbor lookup.
type Neighbor struct {
	ContentItemID string
	Similarity    float64
}

// FindNearestOlderNeighbor finds the most similar topic-scoped item strictly
// older than `at` within the lookback. Returns nil when none exists.
func (db *DB) FindNearestOlderNeighbor(
	ctx context.Context,
	topicID, itemID string,
	at time.Time,
	vector []float32,
	lookbackStart time.Time,
) (*Neighbor, error) {
	var (
		id         pgtype.UUID
		similarity float64
	)

	err := db.Pool.QueryRow(ctx, `
		SELECT i.id, 1 - (e.vector <=> $2::vector) AS similarity
		FROM content_items i
		JOIN embeddings e ON e.content_item_id = i.id
		WHERE `+topicScopeExists+`
		  AND i.id <> $3
		  AND i.deleted_at IS NULL
		  AND i.duplicate_of_content_item_id IS NULL
		  AND `+notSignalBundle+`
		  AND COALESCE(i.published_at, i.fetched_at) >= $4
		  AND COALESCE(i.published_at, i.fetched_at) < $5
		ORDER BY e.vector <=> $2::vector
		LIMIT 1
	`, toUUID(topicID), pgvector.NewVector(vector), toUUID(itemID),
		toTimestamptz(lookbackStart), toTimestamptz(at)).Scan(&id, &similarity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // not found is not an error
		}

		return nil, fmt.Errorf("find nearest older neighbor: %w", err)
	}

	return &Neighbor{ContentItemID: fromUUID(id), Similarity: similarity}, nil
}

// MarkDuplicate points an item at the earlier item it duplicates.
func (db *DB) MarkDuplicate(ctx context.Context, itemID, duplicateOfID string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE content_items SET duplicate_of_content_item_id = $2 WHERE id = $1
	`, toUUID(itemID), toUUID(duplicateOfID))
	if err != nil {
		return fmt.Errorf("mark duplicate: %w", err)
	}

	return nil
}

// MaxHistoricSimilarity returns the cosine similarity of the nearest
// topic-scoped embedding in [from, to), or 0 when none exists.
func (db *DB) MaxHistoricSimilarity(ctx context.Context, topicID string, vector []float32, from, to time.Time) (float64, error) {
	var similarity float64

	err := db.Pool.QueryRow(ctx, `
		SELECT 1 - (e.vector <=> $2::vector) AS similarity
		FROM content_items i
		JOIN embeddings e ON e.content_item_id = i.id
		WHERE `+topicScopeExists+`
		  AND i.deleted_at IS NULL
		  AND COALESCE(i.published_at, i.fetched_at) >= $3
		  AND COALESCE(i.published_at, i.fetched_at) < $4
		ORDER BY e.vector <=> $2::vector
		LIMIT 1
	`, toUUID(topicID), pgvector.NewVector(vector), toTimestamptz(from), toTimestamptz(to)).Scan(&similarity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}

		return 0, fmt.Errorf("max historic similarity: %w", err)
	}

	return similarity, nil
}

// ListSignalBundles returns in-window signal items lacking a canonical URL.
func (db *DB) ListSignalBundles(ctx context.Context, topicID string, window domain.Window) ([]domain.ContentItem, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT i.id, i.metadata, i.raw
		FROM content_items i
		WHERE `+topicScopeExists+`
		  AND i.source_type = 'signal'
		  AND i.canonical_url IS NULL
		  AND i.deleted_at IS NULL
		  AND COALESCE(i.published_at, i.fetched_at) >= $2
		  AND COALESCE(i.published_at, i.fetched_at) < $3
	`, toUUID(topicID), toTimestamptz(window.Start), toTimestamptz(window.End))
	if err != nil {
		return nil, fmt.Errorf("list signal bundles: %w", err)
	}
	defer rows.Close()

	var items []domain.ContentItem

	for rows.Next() {
		var (
			item domain.ContentItem
			id   pgtype.UUID
		)

		if err := rows.Scan(&id, &item.Metadata, &item.Raw); err != nil {
			return nil, fmt.Errorf("scan signal bundle: %w", err)
		}

		item.ID = fromUUID(id)
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list signal bundles: %w", err)
	}

	return items, nil
}

func scanVectorItems(rows pgx.Rows) ([]VectorItem, error) {
	var out []VectorItem

	for rows.Next() {
		var (
			item VectorItem
			id   pgtype.UUID
			at   pgtype.Timestamptz
			vec  pgvector.Vector
		)

		if err := rows.Scan(&id, &at, &vec); err != nil {
			return nil, fmt.Errorf("scan vector item: %w", err)
		}

		item.ID = fromUUID(id)
		item.At = at.Time.UTC()
		item.Vector = vec.Slice()
		out = append(out, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector items: %w", err)
	}

	return out, nil
}

func windowStart(w *domain.Window) pgtype.Timestamptz {
	if w == nil {
		return pgtype.Timestamptz{Valid: false}
	}

	return toTimestamptz(w.Start)
}

func windowEnd(w *domain.Window) pgtype.Timestamptz {
	if w == nil {
		return pgtype.Timestamptz{Valid: false}
	}

	return toTimestamptz(w.End)
}
