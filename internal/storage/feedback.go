package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/lensfeed/lensfeed/internal/core/domain"
)

// InsertFeedbackEvent appends one user reaction.
func (db *DB) InsertFeedbackEvent(ctx context.Context, event domain.FeedbackEvent) (string, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO feedback_events (id, user_id, content_item_id, digest_id, action)
		VALUES ($1, $2, $3, $4, $5)
	`, toUUID(event.ID), toUUID(event.UserID), toUUID(event.ContentItemID),
		toUUID(event.DigestID), event.Action)
	if err != nil {
		return "", fmt.Errorf("insert feedback event: %w", err)
	}

	return event.ID, nil
}

// FeedbackRow is one feedback event joined with the item's source facets and
// its embedding (when present).
type FeedbackRow struct {
	Action     string
	SourceType string
	SourceID   string
	Author     string
	Vector     []float32
	CreatedAt  time.Time
}

// ListRecentFeedback returns the user's feedback since the given instant,
// for items belonging to the topic.
func (db *DB) ListRecentFeedback(ctx context.Context, userID, topicID string, since time.Time) ([]FeedbackRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT f.action, i.source_type, i.source_id::text, i.author, e.vector, f.created_at
		FROM feedback_events f
		JOIN content_items i ON i.id = f.content_item_id
		LEFT JOIN embeddings e ON e.content_item_id = i.id
		WHERE f.user_id = $2
		  AND f.created_at >= $3
		  AND `+topicScopeExists+`
		ORDER BY f.created_at
	`, toUUID(topicID), toUUID(userID), toTimestamptz(since))
	if err != nil {
		return nil, fmt.Errorf("list recent feedback: %w", err)
	}
	defer rows.Close()

	var out []FeedbackRow

	for rows.Next() {
		var (
			row FeedbackRow
			vec *pgvector.Vector
		)

		if err := rows.Scan(&row.Action, &row.SourceType, &row.SourceID, &row.Author, &vec, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback row: %w", err)
		}

		if vec != nil {
			row.Vector = vec.Slice()
		}

		row.CreatedAt = row.CreatedAt.UTC()
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recent feedback: %w", err)
	}

	return out, nil
}

// GetPreferenceProfile loads the topic preference profile, or nil when none
// exists yet.
func (db *DB) GetPreferenceProfile(ctx context.Context, userID, topicID string) (*domain.PreferenceProfile, error) {
	var (
		profile domain.PreferenceProfile
		posVec  *pgvector.Vector
		negVec  *pgvector.Vector
	)

	err := db.Pool.QueryRow(ctx, `
		SELECT positive_vector, negative_vector, positive_count, negative_count
		FROM topic_preference_profiles
		WHERE user_id = $1 AND topic_id = $2
	`, toUUID(userID), toUUID(topicID)).Scan(&posVec, &negVec, &profile.PositiveCount, &profile.NegativeCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // not found is not an error
		}

		return nil, fmt.Errorf("get preference profile: %w", err)
	}

	profile.UserID = userID
	profile.TopicID = topicID

	if posVec != nil {
		profile.PositiveVector = posVec.Slice()
	}

	if negVec != nil {
		profile.NegativeVector = negVec.Slice()
	}

	return &profile, nil
}

// UpsertPreferenceProfile replaces the topic preference profile.
func (db *DB) UpsertPreferenceProfile(ctx context.Context, profile domain.PreferenceProfile) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO topic_preference_profiles (user_id, topic_id, positive_vector, negative_vector, positive_count, negative_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, topic_id) DO UPDATE SET
			positive_vector = EXCLUDED.positive_vector,
			negative_vector = EXCLUDED.negative_vector,
			positive_count = EXCLUDED.positive_count,
			negative_count = EXCLUDED.negative_count
	`, toUUID(profile.UserID), toUUID(profile.TopicID),
		vectorOrNil(profile.PositiveVector), vectorOrNil(profile.NegativeVector),
		toInt4(profile.PositiveCount), toInt4(profile.NegativeCount))
	if err != nil {
		return fmt.Errorf("upsert preference profile: %w", err)
	}

	return nil
}

func vectorOrNil(v []float32) any {
	if len(v) == 0 {
		return nil
	}

	return pgvector.NewVector(v)
}
