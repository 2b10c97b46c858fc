package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lensfeed/lensfeed/internal/core/domain"
)

// ListEnabledSources returns the enabled sources of a topic, ordered by name
// for deterministic ingest order.
func (db *DB) ListEnabledSources(ctx context.Context, topicID string) ([]domain.Source, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, user_id, topic_id, type, name, config, cursor, is_enabled, weight
		FROM sources
		WHERE topic_id = $1 AND is_enabled
		ORDER BY name
	`, toUUID(topicID))
	if err != nil {
		return nil, fmt.Errorf("list enabled sources: %w", err)
	}
	defer rows.Close()

	var sources []domain.Source

	for rows.Next() {
		var (
			src             domain.Source
			id, user, topic pgtype.UUID
			weight          pgtype.Float8
		)

		if err := rows.Scan(&id, &user, &topic, &src.Type, &src.Name,
			&src.Config, &src.Cursor, &src.Enabled, &weight); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}

		src.ID = fromUUID(id)
		src.UserID = fromUUID(user)
		src.TopicID = fromUUID(topic)
		src.Weight = fromFloat8Ptr(weight)

		sources = append(sources, src)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list enabled sources: %w", err)
	}

	return sources, nil
}

// CreateSource inserts a source and returns its id.
func (db *DB) CreateSource(ctx context.Context, src domain.Source) (string, error) {
	if src.ID == "" {
		src.ID = uuid.NewString()
	}

	if src.Config == nil {
		src.Config = map[string]any{}
	}

	if src.Cursor == nil {
		src.Cursor = map[string]any{}
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO sources (id, user_id, topic_id, type, name, config, cursor, is_enabled, weight)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, toUUID(src.ID), toUUID(src.UserID), toUUID(src.TopicID), src.Type, src.Name,
		src.Config, src.Cursor, src.Enabled, toFloat8Ptr(src.Weight))
	if err != nil {
		return "", fmt.Errorf("create source: %w", err)
	}

	return src.ID, nil
}

// UpdateSourceCursor replaces the cursor map of a source.
func (db *DB) UpdateSourceCursor(ctx context.Context, sourceID string, cursor map[string]any) error {
	if cursor == nil {
		cursor = map[string]any{}
	}

	_, err := db.Pool.Exec(ctx, `
		UPDATE sources SET cursor = $2 WHERE id = $1
	`, toUUID(sourceID), cursor)
	if err != nil {
		return fmt.Errorf("update source cursor: %w", err)
	}

	return nil
}
