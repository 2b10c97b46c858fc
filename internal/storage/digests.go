package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lensfeed/lensfeed/internal/core/domain"
)

// UpsertDigestWithItems writes the digest and its ordered items atomically.
// An existing digest for the same (user, topic, window, mode) is refreshed
// and its items fully replaced; readers never see a partial digest.
func (db *DB) UpsertDigestWithItems(ctx context.Context, digest domain.Digest, items []domain.DigestItem) (string, error) {
	if digest.ID == "" {
		digest.ID = uuid.NewString()
	}

	err := db.WithTx(ctx, func(tx pgx.Tx) error {
		var id pgtype.UUID

		if err := tx.QueryRow(ctx, `
			INSERT INTO digests (id, user_id, topic_id, window_start, window_end, mode, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			ON CONFLICT (user_id, topic_id, window_start, window_end, mode)
			DO UPDATE SET created_at = now()
			RETURNING id
		`, toUUID(digest.ID), toUUID(digest.UserID), toUUID(digest.TopicID),
			toTimestamptz(digest.WindowStart), toTimestamptz(digest.WindowEnd),
			string(digest.Mode)).Scan(&id); err != nil {
			return fmt.Errorf("upsert digest: %w", err)
		}

		digest.ID = fromUUID(id)

		if _, err := tx.Exec(ctx, `
			DELETE FROM digest_items WHERE digest_id = $1
		`, toUUID(digest.ID)); err != nil {
			return fmt.Errorf("clear digest items: %w", err)
		}

		for _, item := range items {
			var clusterID, contentItemID pgtype.UUID
			if item.ClusterID != nil {
				clusterID = toUUID(*item.ClusterID)
			}

			if item.ContentItemID != nil {
				contentItemID = toUUID(*item.ContentItemID)
			}

			if _, err := tx.Exec(ctx, `
				INSERT INTO digest_items (digest_id, rank, cluster_id, content_item_id, score, triage_json, summary_json)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, toUUID(digest.ID), toInt4(item.Rank), clusterID, contentItemID,
				item.Score, item.TriageJSON, item.SummaryJSON); err != nil {
				return fmt.Errorf("insert digest item rank %d: %w", item.Rank, err)
			}
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	return digest.ID, nil
}

// ListDigests returns the most recent digests of a topic, newest first.
func (db *DB) ListDigests(ctx context.Context, topicID string, limit int) ([]domain.Digest, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, user_id, topic_id, window_start, window_end, mode, created_at
		FROM digests
		WHERE topic_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, toUUID(topicID), toInt4(limit))
	if err != nil {
		return nil, fmt.Errorf("list digests: %w", err)
	}
	defer rows.Close()

	var digests []domain.Digest

	for rows.Next() {
		var (
			d               domain.Digest
			id, user, topic pgtype.UUID
			mode            string
		)

		if err := rows.Scan(&id, &user, &topic, &d.WindowStart, &d.WindowEnd, &mode, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan digest: %w", err)
		}

		d.ID = fromUUID(id)
		d.UserID = fromUUID(user)
		d.TopicID = fromUUID(topic)
		d.Mode = domain.ParseTier(mode)

		digests = append(digests, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list digests: %w", err)
	}

	return digests, nil
}

// ListDigestItems returns the ordered items of a digest.
func (db *DB) ListDigestItems(ctx context.Context, digestID string) ([]domain.DigestItem, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT digest_id, rank, cluster_id, content_item_id, score, triage_json, summary_json
		FROM digest_items
		WHERE digest_id = $1
		ORDER BY rank
	`, toUUID(digestID))
	if err != nil {
		return nil, fmt.Errorf("list digest items: %w", err)
	}
	defer rows.Close()

	var items []domain.DigestItem

	for rows.Next() {
		var (
			item                   domain.DigestItem
			dID, clusterID, itemID pgtype.UUID
		)

		if err := rows.Scan(&dID, &item.Rank, &clusterID, &itemID, &item.Score,
			&item.TriageJSON, &item.SummaryJSON); err != nil {
			return nil, fmt.Errorf("scan digest item: %w", err)
		}

		item.DigestID = fromUUID(dID)
		item.ClusterID = fromUUIDPtr(clusterID)
		item.ContentItemID = fromUUIDPtr(itemID)

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list digest items: %w", err)
	}

	return items, nil
}
