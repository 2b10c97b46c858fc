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

// ListUnclusteredItems returns in-window topic items with embeddings that are
// live, not duplicates, not signal bundles, and not yet in any cluster.
func (db *DB) ListUnclusteredItems(ctx context.Context, topicID string, window domain.Window, limit int) ([]VectorItem, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT i.id, COALESCE(i.published_at, i.fetched_at), e.vector
		FROM content_items i
		JOIN embeddings e ON e.content_item_id = i.id
		WHERE `+topicScopeExists+`
		  AND i.deleted_at IS NULL
		  AND i.duplicate_of_content_item_id IS NULL
		  AND `+notSignalBundle+`
		  AND NOT EXISTS (SELECT 1 FROM cluster_items ci WHERE ci.content_item_id = i.id)
		  AND COALESCE(i.published_at, i.fetched_at) >= $2
		  AND COALESCE(i.published_at, i.fetched_at) < $3
		ORDER BY COALESCE(i.published_at, i.fetched_at)
		LIMIT $4
	`, toUUID(topicID), toTimestamptz(window.Start), toTimestamptz(window.End), toInt4(limit))
	if err != nil {
		return nil, fmt.Errorf("list unclustered items: %w", err)
	}
	defer rows.Close()

	return scanVectorItems(rows)
}

// NearestCluster is the closest hot cluster to a vector.
type NearestCluster struct {
	ClusterID   string
	Similarity  float64
	MemberCount int
}

// FindNearestHotCluster finds the user's cluster with the nearest centroid
// among clusters touched since hotSince. Returns nil when none exists.
func (db *DB) FindNearestHotCluster(ctx context.Context, userID string, vector []float32, hotSince time.Time) (*NearestCluster, error) {
	var (
		id         pgtype.UUID
		similarity float64
		members    int
	)

	err := db.Pool.QueryRow(ctx, `
		SELECT id, 1 - (centroid <=> $2::vector) AS similarity, member_count
		FROM clusters
		WHERE user_id = $1 AND updated_at >= $3
		ORDER BY centroid <=> $2::vector
		LIMIT 1
	`, toUUID(userID), pgvector.NewVector(vector), toTimestamptz(hotSince)).Scan(&id, &similarity, &members)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil //nolint:nilnil // not found is not an error
		}

		return nil, fmt.Errorf("find nearest hot cluster: %w", err)
	}

	return &NearestCluster{ClusterID: fromUUID(id), Similarity: similarity, MemberCount: members}, nil
}

// CreateCluster anchors a new cluster on one item in a single transaction.
func (db *DB) CreateCluster(ctx context.Context, userID, itemID string, vector []float32, now time.Time) (string, error) {
	clusterID := uuid.NewString()

	err := db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO clusters (id, user_id, representative_content_item_id, centroid, member_count, updated_at)
			VALUES ($1, $2, $3, $4, 1, $5)
		`, toUUID(clusterID), toUUID(userID), toUUID(itemID), pgvector.NewVector(vector), toTimestamptz(now)); err != nil {
			return fmt.Errorf("insert cluster: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO cluster_items (cluster_id, content_item_id, similarity)
			VALUES ($1, $2, 1.0)
			ON CONFLICT (content_item_id) DO NOTHING
		`, toUUID(clusterID), toUUID(itemID)); err != nil {
			return fmt.Errorf("insert anchor cluster item: %w", err)
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	return clusterID, nil
}

// AssignToCluster adds an item to an existing cluster, fills a missing
// representative, and optionally folds the item vector into the centroid.
// Runs in one transaction; a concurrent assignment of the same item elsewhere
// leaves this call a no-op on the membership.
func (db *DB) AssignToCluster(
	ctx context.Context,
	clusterID, itemID string,
	similarity float64,
	vector []float32,
	updateCentroid bool,
	now time.Time,
) error {
	return db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO cluster_items (cluster_id, content_item_id, similarity)
			VALUES ($1, $2, $3)
			ON CONFLICT (content_item_id) DO NOTHING
		`, toUUID(clusterID), toUUID(itemID), similarity)
		if err != nil {
			return fmt.Errorf("insert cluster item: %w", err)
		}

		if tag.RowsAffected() == 0 {
			return nil
		}

		if _, err := tx.Exec(ctx, `
			UPDATE clusters
			SET updated_at = $2,
			    representative_content_item_id = COALESCE(representative_content_item_id, $3)
			WHERE id = $1
		`, toUUID(clusterID), toTimestamptz(now), toUUID(itemID)); err != nil {
			return fmt.Errorf("touch cluster: %w", err)
		}

		if !updateCentroid {
			if _, err := tx.Exec(ctx, `
				UPDATE clusters SET member_count = member_count + 1 WHERE id = $1
			`, toUUID(clusterID)); err != nil {
				return fmt.Errorf("bump member count: %w", err)
			}

			return nil
		}

		var (
			centroid pgvector.Vector
			n        int
		)

		if err := tx.QueryRow(ctx, `
			SELECT centroid, member_count FROM clusters WHERE id = $1 FOR UPDATE
		`, toUUID(clusterID)).Scan(&centroid, &n); err != nil {
			return fmt.Errorf("lock cluster for centroid update: %w", err)
		}

		// centroid' = (centroid*n + v) / (n+1), n = pre-insert member count
		next := runningMean(centroid.Slice(), vector, n)

		if _, err := tx.Exec(ctx, `
			UPDATE clusters
			SET centroid = $2, member_count = $3
			WHERE id = $1
		`, toUUID(clusterID), pgvector.NewVector(next), toInt4(n+1)); err != nil {
			return fmt.Errorf("update centroid: %w", err)
		}

		return nil
	})
}

func runningMean(centroid, vector []float32, n int) []float32 {
	if len(centroid) != len(vector) || n < 1 {
		return centroid
	}

	next := make([]float32, len(centroid))
	for i := range centroid {
		next[i] = (centroid[i]*float32(n) + vector[i]) / float32(n+1)
	}

	return next
}
