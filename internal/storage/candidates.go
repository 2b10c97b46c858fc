package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/lensfeed/lensfeed/internal/core/domain"
)

// CandidateItem carries the item fields the digest stage needs.
type CandidateItem struct {
	ID           string
	SourceID     string
	SourceType   string
	Title        string
	BodyText     string
	Author       string
	CanonicalURL *string
	At           time.Time
	PublishedAt  *time.Time
	Metadata     map[string]any
}

// ClusterCandidateRow is a cluster with at least one in-window member. The
// representative is the in-window member with a non-empty title, else the
// most recent in-window member.
type ClusterCandidateRow struct {
	ClusterID         string
	Centroid          []float32
	MemberCount       int
	MemberSourceIDs   []string
	MemberSourceTypes []string
	Representative    CandidateItem
}

// ItemCandidateRow is a standalone (unclustered) in-window item.
type ItemCandidateRow struct {
	Item   CandidateItem
	Vector []float32
}

const liveWindowMember = `i.deleted_at IS NULL
	  AND i.duplicate_of_content_item_id IS NULL
	  AND ` + notSignalBundle + `
	  AND COALESCE(i.published_at, i.fetched_at) >= $2
	  AND COALESCE(i.published_at, i.fetched_at) < $3`

// ListClusterCandidates returns the clusters with in-window topic members.
func (db *DB) ListClusterCandidates(ctx context.Context, topicID string, window domain.Window) ([]ClusterCandidateRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT DISTINCT ON (c.id)
		       c.id, c.centroid, c.member_count,
		       i.id, i.source_id, i.source_type, i.title, i.body_text, i.author,
		       i.canonical_url, i.published_at, i.fetched_at, i.metadata
		FROM clusters c
		JOIN cluster_items ci ON ci.cluster_id = c.id
		JOIN content_items i ON i.id = ci.content_item_id
		WHERE `+topicScopeExists+`
		  AND `+liveWindowMember+`
		ORDER BY c.id, (i.title <> '') DESC, COALESCE(i.published_at, i.fetched_at) DESC
	`, toUUID(topicID), toTimestamptz(window.Start), toTimestamptz(window.End))
	if err != nil {
		return nil, fmt.Errorf("list cluster candidates: %w", err)
	}
	defer rows.Close()

	var out []ClusterCandidateRow

	for rows.Next() {
		var (
			row      ClusterCandidateRow
			centroid pgvector.Vector
		)

		item, clusterID, err := scanClusterCandidate(rows, &centroid, &row.MemberCount)
		if err != nil {
			return nil, err
		}

		row.ClusterID = clusterID
		row.Centroid = centroid.Slice()
		row.Representative = item
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cluster candidates: %w", err)
	}

	if err := db.fillMemberSources(ctx, topicID, window, out); err != nil {
		return nil, err
	}

	return out, nil
}

func scanClusterCandidate(row interface {
	Scan(dest ...any) error
}, centroid *pgvector.Vector, memberCount *int) (CandidateItem, string, error) {
	var (
		item                     CandidateItem
		clusterID, itemID, srcID pgtype.UUID
		canonicalURL             pgtype.Text
		publishedAt, fetchedAt   pgtype.Timestamptz
	)

	if err := row.Scan(&clusterID, centroid, memberCount,
		&itemID, &srcID, &item.SourceType, &item.Title, &item.BodyText, &item.Author,
		&canonicalURL, &publishedAt, &fetchedAt, &item.Metadata); err != nil {
		return CandidateItem{}, "", fmt.Errorf("scan cluster candidate: %w", err)
	}

	item.ID = fromUUID(itemID)
	item.SourceID = fromUUID(srcID)
	item.CanonicalURL = fromTextPtr(canonicalURL)
	item.PublishedAt = fromTimestamptzPtr(publishedAt)
	item.At = effectiveAt(publishedAt, fetchedAt)

	return item, fromUUID(clusterID), nil
}

func (db *DB) fillMemberSources(ctx context.Context, topicID string, window domain.Window, clusters []ClusterCandidateRow) error {
	if len(clusters) == 0 {
		return nil
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT c.id::text,
		       array_agg(DISTINCT i.source_id::text),
		       array_agg(DISTINCT i.source_type)
		FROM clusters c
		JOIN cluster_items ci ON ci.cluster_id = c.id
		JOIN content_items i ON i.id = ci.content_item_id
		WHERE `+topicScopeExists+`
		  AND `+liveWindowMember+`
		GROUP BY c.id
	`, toUUID(topicID), toTimestamptz(window.Start), toTimestamptz(window.End))
	if err != nil {
		return fmt.Errorf("aggregate member sources: %w", err)
	}
	defer rows.Close()

	byCluster := map[string][2][]string{}

	for rows.Next() {
		var (
			id      string
			srcIDs  []string
			srcTyps []string
		)

		if err := rows.Scan(&id, &srcIDs, &srcTyps); err != nil {
			return fmt.Errorf("scan member sources: %w", err)
		}

		byCluster[id] = [2][]string{srcIDs, srcTyps}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("aggregate member sources: %w", err)
	}

	for i := range clusters {
		if agg, ok := byCluster[clusters[i].ClusterID]; ok {
			clusters[i].MemberSourceIDs = agg[0]
			clusters[i].MemberSourceTypes = agg[1]
		}
	}

	return nil
}

// ListItemCandidates returns in-window topic items with embeddings that are
// live and not members of any cluster.
func (db *DB) ListItemCandidates(ctx context.Context, topicID string, window domain.Window) ([]ItemCandidateRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT i.id, i.source_id, i.source_type, i.title, i.body_text, i.author,
		       i.canonical_url, i.published_at, i.fetched_at, i.metadata, e.vector
		FROM content_items i
		JOIN embeddings e ON e.content_item_id = i.id
		WHERE `+topicScopeExists+`
		  AND `+liveWindowMember+`
		  AND NOT EXISTS (SELECT 1 FROM cluster_items ci WHERE ci.content_item_id = i.id)
		ORDER BY COALESCE(i.published_at, i.fetched_at) DESC
	`, toUUID(topicID), toTimestamptz(window.Start), toTimestamptz(window.End))
	if err != nil {
		return nil, fmt.Errorf("list item candidates: %w", err)
	}
	defer rows.Close()

	var out []ItemCandidateRow

	for rows.Next() {
		var (
			row                    ItemCandidateRow
			itemID, srcID          pgtype.UUID
			canonicalURL           pgtype.Text
			publishedAt, fetchedAt pgtype.Timestamptz
			vec                    pgvector.Vector
		)

		if err := rows.Scan(&itemID, &srcID, &row.Item.SourceType, &row.Item.Title,
			&row.Item.BodyText, &row.Item.Author, &canonicalURL, &publishedAt,
			&fetchedAt, &row.Item.Metadata, &vec); err != nil {
			return nil, fmt.Errorf("scan item candidate: %w", err)
		}

		row.Item.ID = fromUUID(itemID)
		row.Item.SourceID = fromUUID(srcID)
		row.Item.CanonicalURL = fromTextPtr(canonicalURL)
		row.Item.PublishedAt = fromTimestamptzPtr(publishedAt)
		row.Item.At = effectiveAt(publishedAt, fetchedAt)
		row.Vector = vec.Slice()

		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list item candidates: %w", err)
	}

	return out, nil
}

func effectiveAt(publishedAt, fetchedAt pgtype.Timestamptz) time.Time {
	if publishedAt.Valid {
		return publishedAt.Time.UTC()
	}

	return fetchedAt.Time.UTC()
}
