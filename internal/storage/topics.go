package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/lensfeed/lensfeed/internal/core/domain"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// EnsureUser inserts the user row if it does not exist and returns its id.
func (db *DB) EnsureUser(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		userID = uuid.NewString()
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO users (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, toUUID(userID))
	if err != nil {
		return "", fmt.Errorf("ensure user: %w", err)
	}

	return userID, nil
}

const topicColumns = `id, user_id, name, digest_schedule_enabled, digest_interval_minutes,
	digest_mode, digest_depth, digest_cursor_end, decay_hours`

// ListScheduledTopics returns all topics with digest scheduling enabled.
func (db *DB) ListScheduledTopics(ctx context.Context) ([]domain.Topic, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+topicColumns+`
		FROM topics
		WHERE digest_schedule_enabled
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled topics: %w", err)
	}
	defer rows.Close()

	var topics []domain.Topic

	for rows.Next() {
		topic, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}

		topics = append(topics, topic)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list scheduled topics: %w", err)
	}

	return topics, nil
}

// GetTopic loads one topic by id.
func (db *DB) GetTopic(ctx context.Context, topicID string) (*domain.Topic, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+topicColumns+`
		FROM topics
		WHERE id = $1
	`, toUUID(topicID))

	topic, err := scanTopic(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	return &topic, nil
}

// CreateTopic inserts a topic and returns its id.
func (db *DB) CreateTopic(ctx context.Context, topic domain.Topic) (string, error) {
	if topic.ID == "" {
		topic.ID = uuid.NewString()
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO topics (id, user_id, name, digest_schedule_enabled, digest_interval_minutes,
			digest_mode, digest_depth, digest_cursor_end, decay_hours)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, toUUID(topic.ID), toUUID(topic.UserID), topic.Name, topic.ScheduleEnabled,
		toInt4(topic.IntervalMinutes), string(topic.Mode), toInt4(topic.Depth),
		toTimestamptzPtr(topic.CursorEnd), toFloat8Ptr(topic.DecayHours))
	if err != nil {
		return "", fmt.Errorf("create topic: %w", err)
	}

	return topic.ID, nil
}

// AdvanceTopicCursor sets digest_cursor_end, but never moves it backwards.
func (db *DB) AdvanceTopicCursor(ctx context.Context, topicID string, cursorEnd time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE topics
		SET digest_cursor_end = $2
		WHERE id = $1
		  AND (digest_cursor_end IS NULL OR digest_cursor_end < $2)
	`, toUUID(topicID), toTimestamptz(cursorEnd))
	if err != nil {
		return fmt.Errorf("advance topic cursor: %w", err)
	}

	return nil
}

func scanTopic(row pgx.Row) (domain.Topic, error) {
	var (
		topic     domain.Topic
		id, user  pgtype.UUID
		mode      string
		cursorEnd pgtype.Timestamptz
		decay     pgtype.Float8
	)

	if err := row.Scan(&id, &user, &topic.Name, &topic.ScheduleEnabled,
		&topic.IntervalMinutes, &mode, &topic.Depth, &cursorEnd, &decay); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Topic{}, pgx.ErrNoRows
		}

		return domain.Topic{}, fmt.Errorf("scan topic: %w", err)
	}

	topic.ID = fromUUID(id)
	topic.UserID = fromUUID(user)
	topic.Mode = domain.ParseTier(mode)
	topic.CursorEnd = fromTimestamptzPtr(cursorEnd)
	topic.DecayHours = fromFloat8Ptr(decay)

	return topic, nil
}
