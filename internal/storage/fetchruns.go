package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OpenFetchRun records the start of one ingest attempt against a source.
func (db *DB) OpenFetchRun(ctx context.Context, sourceID string, cursorIn map[string]any, startedAt time.Time) (string, error) {
	id := uuid.NewString()

	if cursorIn == nil {
		cursorIn = map[string]any{}
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO fetch_runs (id, source_id, started_at, status, cursor_in)
		VALUES ($1, $2, $3, 'running', $4)
	`, toUUID(id), toUUID(sourceID), toTimestamptz(startedAt), cursorIn)
	if err != nil {
		return "", fmt.Errorf("open fetch run: %w", err)
	}

	return id, nil
}

// FinalizeFetchRun closes a fetch run with its outcome.
func (db *DB) FinalizeFetchRun(
	ctx context.Context,
	runID, status string,
	cursorOut, counts map[string]any,
	runErr *string,
	endedAt time.Time,
) error {
	if cursorOut == nil {
		cursorOut = map[string]any{}
	}

	if counts == nil {
		counts = map[string]any{}
	}

	_, err := db.Pool.Exec(ctx, `
		UPDATE fetch_runs
		SET status = $2, cursor_out = $3, counts = $4, error = $5, ended_at = $6
		WHERE id = $1
	`, toUUID(runID), status, cursorOut, counts, toTextPtr(runErr), toTimestamptz(endedAt))
	if err != nil {
		return fmt.Errorf("finalize fetch run: %w", err)
	}

	return nil
}
