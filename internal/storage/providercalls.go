package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/platform/observability"
)

// InsertProviderCall appends one audit row for a paid call.
func (db *DB) InsertProviderCall(ctx context.Context, call domain.ProviderCall) (string, error) {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}

	if call.Meta == nil {
		call.Meta = map[string]any{}
	}

	var errField any
	if call.Error != nil {
		errField = call.Error
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO provider_calls (id, user_id, purpose, provider, model,
			input_tokens, output_tokens, cost_estimate_credits, meta,
			started_at, ended_at, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, toUUID(call.ID), toUUID(call.UserID), call.Purpose, call.Provider, call.Model,
		toInt4(call.InputTokens), toInt4(call.OutputTokens), call.CostEstimateCredits,
		call.Meta, toTimestamptz(call.StartedAt), toTimestamptz(call.EndedAt),
		call.Status, errField)
	if err != nil {
		return "", fmt.Errorf("insert provider call: %w", err)
	}

	observability.ProviderCalls.WithLabelValues(call.Purpose, call.Status).Inc()
	observability.ProviderTokens.WithLabelValues(call.Purpose, "input").Add(float64(call.InputTokens))
	observability.ProviderTokens.WithLabelValues(call.Purpose, "output").Add(float64(call.OutputTokens))
	observability.ProviderCreditsEstimated.WithLabelValues(call.Purpose).Add(call.CostEstimateCredits)

	return call.ID, nil
}

// SumProviderCredits sums cost_estimate_credits of ok calls since the given
// instant.
func (db *DB) SumProviderCredits(ctx context.Context, userID string, since time.Time) (float64, error) {
	var sum float64

	err := db.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(cost_estimate_credits), 0)
		FROM provider_calls
		WHERE user_id = $1 AND status = 'ok' AND started_at >= $2
	`, toUUID(userID), toTimestamptz(since)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum provider credits: %w", err)
	}

	return sum, nil
}

// CountProviderCalls counts calls of one purpose since the given instant.
func (db *DB) CountProviderCalls(ctx context.Context, userID, purpose string, since time.Time) (int, error) {
	var count int

	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM provider_calls
		WHERE user_id = $1 AND purpose = $2 AND started_at >= $3
	`, toUUID(userID), purpose, toTimestamptz(since)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count provider calls: %w", err)
	}

	return count, nil
}

// InsertBudgetReset appends a credits grant offsetting prior spending.
func (db *DB) InsertBudgetReset(ctx context.Context, reset domain.BudgetReset) (string, error) {
	if reset.ID == "" {
		reset.ID = uuid.NewString()
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO budget_resets (id, user_id, period, credits_at_reset, reset_at)
		VALUES ($1, $2, $3, $4, $5)
	`, toUUID(reset.ID), toUUID(reset.UserID), reset.Period,
		reset.CreditsAtReset, toTimestamptz(reset.ResetAt))
	if err != nil {
		return "", fmt.Errorf("insert budget reset: %w", err)
	}

	return reset.ID, nil
}

// SumBudgetResets sums credits_at_reset for one period since the given
// instant.
func (db *DB) SumBudgetResets(ctx context.Context, userID, period string, since time.Time) (float64, error) {
	var sum float64

	err := db.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(credits_at_reset), 0)
		FROM budget_resets
		WHERE user_id = $1 AND period = $2 AND reset_at >= $3
	`, toUUID(userID), period, toTimestamptz(since)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum budget resets: %w", err)
	}

	return sum, nil
}
