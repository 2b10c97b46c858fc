// Package budget decides whether paid provider calls are allowed, from the
// provider-call audit log offset by recorded budget resets.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lensfeed/lensfeed/internal/platform/observability"
)

// WarningLevel reports how close spending is to a limit.
type WarningLevel string

const (
	WarningNone        WarningLevel = "none"
	WarningApproaching WarningLevel = "approaching"
	WarningCritical    WarningLevel = "critical"
)

const (
	approachingFraction = 0.80
	criticalFraction    = 0.95
)

// Repository is the storage surface the engine needs.
type Repository interface {
	// SumProviderCredits sums cost_estimate_credits of ok provider calls for
	// the user since the given instant.
	SumProviderCredits(ctx context.Context, userID string, since time.Time) (float64, error)
	// SumBudgetResets sums credits_at_reset for the user and period since the
	// given instant.
	SumBudgetResets(ctx context.Context, userID, period string, since time.Time) (float64, error)
}

// CreditsStatus is the outcome of one budget evaluation.
type CreditsStatus struct {
	MonthlyUsed      float64
	MonthlyLimit     float64
	MonthlyRemaining float64
	DailyUsed        float64
	DailyLimit       *float64
	DailyRemaining   *float64
	PaidCallsAllowed bool
	WarningLevel     WarningLevel
}

type Engine struct {
	repo   Repository
	logger *zerolog.Logger
}

func NewEngine(repo Repository, logger *zerolog.Logger) *Engine {
	return &Engine{repo: repo, logger: logger}
}

// ComputeCreditsStatus evaluates spending against the monthly limit and the
// optional daily throttle, both over UTC calendar windows anchored at ref.
// A zero monthlyCredits means unlimited; a zero dailyThrottleCredits disables
// the daily limit.
func (e *Engine) ComputeCreditsStatus(
	ctx context.Context,
	userID string,
	monthlyCredits, dailyThrottleCredits float64,
	ref time.Time,
) (CreditsStatus, error) {
	ref = ref.UTC()
	monthStart := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
	dayStart := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)

	monthlyUsed, err := e.usedSince(ctx, userID, "monthly", monthStart)
	if err != nil {
		return CreditsStatus{}, fmt.Errorf("computing monthly usage: %w", err)
	}

	dailyUsed, err := e.usedSince(ctx, userID, "daily", dayStart)
	if err != nil {
		return CreditsStatus{}, fmt.Errorf("computing daily usage: %w", err)
	}

	status := CreditsStatus{
		MonthlyUsed:  monthlyUsed,
		MonthlyLimit: monthlyCredits,
		DailyUsed:    dailyUsed,
	}

	monthlyOK := true
	if monthlyCredits > 0 {
		status.MonthlyRemaining = monthlyCredits - monthlyUsed
		monthlyOK = status.MonthlyRemaining > 0
	}

	dailyOK := true
	if dailyThrottleCredits > 0 {
		limit := dailyThrottleCredits
		remaining := limit - dailyUsed
		status.DailyLimit = &limit
		status.DailyRemaining = &remaining
		dailyOK = remaining > 0
	}

	status.PaidCallsAllowed = monthlyOK && dailyOK
	status.WarningLevel = warningLevel(monthlyUsed, monthlyCredits, dailyUsed, dailyThrottleCredits)

	observability.BudgetWarningLevel.Set(warningGaugeValue(status.WarningLevel))

	if status.WarningLevel != WarningNone {
		e.logger.Warn().
			Str("user_id", userID).
			Float64("monthly_used", monthlyUsed).
			Float64("monthly_limit", monthlyCredits).
			Str("warning_level", string(status.WarningLevel)).
			Msg("credit budget warning")
	}

	return status, nil
}

func (e *Engine) usedSince(ctx context.Context, userID, period string, since time.Time) (float64, error) {
	spent, err := e.repo.SumProviderCredits(ctx, userID, since)
	if err != nil {
		return 0, fmt.Errorf("summing provider calls: %w", err)
	}

	resets, err := e.repo.SumBudgetResets(ctx, userID, period, since)
	if err != nil {
		return 0, fmt.Errorf("summing budget resets: %w", err)
	}

	used := spent - resets
	if used < 0 {
		used = 0
	}

	return used, nil
}

func warningLevel(monthlyUsed, monthlyLimit, dailyUsed, dailyLimit float64) WarningLevel {
	level := fractionLevel(monthlyUsed, monthlyLimit)

	if daily := fractionLevel(dailyUsed, dailyLimit); rank(daily) > rank(level) {
		level = daily
	}

	return level
}

func fractionLevel(used, limit float64) WarningLevel {
	if limit <= 0 {
		return WarningNone
	}

	switch frac := used / limit; {
	case frac >= criticalFraction:
		return WarningCritical
	case frac >= approachingFraction:
		return WarningApproaching
	default:
		return WarningNone
	}
}

func rank(l WarningLevel) int {
	switch l {
	case WarningApproaching:
		return 1
	case WarningCritical:
		return 2
	default:
		return 0
	}
}

func warningGaugeValue(l WarningLevel) float64 {
	return float64(rank(l))
}
