package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lensfeed/lensfeed/internal/core/budget"
	"github.com/lensfeed/lensfeed/internal/core/domain"
	"github.com/lensfeed/lensfeed/internal/output/digest"
	"github.com/lensfeed/lensfeed/internal/process/cluster"
	"github.com/lensfeed/lensfeed/internal/process/dedup"
	"github.com/lensfeed/lensfeed/internal/process/embed"
	"github.com/lensfeed/lensfeed/internal/process/ingest"
)

type fakeBudgetRepo struct {
	spent float64
}

func (f *fakeBudgetRepo) SumProviderCredits(_ context.Context, _ string, _ time.Time) (float64, error) {
	return f.spent, nil
}

func (f *fakeBudgetRepo) SumBudgetResets(_ context.Context, _, _ string, _ time.Time) (float64, error) {
	return 0, nil
}

type fakeCursorRepo struct {
	advanced []time.Time
}

func (f *fakeCursorRepo) AdvanceTopicCursor(_ context.Context, _ string, cursorEnd time.Time) error {
	f.advanced = append(f.advanced, cursorEnd)
	return nil
}

type fakeStages struct {
	ingestPaid   []bool
	embedRuns    int
	dedupeRuns   int
	clusterRuns  int
	digestRuns   int
	digestTier   domain.Tier
	digestOut    *domain.Digest
	digestResult *digest.Result
	digestErr    error
}

func (f *fakeStages) Run(ctx context.Context, topic domain.Topic, window domain.Window, filter ingest.Filter, paid bool) (*ingest.Result, error) {
	f.ingestPaid = append(f.ingestPaid, paid)
	return &ingest.Result{}, nil
}

type embedStage struct{ f *fakeStages }

func (s embedStage) Run(_ context.Context, _ string, _ domain.Topic, _ *domain.Window, _ embed.Limits) (*embed.Result, error) {
	s.f.embedRuns++
	return &embed.Result{}, nil
}

type dedupeStage struct{ f *fakeStages }

func (s dedupeStage) Run(_ context.Context, _ domain.Topic, _ domain.Window, _ dedup.Config) (*dedup.Result, error) {
	s.f.dedupeRuns++
	return &dedup.Result{}, nil
}

type clusterStage struct{ f *fakeStages }

func (s clusterStage) Run(_ context.Context, _ domain.Topic, _ domain.Window, _ cluster.Config) (*cluster.Result, error) {
	s.f.clusterRuns++
	return &cluster.Result{}, nil
}

type digestStage struct{ f *fakeStages }

func (s digestStage) Run(_ context.Context, _ domain.Topic, _ domain.Window, tier domain.Tier) (*domain.Digest, *digest.Result, error) {
	s.f.digestRuns++
	s.f.digestTier = tier

	return s.f.digestOut, s.f.digestResult, s.f.digestErr
}

func newRunner(spent, monthly float64, stages *fakeStages, cursors *fakeCursorRepo) *Runner {
	nop := zerolog.Nop()

	return NewRunner(
		cursors,
		budget.NewEngine(&fakeBudgetRepo{spent: spent}, &nop),
		stages,
		embedStage{f: stages},
		dedupeStage{f: stages},
		clusterStage{f: stages},
		digestStage{f: stages},
		Config{MonthlyCredits: monthly},
		&nop,
	)
}

func testWindow() domain.Window {
	return domain.Window{
		Start: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC),
		Mode:  domain.TierHigh,
	}
}

func testTopic() domain.Topic {
	return domain.Topic{ID: "t1", UserID: "u1", Mode: domain.TierNormal}
}

func TestRunWindowBudgetStop(t *testing.T) {
	stages := &fakeStages{}
	cursors := &fakeCursorRepo{}
	runner := newRunner(1000, 1000, stages, cursors)

	result, err := runner.RunWindow(context.Background(), testTopic(), testWindow())
	if err != nil {
		t.Fatalf("RunWindow: %v", err)
	}

	if result.PaidCallsAllowed {
		t.Fatal("paid calls must be disallowed at the monthly limit")
	}

	if result.Tier != domain.TierLow {
		t.Errorf("tier = %s, want clamp to low even though the window asked for high", result.Tier)
	}

	if len(stages.ingestPaid) != 1 || stages.ingestPaid[0] {
		t.Error("ingest must still run, with paid sources disabled")
	}

	if stages.embedRuns != 1 || stages.dedupeRuns != 1 || stages.clusterRuns != 1 {
		t.Error("local stages must run unconditionally")
	}

	if stages.digestRuns != 0 {
		t.Error("digest must not run on a budget stop")
	}

	if !result.DigestSkippedDueToCredits || result.Digest != nil {
		t.Errorf("result = %+v, want digest skipped due to credits", result)
	}

	if len(cursors.advanced) != 0 {
		t.Error("cursor must not advance on a budget stop")
	}
}

func TestRunWindowSuccessAdvancesCursor(t *testing.T) {
	stages := &fakeStages{
		digestOut:    &domain.Digest{ID: "d1"},
		digestResult: &digest.Result{Selected: 3},
	}
	cursors := &fakeCursorRepo{}
	runner := newRunner(0, 1000, stages, cursors)

	window := testWindow()

	result, err := runner.RunWindow(context.Background(), testTopic(), window)
	if err != nil {
		t.Fatalf("RunWindow: %v", err)
	}

	if result.Tier != domain.TierHigh {
		t.Errorf("tier = %s, want the window mode", result.Tier)
	}

	if stages.digestTier != domain.TierHigh {
		t.Errorf("digest tier = %s, want high", stages.digestTier)
	}

	if !result.CursorAdvanced || len(cursors.advanced) != 1 || !cursors.advanced[0].Equal(window.End) {
		t.Errorf("cursor advances = %v, want exactly window end", cursors.advanced)
	}
}

func TestRunWindowEmptyRunAdvancesCursor(t *testing.T) {
	stages := &fakeStages{digestResult: &digest.Result{Empty: true}}
	cursors := &fakeCursorRepo{}
	runner := newRunner(0, 1000, stages, cursors)

	result, err := runner.RunWindow(context.Background(), testTopic(), testWindow())
	if err != nil {
		t.Fatalf("RunWindow: %v", err)
	}

	if result.Digest != nil {
		t.Error("empty run must not produce a digest")
	}

	if !result.CursorAdvanced {
		t.Error("an empty window with paid calls allowed must advance the cursor")
	}
}

func TestRunWindowDigestErrorLeavesCursor(t *testing.T) {
	stages := &fakeStages{digestErr: errors.New("provider down"), digestResult: &digest.Result{}}
	cursors := &fakeCursorRepo{}
	runner := newRunner(0, 1000, stages, cursors)

	_, err := runner.RunWindow(context.Background(), testTopic(), testWindow())
	if err == nil {
		t.Fatal("digest error must propagate")
	}

	if len(cursors.advanced) != 0 {
		t.Error("cursor must not advance on an error")
	}
}
