package usage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/aigate/llm"
	"github.com/BaSui01/aigate/types"
)

// Key identifies one aggregate row.
type Key struct {
	UserID  string `json:"user_id"`
	Period  string `json:"period"`
	Feature string `json:"feature"`
}

// Totals is an additive usage aggregate.
type Totals struct {
	Requests        int64   `json:"requests"`
	PromptUnits     int64   `json:"prompt_units"`
	CompletionUnits int64   `json:"completion_units"`
	TotalUnits      int64   `json:"total_units"`
	TotalCost       float64 `json:"total_cost"`
}

// Plus returns t + o.
func (t Totals) Plus(o Totals) Totals {
	return Totals{
		Requests:        t.Requests + o.Requests,
		PromptUnits:     t.PromptUnits + o.PromptUnits,
		CompletionUnits: t.CompletionUnits + o.CompletionUnits,
		TotalUnits:      t.TotalUnits + o.TotalUnits,
		TotalCost:       t.TotalCost + o.TotalCost,
	}
}

// FromUsage is the delta of a single tracked response.
func FromUsage(u llm.Usage) Totals {
	return Totals{
		Requests:        1,
		PromptUnits:     int64(u.PromptUnits),
		CompletionUnits: int64(u.CompletionUnits),
		TotalUnits:      int64(u.TotalUnits()),
		TotalCost:       u.TotalCost,
	}
}

// Store persists aggregates. Add must be atomic with respect to concurrent
// Adds on the same key.
type Store interface {
	Add(ctx context.Context, key Key, delta Totals) error
	Get(ctx context.Context, key Key) (Totals, error)
}

// Recorder receives tracking outcomes.
type Recorder interface {
	RecordUsage(feature string, units int, cost float64)
	RecordUsageError(op string)
}

type nopRecorder struct{}

func (nopRecorder) RecordUsage(string, int, float64) {}
func (nopRecorder) RecordUsageError(string)          {}

// Estimate is the running total of the current period.
type Estimate struct {
	UserID  string `json:"user_id"`
	Feature string `json:"feature"`
	Period  string `json:"period"`
	Totals
}

// Tracker is the cost tracker.
type Tracker struct {
	store    Store
	period   Period
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewTracker creates a tracker bucketing by period.
func NewTracker(store Store, period Period, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if period == nil {
		period = Daily
	}
	return &Tracker{
		store:    store,
		period:   period,
		recorder: nopRecorder{},
		logger:   logger.With(zap.String("component", "cost_tracker")),
		now:      time.Now,
	}
}

// WithRecorder sets the metrics sink.
func (t *Tracker) WithRecorder(r Recorder) *Tracker {
	if r != nil {
		t.recorder = r
	}
	return t
}

// Track adds u to the current period's totals for (userID, feature).
func (t *Tracker) Track(ctx context.Context, userID string, feature llm.Feature, u llm.Usage) {
	key := Key{UserID: userID, Period: t.period(t.now()), Feature: string(feature)}
	if err := t.store.Add(ctx, key, FromUsage(u)); err != nil {
		t.recorder.RecordUsageError("track")
		t.logger.Warn("cost tracking failed",
			zap.String("user_id", userID),
			zap.String("feature", string(feature)),
			zap.Error(types.NewCostTrackingFailed(err)))
		return
	}
	t.recorder.RecordUsage(string(feature), u.TotalUnits(), u.TotalCost)
}

// Estimate returns the current period's totals for (userID, feature).
func (t *Tracker) Estimate(ctx context.Context, userID string, feature llm.Feature) (*Estimate, error) {
	key := Key{UserID: userID, Period: t.period(t.now()), Feature: string(feature)}
	totals, err := t.store.Get(ctx, key)
	if err != nil {
		t.recorder.RecordUsageError("estimate")
		return nil, types.NewCostTrackingFailed(err)
	}
	return &Estimate{UserID: userID, Feature: string(feature), Period: key.Period, Totals: totals}, nil
}
