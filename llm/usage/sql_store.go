package usage

import (
	"context"

	"github.com/BaSui01/aigate/llm/store"
)

// SQLStore keeps aggregates in the aigate_usage table.
type SQLStore struct {
	repo *store.UsageRepository
}

func NewSQLStore(repo *store.UsageRepository) *SQLStore {
	return &SQLStore{repo: repo}
}

func (s *SQLStore) Add(ctx context.Context, key Key, d Totals) error {
	return s.repo.Add(ctx, store.UsageDelta{
		UserID:          key.UserID,
		Period:          key.Period,
		Feature:         key.Feature,
		Requests:        d.Requests,
		PromptUnits:     d.PromptUnits,
		CompletionUnits: d.CompletionUnits,
		TotalCost:       d.TotalCost,
	})
}

func (s *SQLStore) Get(ctx context.Context, key Key) (Totals, error) {
	rec, err := s.repo.Get(ctx, key.UserID, key.Period, key.Feature)
	if err != nil {
		return Totals{}, err
	}
	return Totals{
		Requests:        rec.RequestCount,
		PromptUnits:     rec.PromptUnits,
		CompletionUnits: rec.CompletionUnits,
		TotalUnits:      rec.TotalUnits,
		TotalCost:       rec.TotalCost,
	}, nil
}
