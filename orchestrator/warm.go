package orchestrator

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/aigate/llm"
)

// DefaultWarmConcurrency bounds Warm when no concurrency is given.
const DefaultWarmConcurrency = 4

// WarmReport summarizes a Warm run.
type WarmReport struct {
	Total   int `json:"total"`
	Warmed  int `json:"warmed"`
	Cached  int `json:"cached"`
	Invalid int `json:"invalid"`
	Failed  int `json:"failed"`
}

// Warm runs reqs through Process so their answers land in the cache.
// Requests already answered from the cache count as Cached. Individual
// failures are counted, not returned; only ctx cancellation stops the run.
func (o *Orchestrator) Warm(ctx context.Context, reqs []*llm.Request, concurrency int) (WarmReport, error) {
	if concurrency <= 0 {
		concurrency = DefaultWarmConcurrency
	}
	var warmed, cached, invalid, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, req := range reqs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := req.Validate(); err != nil {
				invalid.Add(1)
				o.logger.Warn("skipping invalid warm entry", zap.Error(err))
				return nil
			}
			resp, err := o.Process(gctx, req)
			switch {
			case err != nil:
				failed.Add(1)
				o.logger.Warn("warm entry failed",
					zap.String("feature", string(req.Feature)),
					zap.Error(err))
			case resp.Cached:
				cached.Add(1)
			default:
				warmed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := WarmReport{
		Total:   len(reqs),
		Warmed:  int(warmed.Load()),
		Cached:  int(cached.Load()),
		Invalid: int(invalid.Load()),
		Failed:  int(failed.Load()),
	}
	return report, ctx.Err()
}
