package llm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/aigate/types"
)

// DefaultBatchConcurrency bounds the fan-out used for providers without a
// native batch operation.
const DefaultBatchConcurrency = 4

// GenerateBatch submits reqs to p as one unit of work. Providers that
// implement BatchGenerator get a single native call; others are fanned out
// with bounded concurrency. Either way the result is all-or-nothing: one
// failure fails the whole batch and no partial responses are returned.
func GenerateBatch(ctx context.Context, p Provider, reqs []*Request) ([]*Response, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	if bg, ok := p.(BatchGenerator); ok {
		resps, err := bg.GenerateBatch(ctx, reqs)
		if err != nil {
			return nil, err
		}
		if len(resps) != len(reqs) {
			return nil, types.NewProviderInvalidResponse(p.Name(),
				fmt.Sprintf("batch returned %d responses for %d requests", len(resps), len(reqs)))
		}
		return resps, nil
	}

	resps := make([]*Response, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(DefaultBatchConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := p.GenerateText(gctx, req)
			if err != nil {
				return err
			}
			resps[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resps, nil
}
