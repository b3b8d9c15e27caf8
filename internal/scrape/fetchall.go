package scrape

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FetchAll fetches urls with at most limit in flight. Failed URLs are
// logged and skipped; pages come back in input order.
func FetchAll(ctx context.Context, f Fetcher, urls []string, limit int) []*Page {
	if limit <= 0 {
		limit = 1
	}
	pages := make([]*Page, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, u := range urls {
		g.Go(func() error {
			p, err := f.Fetch(gctx, u)
			if err != nil {
				zap.L().Debug("scrape: fetch failed",
					zap.String("fetcher", f.Name()),
					zap.String("url", u),
					zap.Error(err),
				)
				return nil
			}
			pages[i] = p
			return nil
		})
	}
	_ = g.Wait()

	out := pages[:0]
	for _, p := range pages {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}
