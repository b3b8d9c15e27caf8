package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadflow/internal/model"
)

// RecordLister is the store read the resolver needs.
type RecordLister interface {
	ListRecords(ctx context.Context, uploadID int64) ([]model.Record, error)
}

// Resolve returns the ids of the upload's records matching every provided
// filter, in store order. No match yields an empty slice and no error.
func Resolve(ctx context.Context, st RecordLister, uploadID int64, f model.Filters, plan []model.Step) ([]int64, error) {
	records, err := st.ListRecords(ctx, uploadID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: list records for upload %d", uploadID)
	}

	ids := toSet(f.IDs, func(id int64) int64 { return id })
	emails := toSet(f.Emails, model.NormalizeEmail)
	sites := toSet(f.Websites, model.NormalizeWebsite)

	scope := make([]int64, 0, len(records))
	for i := range records {
		r := &records[i]
		if ids != nil && !ids[r.ID] {
			continue
		}
		if emails != nil &&
			!emails[model.NormalizeEmail(r.Emails[0].Address)] &&
			!emails[model.NormalizeEmail(r.Emails[1].Address)] {
			continue
		}
		if sites != nil && !sites[model.NormalizeWebsite(r.Website)] {
			continue
		}
		if f.SkipProcessed && r.ProcessedFor(plan) {
			continue
		}
		scope = append(scope, r.ID)
	}
	return scope, nil
}

// toSet returns nil for an empty filter so callers can tell "no filter"
// from "matches nothing".
func toSet[T any, K comparable](vals []T, key func(T) K) map[K]bool {
	if len(vals) == 0 {
		return nil
	}
	set := make(map[K]bool, len(vals))
	for _, v := range vals {
		set[key(v)] = true
	}
	return set
}
