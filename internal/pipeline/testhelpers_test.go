package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/notify"
	"github.com/sells-group/leadflow/internal/resilience"
	"github.com/sells-group/leadflow/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// seed inserts n records into uploadID and returns their ids.
func seed(t *testing.T, st store.Store, uploadID int64, n int) []int64 {
	t.Helper()
	records := make([]model.Record, n)
	for i := range records {
		records[i] = model.Record{
			Name:    fmt.Sprintf("Owner %d", i),
			Company: fmt.Sprintf("Co %d", i),
			Website: fmt.Sprintf("https://site%d.example", i),
		}
		records[i].Emails[0].Address = fmt.Sprintf("owner%d@site%d.example", i, i)
	}
	return insert(t, st, uploadID, records...)
}

func insert(t *testing.T, st store.Store, uploadID int64, records ...model.Record) []int64 {
	t.Helper()
	ctx := context.Background()
	_, err := st.InsertRecords(ctx, uploadID, records)
	require.NoError(t, err)
	all, err := st.ListRecords(ctx, uploadID)
	require.NoError(t, err)
	ids := make([]int64, len(all))
	for i, r := range all {
		ids[i] = r.ID
	}
	return ids
}

func testConfig() Config {
	return Config{
		Workers: map[model.Step]int{
			model.StepClassify: 4,
			model.StepDiscover: 4,
			model.StepVerify:   4,
		},
		StoreRetry: resilience.Policy{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	}
}

func newTestRegistry(t *testing.T, st store.Store, a Adapters, cfg Config) *Registry {
	t.Helper()
	reg := NewRegistry(st, a, notify.NewHub(0), cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return reg
}

// waitFinal follows the job's subscription until it closes and returns
// every snapshot seen.
func waitFinal(t *testing.T, reg *Registry, id string) []model.Snapshot {
	t.Helper()
	ch, unsub, err := reg.Subscribe(id)
	require.NoError(t, err)
	defer unsub()

	var seen []model.Snapshot
	timeout := time.After(10 * time.Second)
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				require.NotEmpty(t, seen)
				require.True(t, seen[len(seen)-1].Status.IsTerminal(), "last snapshot not terminal")
				return seen
			}
			seen = append(seen, s)
		case <-timeout:
			t.Fatal("job did not finish")
			return nil
		}
	}
}

func final(t *testing.T, reg *Registry, id string) model.Snapshot {
	t.Helper()
	seen := waitFinal(t, reg, id)
	return seen[len(seen)-1]
}

func getRecord(t *testing.T, st store.Store, id int64) *model.Record {
	t.Helper()
	r, err := st.GetRecord(context.Background(), id)
	require.NoError(t, err)
	return r
}

// failingStore fails record reads with err.
type failingStore struct {
	store.Store
	err error
}

func (f *failingStore) GetRecord(ctx context.Context, id int64) (*model.Record, error) {
	return nil, f.err
}
