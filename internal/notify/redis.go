package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/model"
)

// publisher is the part of *redis.Client the relay uses.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisRelay republishes snapshots as JSON on "<prefix>:jobs:<id>" for
// observers in other processes. Snapshots are queued and published by Run;
// a full queue drops the snapshot.
type RedisRelay struct {
	rdb     publisher
	prefix  string
	timeout time.Duration
	queue   chan model.Snapshot
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "notify: parse redis url")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "notify: ping redis")
	}
	return rdb, nil
}

// NewRedisRelay creates a relay publishing through rdb.
func NewRedisRelay(rdb publisher, prefix string) *RedisRelay {
	if prefix == "" {
		prefix = "leadflow"
	}
	return &RedisRelay{
		rdb:     rdb,
		prefix:  prefix,
		timeout: 2 * time.Second,
		queue:   make(chan model.Snapshot, 256),
	}
}

// Channel returns the pub/sub channel for jobID.
func (r *RedisRelay) Channel(jobID string) string {
	return r.prefix + ":jobs:" + jobID
}

func (r *RedisRelay) Send(snap model.Snapshot) {
	select {
	case r.queue <- snap:
	default:
		zap.L().Debug("notify: relay queue full, dropping snapshot",
			zap.String("job_id", snap.ID), zap.Uint64("seq", snap.Seq))
	}
}

// Run publishes queued snapshots until ctx ends. Publish errors are logged
// and dropped.
func (r *RedisRelay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-r.queue:
			if err := r.publish(ctx, snap); err != nil {
				zap.L().Warn("notify: redis publish failed",
					zap.String("job_id", snap.ID), zap.Error(err))
			}
		}
	}
}

func (r *RedisRelay) publish(ctx context.Context, snap model.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "notify: marshal snapshot")
	}
	pctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return eris.Wrap(r.rdb.Publish(pctx, r.Channel(snap.ID), payload).Err(), "notify: publish")
}
