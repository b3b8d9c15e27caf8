package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadflow/internal/model"
)

type published struct {
	channel string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.msgs = append(f.msgs, published{channel: channel, payload: message.([]byte)})
	cmd.SetVal(1)
	return cmd
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestRedisRelay_PublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	relay := NewRedisRelay(pub, "test")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)

	h := NewHub(0, relay)
	h.Publish(model.Snapshot{ID: "abc", Seq: 1, Event: model.EventStarted, Status: model.JobStatusRunning})

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	pub.mu.Lock()
	msg := pub.msgs[0]
	pub.mu.Unlock()
	assert.Equal(t, "test:jobs:abc", msg.channel)

	var got model.Snapshot
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, uint64(1), got.Seq)
	assert.Equal(t, model.JobStatusRunning, got.Status)
}

func TestRedisRelay_ErrorsAreDropped(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	relay := NewRedisRelay(pub, "")
	assert.Equal(t, "leadflow:jobs:x", relay.Channel("x"))

	err := relay.publish(context.Background(), model.Snapshot{ID: "x"})
	assert.Error(t, err)
}

func TestRedisRelay_SendNeverBlocks(t *testing.T) {
	relay := NewRedisRelay(&fakePublisher{}, "p")
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			relay.Send(model.Snapshot{ID: "x", Seq: uint64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Send blocked with no consumer")
	}
	assert.Len(t, relay.queue, cap(relay.queue))
}
