package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadflow/internal/model"
)

type amqpMsg struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu   sync.Mutex
	msgs []amqpMsg
	err  error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, amqpMsg{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) sent() []amqpMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]amqpMsg(nil), f.msgs...)
}

func TestAMQPRelay_PublishesThroughHub(t *testing.T) {
	ch := &fakeChannel{}
	relay := NewAMQPRelay(ch, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)

	h := NewHub(0, relay)
	h.Publish(model.Snapshot{ID: "j1", Seq: 1, Event: model.EventProgress, Status: model.JobStatusRunning})
	h.Publish(model.Snapshot{ID: "j1", Seq: 2, Event: model.EventCompleted, Status: model.JobStatusCompleted})

	require.Eventually(t, func() bool { return len(ch.sent()) == 2 }, time.Second, 5*time.Millisecond)
	msgs := ch.sent()

	assert.Equal(t, "leadflow.jobs", msgs[0].exchange)
	assert.Equal(t, "jobs.j1.progress", msgs[0].key)
	assert.Equal(t, amqp.Transient, msgs[0].msg.DeliveryMode)
	assert.Equal(t, "jobs.j1.completed", msgs[1].key)
	assert.Equal(t, amqp.Persistent, msgs[1].msg.DeliveryMode)
	assert.Equal(t, "application/json", msgs[1].msg.ContentType)

	var got model.Snapshot
	require.NoError(t, json.Unmarshal(msgs[1].msg.Body, &got))
	assert.Equal(t, uint64(2), got.Seq)
}

func TestAMQPRelay_PublishError(t *testing.T) {
	relay := NewAMQPRelay(&fakeChannel{err: errors.New("channel closed")}, "x")
	err := relay.publish(context.Background(), model.Snapshot{ID: "j"})
	assert.ErrorContains(t, err, "channel closed")
}

func TestAMQPRelay_SendNeverBlocks(t *testing.T) {
	relay := NewAMQPRelay(&fakeChannel{}, "x")
	for i := 0; i < 1000; i++ {
		relay.Send(model.Snapshot{ID: "j", Seq: uint64(i)})
	}
	assert.Len(t, relay.queue, cap(relay.queue))
}

func TestDialAMQP_BadURL(t *testing.T) {
	_, _, err := DialAMQP("not-a-url", "x")
	assert.Error(t, err)
}
