package notify

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/model"
)

// amqpChannel is the part of *amqp.Channel the relay uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPRelay publishes snapshots to a topic exchange with routing key
// "jobs.<id>.<event>", so consumers can bind to one job or one event type.
type AMQPRelay struct {
	ch       amqpChannel
	exchange string
	timeout  time.Duration
	queue    chan model.Snapshot
}

// DialAMQP connects to url, opens a channel and declares exchange as a
// durable topic exchange. Close the connection to release both.
func DialAMQP(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, nil, eris.Wrap(err, "notify: dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, eris.Wrap(err, "notify: open amqp channel")
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, eris.Wrapf(err, "notify: declare exchange %s", exchange)
	}
	return conn, ch, nil
}

// NewAMQPRelay creates a relay publishing through ch.
func NewAMQPRelay(ch amqpChannel, exchange string) *AMQPRelay {
	if exchange == "" {
		exchange = "leadflow.jobs"
	}
	return &AMQPRelay{
		ch:       ch,
		exchange: exchange,
		timeout:  2 * time.Second,
		queue:    make(chan model.Snapshot, 256),
	}
}

// RoutingKey returns the routing key for snap.
func (r *AMQPRelay) RoutingKey(snap model.Snapshot) string {
	return "jobs." + snap.ID + "." + string(snap.Event)
}

func (r *AMQPRelay) Send(snap model.Snapshot) {
	select {
	case r.queue <- snap:
	default:
		zap.L().Debug("notify: amqp queue full, dropping snapshot",
			zap.String("job_id", snap.ID), zap.Uint64("seq", snap.Seq))
	}
}

// Run publishes queued snapshots until ctx ends.
func (r *AMQPRelay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-r.queue:
			if err := r.publish(ctx, snap); err != nil {
				zap.L().Warn("notify: amqp publish failed",
					zap.String("job_id", snap.ID), zap.Error(err))
			}
		}
	}
}

func (r *AMQPRelay) publish(ctx context.Context, snap model.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "notify: marshal snapshot")
	}
	pctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Progress ticks are superseded quickly; only final events persist.
	mode := amqp.Transient
	if snap.Event.Final() {
		mode = amqp.Persistent
	}
	err = r.ch.PublishWithContext(pctx, r.exchange, r.RoutingKey(snap), false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: mode,
		MessageId:    snap.ID,
		Timestamp:    time.Now(),
		Type:         string(snap.Event),
	})
	return eris.Wrap(err, "notify: amqp publish")
}
