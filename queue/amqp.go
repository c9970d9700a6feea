package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/nyxcrawl/scrapyengine/enginerr"
	"github.com/nyxcrawl/scrapyengine/request"
)

// amqpPriorityCeiling is RabbitMQ's broker-side maximum for
// x-max-priority; engine priorities are clamped into this range on
// publish, since the wire priority is a single byte.
const amqpPriorityCeiling = 255

// AMQPQueue backs the scheduler with a durable, broker-managed queue —
// the choice for multi-host crawls that need requests to survive a
// downloader process restart without a shared Redis. Pop claims a
// delivery and acks it only once the caller has taken ownership, so a
// crashed worker's unacked deliveries are automatically redelivered by
// the broker rather than lost or duplicated.
type AMQPQueue struct {
	url       string
	queueName string
	ser       Serializer
	logger    *slog.Logger

	mu      sync.RWMutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	deliveries <-chan amqp091.Delivery
}

// NewAMQPQueue dials url, declares a durable priority queue named
// "{prefix}.{spider}", and starts consuming into an internal buffer.
func NewAMQPQueue(url, prefix, spider string, ser Serializer, logger *slog.Logger) (*AMQPQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	q := &AMQPQueue{
		url:       url,
		queueName: prefix + "." + spider,
		ser:       ser,
		logger:    logger,
	}
	if err := q.connect(); err != nil {
		return nil, err
	}
	go q.watchReconnect()
	return q, nil
}

func (q *AMQPQueue) connect() error {
	conn, err := amqp091.Dial(q.url)
	if err != nil {
		return enginerr.Wrap(enginerr.EngineFatal, "queue.amqp", "dial", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return enginerr.Wrap(enginerr.EngineFatal, "queue.amqp", "open channel", err)
	}
	if _, err := ch.QueueDeclare(
		q.queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		amqp091.Table{"x-max-priority": int32(amqpPriorityCeiling)},
	); err != nil {
		ch.Close()
		conn.Close()
		return enginerr.Wrap(enginerr.EngineFatal, "queue.amqp", "declare queue", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return enginerr.Wrap(enginerr.EngineFatal, "queue.amqp", "qos", err)
	}
	deliveries, err := ch.Consume(q.queueName, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return enginerr.Wrap(enginerr.EngineFatal, "queue.amqp", "consume", err)
	}

	q.mu.Lock()
	q.conn = conn
	q.channel = ch
	q.deliveries = deliveries
	q.mu.Unlock()
	return nil
}

func (q *AMQPQueue) watchReconnect() {
	for {
		q.mu.RLock()
		conn := q.conn
		q.mu.RUnlock()
		if conn == nil {
			return
		}
		reason, ok := <-conn.NotifyClose(make(chan *amqp091.Error))
		if !ok {
			return
		}
		q.logger.Error("queue.amqp: connection closed, reconnecting", "reason", reason)
		for {
			if err := q.connect(); err == nil {
				q.logger.Info("queue.amqp: reconnected")
				break
			}
			time.Sleep(5 * time.Second)
		}
	}
}

func toAMQPPriority(p int) uint8 {
	if p < 0 {
		return 0
	}
	if p > amqpPriorityCeiling {
		return amqpPriorityCeiling
	}
	return uint8(p)
}

func (q *AMQPQueue) Push(ctx context.Context, r *request.Request) error {
	data, err := q.ser.Marshal(r)
	if err != nil {
		return err
	}
	q.mu.RLock()
	ch := q.channel
	q.mu.RUnlock()

	err = ch.PublishWithContext(ctx, "", q.queueName, false, false, amqp091.Publishing{
		DeliveryMode: amqp091.Persistent,
		Priority:     toAMQPPriority(r.Priority),
		Body:         data,
	})
	if err != nil {
		return enginerr.Wrap(enginerr.Transient, "queue.amqp", "publish", err)
	}
	return nil
}

func (q *AMQPQueue) PushBatch(ctx context.Context, rs []*request.Request) error {
	for _, r := range rs {
		if err := q.Push(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Pop blocks briefly for one delivery, acking it before returning so the
// broker never redelivers a claimed request to another worker.
func (q *AMQPQueue) Pop(ctx context.Context) (*request.Request, error) {
	q.mu.RLock()
	deliveries := q.deliveries
	q.mu.RUnlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			return nil, enginerr.New(enginerr.Transient, "queue.amqp", "delivery channel closed")
		}
		r, err := q.ser.Unmarshal(d.Body)
		if err != nil {
			d.Nack(false, false)
			return nil, err
		}
		if err := d.Ack(false); err != nil {
			return nil, enginerr.Wrap(enginerr.Transient, "queue.amqp", "ack", err)
		}
		return r, nil
	case <-time.After(100 * time.Millisecond):
		return nil, nil
	}
}

func (q *AMQPQueue) PopN(ctx context.Context, n int) ([]*request.Request, error) {
	out := make([]*request.Request, 0, n)
	for i := 0; i < n; i++ {
		r, err := q.Pop(ctx)
		if err != nil {
			return out, err
		}
		if r == nil {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

// Size reports the broker-reported message count via a passive queue
// declare, since AMQP has no direct "peek length" primitive.
func (q *AMQPQueue) Size(ctx context.Context) (int64, error) {
	q.mu.RLock()
	ch := q.channel
	q.mu.RUnlock()
	stat, err := ch.QueueInspect(q.queueName)
	if err != nil {
		return 0, enginerr.Wrap(enginerr.Transient, "queue.amqp", "inspect", err)
	}
	return int64(stat.Messages), nil
}

func (q *AMQPQueue) Clear(ctx context.Context) error {
	q.mu.RLock()
	ch := q.channel
	q.mu.RUnlock()
	if _, err := ch.QueuePurge(q.queueName, false); err != nil {
		return enginerr.Wrap(enginerr.Transient, "queue.amqp", "purge", err)
	}
	return nil
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
