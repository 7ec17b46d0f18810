package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"inkwell/internal/pkg/metrics"
)

const deadLetterExchange = "jobs.dlx"

// AMQPQueue is the production queue backed by RabbitMQ. Deliveries are
// manually acknowledged; a handler failure requeues the message once,
// and a second failure dead-letters it. Unacknowledged messages from a
// crashed consumer are redelivered by the broker, which stands in for a
// visibility timeout.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	name string
}

func NewAMQP(url, name string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	q := &AMQPQueue{conn: conn, ch: ch, name: name}
	if err := q.setupTopology(); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}

// setupTopology declares the work queue and its dead-letter pair.
// Idempotent.
func (q *AMQPQueue) setupTopology() error {
	if err := q.ch.ExchangeDeclare(deadLetterExchange, "fanout", true, false, false, false, nil); err != nil {
		return err
	}
	dlq := q.name + ".dead_letter"
	if _, err := q.ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return err
	}
	if err := q.ch.QueueBind(dlq, "", deadLetterExchange, false, nil); err != nil {
		return err
	}
	_, err := q.ch.QueueDeclare(q.name, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": deadLetterExchange,
	})
	return err
}

func (q *AMQPQueue) Publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.ch.PublishWithContext(ctx,
		"",     // default exchange
		q.name, // routing key = queue
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
}

func (q *AMQPQueue) Consume(ctx context.Context, workers int, handler Handler) error {
	if err := q.ch.Qos(workers, 0, false); err != nil {
		return err
	}
	deliveries, err := q.ch.Consume(q.name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for d := range deliveries {
				q.handle(ctx, d, handler)
			}
			done <- struct{}{}
		}()
	}

	for i := 0; i < workers; i++ {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (q *AMQPQueue) handle(ctx context.Context, d amqp.Delivery, handler Handler) {
	var msg Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		log.Error().Err(err).Msg("dropping malformed queue message")
		d.Nack(false, false)
		return
	}

	if err := handler(ctx, msg); err != nil {
		if d.Redelivered {
			log.Error().Err(err).Str("job_id", msg.JobID).Msg("job failed after redelivery, dead-lettering")
			d.Nack(false, false)
			return
		}
		log.Warn().Err(err).Str("job_id", msg.JobID).Msg("job handler failed, requeueing")
		metrics.QueueRedeliveries.Inc()
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

func (q *AMQPQueue) Close() error {
	if q.ch != nil {
		q.ch.Close()
	}
	return q.conn.Close()
}
