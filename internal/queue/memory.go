package queue

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"inkwell/internal/pkg/metrics"
)

// ErrQueueClosed is returned by Publish after Close.
var ErrQueueClosed = errors.New("queue closed")

type memoryDelivery struct {
	msg      Message
	attempts int
}

// MemoryQueue is an in-process queue used by tests and single-binary
// deployments. It mirrors the broker contract: at-least-once delivery
// with bounded redelivery and backoff between attempts.
type MemoryQueue struct {
	ch           chan memoryDelivery
	done         chan struct{}
	maxRedeliver int
	closeOnce    sync.Once
}

func NewMemory(buffer, maxRedeliver int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 256
	}
	if maxRedeliver <= 0 {
		maxRedeliver = 3
	}
	return &MemoryQueue{
		ch:           make(chan memoryDelivery, buffer),
		done:         make(chan struct{}),
		maxRedeliver: maxRedeliver,
	}
}

func (q *MemoryQueue) Publish(ctx context.Context, msg Message) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- memoryDelivery{msg: msg}:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, workers int, handler Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case d := <-q.ch:
					q.handle(ctx, d, handler)
				case <-q.done:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	wg.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (q *MemoryQueue) handle(ctx context.Context, d memoryDelivery, handler Handler) {
	err := handler(ctx, d.msg)
	if err == nil {
		return
	}

	d.attempts++
	if d.attempts >= q.maxRedeliver {
		log.Error().Err(err).Str("job_id", d.msg.JobID).
			Int("attempts", d.attempts).Msg("dropping message after repeated failures")
		return
	}

	metrics.QueueRedeliveries.Inc()
	// Exponential backoff with jitter before the message becomes
	// visible again.
	delay := time.Duration(1<<d.attempts) * 500 * time.Millisecond
	delay += time.Duration(rand.Int63n(int64(delay / 2)))

	go func() {
		select {
		case <-time.After(delay):
		case <-q.done:
			return
		case <-ctx.Done():
			return
		}
		select {
		case q.ch <- d:
		case <-q.done:
		case <-ctx.Done():
		}
	}()
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
