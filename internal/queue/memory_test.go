package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryPublishConsume(t *testing.T) {
	q := NewMemory(8, 3)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Message, 1)
	go q.Consume(ctx, 2, func(ctx context.Context, msg Message) error {
		got <- msg
		return nil
	})

	sent := Message{JobID: "j1", Topic: "go", TargetLength: 1500, SourceCount: 5}
	if err := q.Publish(ctx, sent); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-got:
		if msg != sent {
			t.Errorf("delivered %+v, want %+v", msg, sent)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never delivered")
	}
}

func TestMemoryAckedMessageNotRedelivered(t *testing.T) {
	q := NewMemory(8, 3)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	go q.Consume(ctx, 1, func(ctx context.Context, msg Message) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	if err := q.Publish(ctx, Message{JobID: "j1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// Longer than the first backoff window; a buggy redelivery would
	// have landed by now.
	time.Sleep(2 * time.Second)
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("handler called %d times, want 1", n)
	}
}

func TestMemoryRedeliversUntilLimit(t *testing.T) {
	q := NewMemory(8, 2)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	done := make(chan struct{})
	go q.Consume(ctx, 1, func(ctx context.Context, msg Message) error {
		if atomic.AddInt32(&calls, 1) == 2 {
			close(done)
		}
		return errors.New("handler kaput")
	})

	if err := q.Publish(ctx, Message{JobID: "j1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("redelivery never happened, handler called %d times", atomic.LoadInt32(&calls))
	}

	// The limit is reached; the message is dropped, not requeued again.
	time.Sleep(2 * time.Second)
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("handler called %d times, want 2 (redelivery limit)", n)
	}
}

// Close must get through even while a publisher is blocked on a full
// buffer with no consumer, and the blocked publish must return.
func TestMemoryCloseUnblocksFullPublish(t *testing.T) {
	q := NewMemory(1, 3)
	ctx := context.Background()

	if err := q.Publish(ctx, Message{JobID: "j1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Publish(ctx, Message{JobID: "j2"})
	}()
	time.Sleep(50 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind a stuck publisher")
	}

	select {
	case err := <-blocked:
		if err == nil {
			t.Error("blocked publish should fail once the queue closes")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("publish still blocked after Close")
	}
}

func TestMemoryPublishAfterClose(t *testing.T) {
	q := NewMemory(8, 3)
	q.Close()
	if err := q.Publish(context.Background(), Message{JobID: "j1"}); err == nil {
		t.Error("publish on closed queue should fail")
	}
	// Close is idempotent.
	if err := q.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
