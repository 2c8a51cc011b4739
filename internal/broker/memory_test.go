package broker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ricirt/taskdispatch/internal/broker"
)

func msg(name, queue string, args ...any) *broker.Message {
	raw := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		b, _ := json.Marshal(a)
		raw = append(raw, b)
	}
	return &broker.Message{ID: name + "-id", TaskName: name, Args: raw, Queue: queue, EnqueuedAt: time.Now().UTC()}
}

func TestMemory_PublishReceiveAck(t *testing.T) {
	b := broker.NewMemory(0)
	ctx := context.Background()

	if err := b.Publish(ctx, msg("tasks.user.send_welcome_email", "user_queue", 7)); err != nil {
		t.Fatal(err)
	}

	d, err := b.Receive(ctx, "w-1", []string{"user_queue"})
	if err != nil {
		t.Fatal(err)
	}
	if d.Message.TaskName != "tasks.user.send_welcome_email" {
		t.Fatalf("unexpected task %s", d.Message.TaskName)
	}
	var id int64
	if err := json.Unmarshal(d.Message.Args[0], &id); err != nil || id != 7 {
		t.Fatalf("expected arg 7, got %s (%v)", d.Message.Args[0], err)
	}

	if err := b.Ack(ctx, d); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := b.Ack(ctx, d); !errors.Is(err, broker.ErrUnknownItem) {
		t.Fatalf("second ack: expected ErrUnknownItem, got %v", err)
	}
}

func TestMemory_FIFOWithinQueue(t *testing.T) {
	b := broker.NewMemory(0)
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		_ = b.Publish(ctx, msg(name, "q"))
	}
	for _, want := range []string{"a", "b", "c"} {
		d, err := b.Receive(ctx, "w", []string{"q"})
		if err != nil {
			t.Fatal(err)
		}
		if d.Message.TaskName != want {
			t.Fatalf("expected %s, got %s", want, d.Message.TaskName)
		}
	}
}

// Queues listed first are drained before later ones.
func TestMemory_QueueOrder(t *testing.T) {
	b := broker.NewMemory(0)
	ctx := context.Background()
	_ = b.Publish(ctx, msg("late", "analytics_queue"))
	_ = b.Publish(ctx, msg("early", "task_queue"))

	d, _ := b.Receive(ctx, "w", []string{"task_queue", "analytics_queue"})
	if d.Message.TaskName != "early" {
		t.Fatalf("expected task_queue first, got %s", d.Message.TaskName)
	}
}

func TestMemory_QueueFull(t *testing.T) {
	b := broker.NewMemory(2)
	ctx := context.Background()
	_ = b.Publish(ctx, msg("a", "q"))
	_ = b.Publish(ctx, msg("b", "q"))
	if err := b.Publish(ctx, msg("c", "q")); !errors.Is(err, broker.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	// other queues have their own capacity
	if err := b.Publish(ctx, msg("c", "other")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMemory_ReceiveBlocksUntilPublish(t *testing.T) {
	b := broker.NewMemory(0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := make(chan string, 1)
	go func() {
		d, err := b.Receive(ctx, "w", []string{"q"})
		if err != nil {
			got <- err.Error()
			return
		}
		got <- d.Message.TaskName
	}()

	time.Sleep(20 * time.Millisecond)
	_ = b.Publish(ctx, msg("wake", "q"))

	select {
	case name := <-got:
		if name != "wake" {
			t.Fatalf("expected wake, got %s", name)
		}
	case <-time.After(time.Second):
		t.Fatal("receiver never woke")
	}
}

func TestMemory_ReceiveContextCancelled(t *testing.T) {
	b := broker.NewMemory(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Receive(ctx, "w", []string{"q"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMemory_CloseUnblocksReceivers(t *testing.T) {
	b := broker.NewMemory(0)
	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Receive(context.Background(), "w", []string{"q"})
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	_ = b.Close()
	wg.Wait()
	close(errs)
	for err := range errs {
		if !errors.Is(err, broker.ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	}
}

func TestMemory_RecoverRequeuesInflight(t *testing.T) {
	b := broker.NewMemory(0)
	ctx := context.Background()
	_ = b.Publish(ctx, msg("crashy", "q"))

	if _, err := b.Receive(ctx, "w-1", []string{"q"}); err != nil {
		t.Fatal(err)
	}
	stats, _ := b.Stats(ctx, "q")
	if stats.Ready != 0 {
		t.Fatalf("expected empty ready list, got %d", stats.Ready)
	}

	n, err := b.Recover(ctx, "w-1", []string{"q"})
	if err != nil || n != 1 {
		t.Fatalf("expected 1 recovered, got %d (%v)", n, err)
	}
	d, err := b.Receive(ctx, "w-1", []string{"q"})
	if err != nil || d.Message.TaskName != "crashy" {
		t.Fatalf("expected redelivery, got %v (%v)", d, err)
	}
}

func TestMemory_DeadLetter(t *testing.T) {
	b := broker.NewMemory(0)
	ctx := context.Background()
	_ = b.Publish(ctx, msg("tasks.unknown", "q"))
	d, _ := b.Receive(ctx, "w", []string{"q"})

	if err := b.DeadLetter(ctx, d, "no handler registered"); err != nil {
		t.Fatal(err)
	}
	if err := b.Ack(ctx, d); !errors.Is(err, broker.ErrUnknownItem) {
		t.Fatalf("dead-lettered delivery should not be in flight, got %v", err)
	}

	stats, _ := b.Stats(ctx, "q")
	if stats.Dead != 1 {
		t.Fatalf("expected 1 dead letter, got %d", stats.Dead)
	}
	dls, err := b.DeadLetters(ctx, "q", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(dls) != 1 || dls[0].TaskName != "tasks.unknown" || dls[0].Reason != "no handler registered" {
		t.Fatalf("unexpected dead letters: %+v", dls)
	}
}

func TestMemory_ConsumerLease(t *testing.T) {
	b := broker.NewMemory(0)
	ctx := context.Background()

	if err := b.Lease(ctx, "w-0", "a", 50*time.Millisecond); err != nil {
		t.Fatalf("first lease: %v", err)
	}
	if err := b.Lease(ctx, "w-0", "b", time.Second); !errors.Is(err, broker.ErrConsumerInUse) {
		t.Fatalf("second holder err = %v, want ErrConsumerInUse", err)
	}
	if err := b.Lease(ctx, "w-1", "b", time.Second); err != nil {
		t.Fatalf("other consumer: %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	if err := b.Lease(ctx, "w-0", "b", time.Second); err != nil {
		t.Fatalf("lease after expiry: %v", err)
	}
	if err := b.Release(ctx, "w-0", "a"); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if err := b.Lease(ctx, "w-0", "a", time.Second); !errors.Is(err, broker.ErrConsumerInUse) {
		t.Fatalf("stale holder released the new lease: %v", err)
	}
	if err := b.Release(ctx, "w-0", "b"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := b.Lease(ctx, "w-0", "a", time.Second); err != nil {
		t.Fatalf("lease after release: %v", err)
	}
}
