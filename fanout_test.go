package blockmux

import (
	"context"
	"testing"
	"time"
)

func TestFanoutDeliversToMultipleSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := make(chan int)
	f := NewFanout(ctx, source, 4)

	r1 := f.Subscribe()
	r2 := f.Subscribe()

	source <- 1
	source <- 2

	for _, r := range []*Receiver[int]{r1, r2} {
		v, lag, err := r.Recv(context.Background())
		if err != nil || v != 1 || lag != 0 {
			t.Fatalf("got v=%d lag=%d err=%v, want v=1 lag=0", v, lag, err)
		}
		v, lag, err = r.Recv(context.Background())
		if err != nil || v != 2 || lag != 0 {
			t.Fatalf("got v=%d lag=%d err=%v, want v=2 lag=0", v, lag, err)
		}
	}
}

func TestFanoutLateSubscriberOnlySeesFutureValues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := make(chan int)
	f := NewFanout(ctx, source, 4)

	source <- 1
	// The send returns once the writer goroutine has taken the value, which
	// can be before it is published; wait so Subscribe starts after 1.
	time.Sleep(50 * time.Millisecond)
	r := f.Subscribe()
	source <- 2

	v, _, err := r.Recv(context.Background())
	if err != nil || v != 2 {
		t.Fatalf("got v=%d err=%v, want v=2", v, err)
	}
}

func TestFanoutReportsLagWhenReceiverFallsBehind(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := make(chan int)
	const capacity = 2
	f := NewFanout(ctx, source, capacity)
	r := f.Subscribe()

	for i := 1; i <= 5; i++ {
		source <- i
	}
	// Give the writer goroutine a moment to publish all five values before
	// the slow receiver catches up.
	time.Sleep(50 * time.Millisecond)

	v, lag, err := r.Recv(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lag != 3 {
		t.Fatalf("got lag %d, want 3", lag)
	}
	if v != 4 {
		t.Fatalf("got v=%d, want oldest retained value 4", v)
	}
}

func TestFanoutRecvUnblocksOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := make(chan int)
	f := NewFanout(ctx, source, 4)
	r := f.Subscribe()

	recvCtx, recvCancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, _, err := r.Recv(recvCtx)
		errCh <- err
	}()
	recvCancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected context cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Recv to unblock")
	}
}

func TestFanoutRecvUnblocksOnStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := make(chan int)
	f := NewFanout(ctx, source, 4)
	r := f.Subscribe()

	errCh := make(chan error, 1)
	go func() {
		_, _, err := r.Recv(context.Background())
		errCh <- err
	}()
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected fanout-stopped error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Recv to unblock on stop")
	}
}
