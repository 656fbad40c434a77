package blockmux

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"google.golang.org/protobuf/testing/protocmp"
)

var diffOpts = cmp.Options{
	protocmp.Transform(),
	cmpopts.EquateEmpty(),
}

func blockUpdate(slot uint64) *pb.SubscribeUpdate {
	return &pb.SubscribeUpdate{
		UpdateOneof: &pb.SubscribeUpdate_Block{
			Block: &pb.SubscribeUpdateBlock{Slot: slot},
		},
	}
}

func blockUpdateWithHash(slot uint64, blockhash string) *pb.SubscribeUpdate {
	return &pb.SubscribeUpdate{
		UpdateOneof: &pb.SubscribeUpdate_Block{
			Block: &pb.SubscribeUpdateBlock{Slot: slot, Blockhash: blockhash},
		},
	}
}

func recvWithTimeout[T any](t *testing.T, ch <-chan T) (T, bool) {
	t.Helper()
	select {
	case v, ok := <-ch:
		return v, ok
	case <-time.After(time.Second):
		var zero T
		t.Fatal("timed out waiting for value")
		return zero, false
	}
}

func TestRunFastestWinsFilterForwardsOnlyIncreasingSlots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	merged := make(chan *pb.SubscribeUpdate)
	out := RunFastestWinsFilter(ctx, merged, NewBlockExtractor())

	go func() {
		merged <- blockUpdate(10)
		merged <- blockUpdate(5) // stale, from a lagging source
		merged <- blockUpdate(11)
		merged <- blockUpdate(11) // duplicate, another source racing to the same slot
		merged <- blockUpdate(12)
	}()

	wantSlots := []uint64{10, 11, 12}
	for _, want := range wantSlots {
		block, ok := recvWithTimeout(t, out)
		if !ok {
			t.Fatalf("channel closed early, expected slot %d", want)
		}
		if block.Slot != want {
			t.Fatalf("got slot %d, want %d", block.Slot, want)
		}
	}
}

func TestRunFastestWinsFilterSkipsNonMatchingUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	merged := make(chan *pb.SubscribeUpdate)
	out := RunFastestWinsFilter(ctx, merged, NewBlockExtractor())

	go func() {
		merged <- &pb.SubscribeUpdate{UpdateOneof: &pb.SubscribeUpdate_Ping{}}
		merged <- blockUpdate(1)
	}()

	block, ok := recvWithTimeout(t, out)
	if !ok || block.Slot != 1 {
		t.Fatalf("expected slot 1, got %+v ok=%v", block, ok)
	}
}

func TestRunFastestWinsFilterForwardsBlockUnchanged(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	merged := make(chan *pb.SubscribeUpdate)
	out := RunFastestWinsFilter(ctx, merged, NewBlockExtractor())

	want := blockUpdateWithHash(20, "deadbeef").GetBlock()

	go func() { merged <- &pb.SubscribeUpdate{UpdateOneof: &pb.SubscribeUpdate_Block{Block: want}} }()

	got, ok := recvWithTimeout(t, out)
	if !ok {
		t.Fatal("channel closed early")
	}
	if diff := cmp.Diff(want, got, diffOpts...); diff != "" {
		t.Fatalf("forwarded block mismatch (-want +got):\n%s", diff)
	}
}

func TestRunFastestWinsFilterClosesOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	merged := make(chan *pb.SubscribeUpdate)
	out := RunFastestWinsFilter(ctx, merged, NewBlockExtractor())

	cancel()

	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected channel to close without a value")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestRunFastestWinsFilterClosesWhenMergedCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	merged := make(chan *pb.SubscribeUpdate)
	out := RunFastestWinsFilter(ctx, merged, NewBlockExtractor())

	close(merged)

	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected channel to close without a value")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
