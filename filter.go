package blockmux

import (
	"context"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
)

// RunFastestWinsFilter consumes updates from merged (the fan-in of every
// configured source) and forwards only blocks whose slot is strictly
// greater than the highest slot seen so far. It is the single place that
// tracks stream-wide progress, so a lagging source's stale update never
// regresses the output even though every source writes onto the same
// channel as soon as it has something.
//
// The returned channel is closed once merged is closed or ctx is done.
func RunFastestWinsFilter[B any](ctx context.Context, merged <-chan *pb.SubscribeUpdate, extractor Extractor[B]) <-chan B {
	out := make(chan B)
	go func() {
		defer close(out)

		var currentSlot uint64
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-merged:
				if !ok {
					return
				}
				if update == nil {
					continue
				}
				slot, block, found := extractor.Extract(update, currentSlot)
				if !found {
					continue
				}
				currentSlot = slot
				select {
				case out <- block:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
