package blockmux

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// DefaultFanoutCapacity is the ring buffer size used when Channelize is
// called without an explicit capacity.
const DefaultFanoutCapacity = 1000

var errFanoutStopped = errors.New("blockmux: fanout stopped")

// Fanout broadcasts every value published on its source channel to any
// number of subscribers. Each subscriber reads at its own pace from a
// shared ring buffer; a subscriber that falls more than capacity items
// behind the writer skips forward to the oldest value still retained and
// observes the number of values it missed, rather than blocking the
// writer or the other subscribers.
type Fanout[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   uint64
	notify chan struct{}
	doneCh chan struct{}
}

// NewFanout starts broadcasting source and returns the Fanout. source must
// never be closed while ctx is still live; closing ctx is the only
// supported way to stop the fanout.
func NewFanout[T any](ctx context.Context, source <-chan T, capacity int) *Fanout[T] {
	if capacity <= 0 {
		capacity = DefaultFanoutCapacity
	}
	f := &Fanout[T]{
		buf:    make([]T, capacity),
		notify: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go f.run(ctx, source)
	return f
}

func (f *Fanout[T]) run(ctx context.Context, source <-chan T) {
	defer close(f.doneCh)
	for {
		select {
		case v, ok := <-source:
			if !ok {
				// source only closes because ctx was canceled (filter.go
				// closes its output on ctx.Done()); a close with ctx still
				// live means the source misbehaved.
				select {
				case <-ctx.Done():
					return
				default:
					panic("blockmux: fanout source closed unexpectedly; source streams must be endless")
				}
			}
			f.publish(v)
		case <-ctx.Done():
			return
		}
	}
}

func (f *Fanout[T]) publish(v T) {
	f.mu.Lock()
	f.buf[f.head%uint64(len(f.buf))] = v
	f.head++
	old := f.notify
	f.notify = make(chan struct{})
	f.mu.Unlock()
	close(old)
}

// Done reports when the fanout has stopped, which happens only after the
// context it was started with is canceled.
func (f *Fanout[T]) Done() <-chan struct{} {
	return f.doneCh
}

// Subscribe registers a new receiver that will observe every value
// published from this point on.
func (f *Fanout[T]) Subscribe() *Receiver[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &Receiver[T]{f: f, pos: f.head, id: uuid.NewString()}
}

// Receiver is one subscriber's read cursor into a Fanout's ring buffer.
type Receiver[T any] struct {
	f   *Fanout[T]
	pos uint64
	id  string
}

// ID identifies this receiver for log correlation.
func (r *Receiver[T]) ID() string {
	return r.id
}

// Recv blocks until the next value is available, ctx is done, or the
// fanout stops. lag reports how many values were skipped because this
// receiver fell behind the ring buffer's capacity since the previous call.
func (r *Receiver[T]) Recv(ctx context.Context) (value T, lag uint64, err error) {
	for {
		r.f.mu.Lock()
		if r.f.head > r.pos {
			capU := uint64(len(r.f.buf))
			if r.f.head-r.pos > capU {
				lag = r.f.head - r.pos - capU
				r.pos = r.f.head - capU
			}
			value = r.f.buf[r.pos%capU]
			r.pos++
			r.f.mu.Unlock()
			return value, lag, nil
		}
		wake := r.f.notify
		r.f.mu.Unlock()

		select {
		case <-wake:
			continue
		case <-ctx.Done():
			var zero T
			return zero, 0, ctx.Err()
		case <-r.f.doneCh:
			var zero T
			return zero, 0, errFanoutStopped
		}
	}
}
