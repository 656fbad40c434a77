package blockmux

import (
	"context"
	"fmt"
	"strings"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"github.com/rs/zerolog"
)

// CommitmentLevel re-exports the wire enum so callers don't need to import
// the proto package directly.
type CommitmentLevel = pb.CommitmentLevel

const (
	CommitmentConfirmed = pb.CommitmentLevel_CONFIRMED
	CommitmentFinalized = pb.CommitmentLevel_FINALIZED
)

// TLSConfig configures the transport credentials used to dial a source.
// A nil *TLSConfig dials with the system cert pool and no server-name
// override.
type TLSConfig struct {
	InsecureSkipVerify bool
	ServerName         string
}

// SourceConfig describes one upstream Geyser endpoint to subscribe to.
type SourceConfig struct {
	// Label identifies this source in logs and metrics.
	Label string
	// Endpoint is a host:port or https:// URL.
	Endpoint string
	// AuthToken is sent as the x-token metadata value, if non-empty.
	AuthToken string
	// TLSConfig overrides default transport credentials; nil uses defaults.
	TLSConfig *TLSConfig
}

type options struct {
	logger  zerolog.Logger
	metrics *Metrics
	onFatal func(error)
	dial    dialFunc
}

// Option configures CreateMultiplex.
type Option func(*options)

// WithLogger sets the structured logger the multiplexer and its source
// connectors emit through. The default is a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics registers prometheus collectors for this multiplexer
// instance. The default is nil, which disables instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithFatalHandler overrides how an unrecoverable task fault is reported.
// The default terminates the process after logging, as an unrecoverable
// task fault should.
func WithFatalHandler(f func(error)) Option {
	return func(o *options) { o.onFatal = f }
}

func resolveOptions(opts []Option) *options {
	o := &options{
		logger: zerolog.Nop(),
	}
	for _, apply := range opts {
		apply(o)
	}
	if o.onFatal == nil {
		logger := o.logger
		o.onFatal = func(err error) { logger.Fatal().Err(err).Msg("unrecoverable source task fault") }
	}
	if o.dial == nil {
		o.dial = dialAndSubscribe
	}
	return o
}

// CreateMultiplex wires one reconnecting Source Connector per entry in
// sources, fans their updates into a single Fastest-Wins Filter, and
// returns the resulting monotonic-slot block stream. commitment must be
// CommitmentConfirmed or CommitmentFinalized; Processed blocks aren't
// sequential across forks and would break the filter's monotonic-slot
// invariant.
//
// The returned channel is closed when ctx is canceled. CreateMultiplex
// itself never blocks.
func CreateMultiplex[B any](ctx context.Context, sources []SourceConfig, commitment pb.CommitmentLevel, extractor Extractor[B], opts ...Option) (<-chan B, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("blockmux: at least one source is required")
	}
	if commitment != CommitmentConfirmed && commitment != CommitmentFinalized {
		return nil, fmt.Errorf("blockmux: unsupported commitment level %v, only CONFIRMED and FINALIZED are supported", commitment)
	}

	cfg := resolveOptions(opts)

	labels := make([]string, len(sources))
	for i, s := range sources {
		labels[i] = s.Label
	}
	cfg.logger.Info().
		Int("sources", len(sources)).
		Str("labels", strings.Join(labels, ", ")).
		Msg("starting multiplexer")
	cfg.metrics.setSourcesConfigured(len(sources))

	blockFilter, blockMetaFilter := extractor.SubscriptionFilters()
	filters := filterSet{blocks: blockFilter, blocksMeta: blockMetaFilter}

	merged := make(chan *pb.SubscribeUpdate)
	for _, src := range sources {
		go runSource(ctx, src, filters, commitment, merged, cfg.dial, cfg.logger, cfg.metrics, cfg.onFatal)
	}

	return runCountedFilter(ctx, merged, extractor, cfg.metrics), nil
}

// runCountedFilter wraps RunFastestWinsFilter with an emitted-block counter
// so CreateMultiplex doesn't need to expose the filter's internals.
func runCountedFilter[B any](ctx context.Context, merged <-chan *pb.SubscribeUpdate, extractor Extractor[B], metrics *Metrics) <-chan B {
	filtered := RunFastestWinsFilter(ctx, merged, extractor)
	if metrics == nil {
		return filtered
	}
	out := make(chan B)
	go func() {
		defer close(out)
		for b := range filtered {
			metrics.blockEmitted()
			select {
			case out <- b:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Channelize wraps source in a broadcast Fanout so multiple independent
// consumers can each read the block stream at their own pace. capacity <= 0
// uses DefaultFanoutCapacity.
func Channelize[T any](ctx context.Context, source <-chan T, capacity int) *Fanout[T] {
	return NewFanout(ctx, source, capacity)
}
