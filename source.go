package blockmux

import (
	"context"
	"fmt"
	"time"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"github.com/rs/zerolog"
)

// reconnectBackoff is the fixed delay between a source entering
// WaitReconnect and its next connect attempt. Not exponential: kept as a
// single fixed interval rather than exposed as a tunable.
const reconnectBackoff = 1 * time.Second

type connState int

const (
	stateNotConnected connState = iota
	stateConnecting
	stateReady
	stateWaitReconnect
)

type connectOutcome struct {
	stream updateStream
	closer func() error
	err    error
	fatal  bool
}

// runSource drives a single source's reconnecting subscription state
// machine and writes every received update onto out. It never returns
// except when ctx is done or onFatal is invoked; out is shared by every
// configured source and is never closed by runSource.
func runSource(ctx context.Context, cfg SourceConfig, filters filterSet, commitment pb.CommitmentLevel, out chan<- *pb.SubscribeUpdate, dial dialFunc, logger zerolog.Logger, metrics *Metrics, onFatal func(error)) {
	log := logger.With().Str("source", cfg.Label).Logger()

	state := stateNotConnected
	var stream updateStream
	var closer func() error
	var connectResult chan connectOutcome

	closeConn := func() {
		if closer != nil {
			closer()
			closer = nil
		}
		stream = nil
	}

	for {
		select {
		case <-ctx.Done():
			closeConn()
			return
		default:
		}

		switch state {
		case stateNotConnected:
			connectResult = make(chan connectOutcome, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						connectResult <- connectOutcome{err: fmt.Errorf("panic connecting to %s: %v", cfg.Label, r), fatal: true}
					}
				}()
				s, c, err := dial(ctx, cfg, filters, commitment)
				connectResult <- connectOutcome{stream: s, closer: c, err: err}
			}()
			state = stateConnecting

		case stateConnecting:
			select {
			case <-ctx.Done():
				return
			case res := <-connectResult:
				if res.fatal {
					onFatal(res.err)
					return
				}
				if res.err != nil {
					log.Warn().Err(res.err).Msg("subscribe failed, retrying")
					metrics.reconnect(cfg.Label)
					state = stateWaitReconnect
					continue
				}
				stream, closer = res.stream, res.closer
				state = stateReady
			}

		case stateReady:
			update, err := stream.Recv()
			if err != nil {
				log.Warn().Err(err).Msg("stream receive failed, reconnecting")
				closeConn()
				metrics.reconnect(cfg.Label)
				state = stateWaitReconnect
				continue
			}
			metrics.updateReceived(cfg.Label)
			log.Trace().Uint64("slot", slotOf(update)).Msg("update received")

			select {
			case out <- update:
			case <-ctx.Done():
				closeConn()
				return
			}

		case stateWaitReconnect:
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectBackoff):
				state = stateNotConnected
			}
		}
	}
}

// slotOf returns the slot carried by update, if any, for log correlation.
func slotOf(update *pb.SubscribeUpdate) uint64 {
	if b := update.GetBlock(); b != nil {
		return b.Slot
	}
	if m := update.GetBlockMeta(); m != nil {
		return m.Slot
	}
	return 0
}
