package blockmux

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

const (
	sdkName    = "blockmux-go"
	sdkVersion = "0.1.0"

	connectTimeout = 2 * time.Second
	requestTimeout = 2 * time.Second
)

// updateStream is the subset of pb.Geyser_SubscribeClient the source
// connector needs. Narrowing to an interface lets tests drive the state
// machine with an in-memory fake instead of a live gRPC endpoint.
type updateStream interface {
	Recv() (*pb.SubscribeUpdate, error)
	Send(*pb.SubscribeRequest) error
	CloseSend() error
}

type filterSet struct {
	blocks     map[string]*pb.SubscribeRequestFilterBlocks
	blocksMeta map[string]*pb.SubscribeRequestFilterBlocksMeta
}

// dialFunc dials and subscribes to a single source, returning a stream and
// a closer for its underlying connection. Production code uses
// dialAndSubscribe; tests substitute a fake.
type dialFunc func(ctx context.Context, cfg SourceConfig, filters filterSet, commitment pb.CommitmentLevel) (updateStream, func() error, error)

func dialAndSubscribe(ctx context.Context, cfg SourceConfig, filters filterSet, commitment pb.CommitmentLevel) (updateStream, func() error, error) {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(tlsCredentials(cfg.TLSConfig)),
		grpc.WithBlock(),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(1024*1024*1024),
			grpc.MaxCallSendMsgSize(32*1024*1024),
		),
		grpc.WithInitialWindowSize(4 * 1024 * 1024),
		grpc.WithInitialConnWindowSize(8 * 1024 * 1024),
	}

	conn, err := grpc.DialContext(dialCtx, target(cfg.Endpoint), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", cfg.Label, err)
	}

	client := pb.NewGeyserClient(conn)
	md := metadata.New(map[string]string{
		"x-sdk-name":    sdkName,
		"x-sdk-version": sdkVersion,
	})
	if cfg.AuthToken != "" {
		md.Set("x-token", cfg.AuthToken)
	}
	streamCtx := metadata.NewOutgoingContext(ctx, md)

	stream, err := client.Subscribe(streamCtx)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", cfg.Label, err)
	}

	req := buildRequest(filters, commitment)
	sendDone := make(chan error, 1)
	go func() { sendDone <- stream.Send(req) }()

	sendCtx, sendCancel := context.WithTimeout(ctx, requestTimeout)
	defer sendCancel()

	select {
	case err := <-sendDone:
		if err != nil {
			stream.CloseSend()
			conn.Close()
			return nil, nil, fmt.Errorf("send subscribe request %s: %w", cfg.Label, err)
		}
	case <-sendCtx.Done():
		stream.CloseSend()
		conn.Close()
		return nil, nil, fmt.Errorf("send subscribe request %s: timed out", cfg.Label)
	}

	return stream, conn.Close, nil
}

func target(endpoint string) string {
	if strings.HasPrefix(endpoint, "https://") || strings.HasPrefix(endpoint, "http://") {
		if u, err := url.Parse(endpoint); err == nil {
			if u.Port() != "" {
				return u.Host
			}
			return u.Hostname() + ":443"
		}
	}
	if strings.Contains(endpoint, ":") {
		return endpoint
	}
	return endpoint + ":443"
}

func tlsCredentials(cfg *TLSConfig) credentials.TransportCredentials {
	if cfg == nil {
		return credentials.NewClientTLSFromCert(nil, "")
	}
	return credentials.NewTLS(&tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		ServerName:         cfg.ServerName,
	})
}

func buildRequest(filters filterSet, commitment pb.CommitmentLevel) *pb.SubscribeRequest {
	c := commitment
	return &pb.SubscribeRequest{
		Accounts:     map[string]*pb.SubscribeRequestFilterAccounts{},
		Slots:        map[string]*pb.SubscribeRequestFilterSlots{},
		Transactions: map[string]*pb.SubscribeRequestFilterTransactions{},
		Entry:        map[string]*pb.SubscribeRequestFilterEntry{},
		Blocks:       filters.blocks,
		BlocksMeta:   filters.blocksMeta,
		Commitment:   &c,
	}
}
