package network

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/novifinancial/fastpay"
	"github.com/novifinancial/fastpay/message"
)

const (
	crossShardQueueSize  = 1000
	crossShardRetryDelay = 100 * time.Millisecond
)

/*
	ShardServer exposes one shard of one authority on the network. Each shard
	listens on base_port + shard_id. Cross-shard credits leave through an
	in-memory outbox and are re-sent until the owning shard's server accepts
	the connection; the receiving shard de-duplicates, so redelivery is safe.
*/
type ShardServer struct {
	state    *fastpay.AuthorityState
	host     string
	basePort uint32
	protocol string

	crossShard chan *message.CrossShardUpdate
	logger     *log.Logger
	shardLabel string
}

func NewShardServer(state *fastpay.AuthorityState, host string, basePort uint32, protocol string) *ShardServer {
	return &ShardServer{
		state:      state,
		host:       host,
		basePort:   basePort,
		protocol:   protocol,
		crossShard: make(chan *message.CrossShardUpdate, crossShardQueueSize),
		logger:     log.StandardLogger(),
		shardLabel: strconv.FormatUint(uint64(state.ShardId()), 10),
	}
}

func (s *ShardServer) SetLogger(lg *log.Logger) {
	s.logger = lg
}

func (s *ShardServer) Address() string {
	return fmt.Sprintf("%s:%d", s.host, s.basePort+uint32(s.state.ShardId()))
}

// Run serves until the context is canceled.
func (s *ShardServer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.forwardCrossShardUpdates(ctx) })
	switch s.protocol {
	case ProtocolUDP:
		g.Go(func() error { return s.runUDP(ctx) })
	default:
		g.Go(func() error { return s.runTCP(ctx) })
	}
	return g.Wait()
}

func (s *ShardServer) runTCP(ctx context.Context) error {
	lc := &net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.Address())
	if err != nil {
		return err
	}
	defer listener.Close()
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	s.logger.WithField("address", s.Address()).
		WithField("shard", s.shardLabel).
		Info("listening to TCP traffic")
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *ShardServer) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := ReadFrame(conn)
		if err != nil {
			return // peer closed or framing broke
		}
		resp := s.handleEnvelope(frame)
		if resp == nil {
			continue
		}
		if err := WriteFrame(conn, resp); err != nil {
			return
		}
	}
}

func (s *ShardServer) runUDP(ctx context.Context) error {
	lc := &net.ListenConfig{}
	packetConn, err := lc.ListenPacket(ctx, "udp", s.Address())
	if err != nil {
		return err
	}
	defer packetConn.Close()
	go func() {
		<-ctx.Done()
		packetConn.Close()
	}()
	s.logger.WithField("address", s.Address()).
		WithField("shard", s.shardLabel).
		Info("listening to UDP traffic")
	buf := make([]byte, MaxDatagramSize)
	for {
		n, addr, err := packetConn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		datagram := append([]byte(nil), buf[:n]...)
		resp := s.handleEnvelope(datagram)
		if resp != nil {
			packetConn.WriteTo(resp, addr)
		}
	}
}

// handleEnvelope dispatches one wire envelope and returns the response
// envelope, or nil when the message expects no answer (cross-shard updates).
func (s *ShardServer) handleEnvelope(frame []byte) []byte {
	packetsProcessed.WithLabelValues(s.shardLabel).Inc()
	msg, err := message.Deserialize(frame)
	if err != nil {
		userErrors.WithLabelValues(s.shardLabel).Inc()
		return message.MustSerialize(message.AsError(err))
	}
	switch m := msg.(type) {
	case *message.TransferOrder:
		info, err := s.state.HandleTransferOrder(m)
		return s.respond(info, err)
	case *message.CertifiedTransferOrder:
		info, update, err := s.state.HandleConfirmationOrder(m)
		if update != nil {
			s.enqueueCrossShard(update)
		}
		return s.respond(info, err)
	case *message.CrossShardUpdate:
		if err := s.state.HandleCrossShardUpdate(m); err != nil {
			userErrors.WithLabelValues(s.shardLabel).Inc()
			s.logger.WithField("err", err).Warn("rejected cross-shard update")
		}
		return nil
	case *message.AccountInfoRequest:
		info, err := s.state.HandleAccountInfoRequest(m)
		return s.respond(info, err)
	default:
		userErrors.WithLabelValues(s.shardLabel).Inc()
		return message.MustSerialize(message.NewError(message.CodeUnexpectedMessage))
	}
}

func (s *ShardServer) respond(info *message.AccountInfoResponse, err error) []byte {
	if err != nil {
		userErrors.WithLabelValues(s.shardLabel).Inc()
		return message.MustSerialize(message.AsError(err))
	}
	return message.MustSerialize(info)
}

func (s *ShardServer) enqueueCrossShard(update *message.CrossShardUpdate) {
	select {
	case s.crossShard <- update:
	default:
		// Queue full; drop, the client's confirmation retry will re-emit.
		s.logger.Warn("cross-shard queue full, dropping update")
	}
}

// forwardCrossShardUpdates pushes queued credits to the owning shard's
// server, retrying until the send succeeds.
func (s *ShardServer) forwardCrossShardUpdates(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-s.crossShard:
			payload := message.MustSerialize(update)
			address := fmt.Sprintf("%s:%d", s.host, s.basePort+uint32(update.ShardId))
			for {
				err := s.sendOneWay(ctx, address, payload)
				if err == nil {
					break
				}
				crossShardRetries.WithLabelValues(s.shardLabel).Inc()
				s.logger.WithField("target", address).
					WithField("err", err).
					Warn("failed to send cross-shard update, retrying")
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(crossShardRetryDelay):
				}
			}
		}
	}
}

func (s *ShardServer) sendOneWay(ctx context.Context, address string, payload []byte) error {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, s.protocol, address)
	if err != nil {
		return err
	}
	defer conn.Close()
	if s.protocol == ProtocolUDP {
		_, err = conn.Write(payload)
		return err
	}
	return WriteFrame(conn, payload)
}

// RunAuthority serves every shard of an authority in one process.
func RunAuthority(ctx context.Context, shards []*fastpay.AuthorityState, host string, basePort uint32, protocol string, lg *log.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, state := range shards {
		server := NewShardServer(state, host, basePort, protocol)
		if lg != nil {
			server.SetLogger(lg)
		}
		g.Go(func() error { return server.Run(ctx) })
	}
	return g.Wait()
}
