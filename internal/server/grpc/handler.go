package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	pb "github.com/dmitrijs2005/filerelay/internal/proto"
	"github.com/dmitrijs2005/filerelay/internal/server/auth"
	"github.com/dmitrijs2005/filerelay/internal/server/metrics"
	"github.com/dmitrijs2005/filerelay/internal/server/relay"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const sendBuffer = 256

var errConnClosed = errors.New("connection closed")

// streamConn is one Connect stream registered with the registry. Events
// are queued and written by the stream handler goroutine, the only one
// allowed to call SendMsg.
type streamConn struct {
	id       string
	identity auth.Identity
	send     chan relay.Event
	done     chan struct{}
	once     sync.Once
}

func newStreamConn(id auth.Identity) *streamConn {
	return &streamConn{
		id:       uuid.NewString(),
		identity: id,
		send:     make(chan relay.Event, sendBuffer),
		done:     make(chan struct{}),
	}
}

func (c *streamConn) ID() string       { return c.id }
func (c *streamConn) Identity() string { return c.identity.ID }

func (c *streamConn) Send(ev relay.Event) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	select {
	case c.send <- ev:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		_ = c.Close()
		return fmt.Errorf("send queue full for connection %s", c.id)
	}
}

func (c *streamConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *streamConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Connect serves one relay client for the lifetime of its stream.
func (s *GRPCServer) Connect(stream grpc.ServerStream) error {
	ctx := stream.Context()
	id, ok := auth.FromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "unauthorized")
	}

	c := newStreamConn(id)
	// dispatch must not be tied to the stream: a disconnect still has to
	// update records after the stream context is gone
	dctx := context.WithoutCancel(ctx)

	s.streams.Add(1)
	s.registry.Register(c)
	metrics.ConnectionsActive.WithLabelValues("grpc").Inc()
	s.logger.Info(ctx, "relay stream opened", "identity", id.ID, "conn", c.id)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		s.readLoop(dctx, stream, c)
	}()

	err := s.writeLoop(ctx, stream, c)
	_ = c.Close()

	// RecvMsg only unblocks once this handler has returned, so teardown
	// waits for the reader here. An event still being dispatched must land
	// before the disconnect sweep runs.
	go func() {
		defer s.streams.Done()
		<-readDone
		metrics.ConnectionsActive.WithLabelValues("grpc").Dec()
		if s.registry.Unregister(c) {
			s.machine.Disconnected(dctx, id.ID)
		}
		s.logger.Info(dctx, "relay stream closed", "identity", id.ID, "conn", c.id)
	}()

	return err
}

func (s *GRPCServer) readLoop(ctx context.Context, stream grpc.ServerStream, c *streamConn) {
	defer c.Close()

	peer := relay.Peer{Identity: c.identity.ID, Name: c.identity.Name, Conn: c}

	for {
		msg := &structpb.Struct{}
		if err := stream.RecvMsg(msg); err != nil {
			if !errors.Is(err, io.EOF) && status.Code(err) != codes.Canceled {
				s.logger.Debug(ctx, "relay stream receive failed", "conn", c.id, "error", err)
			}
			return
		}
		if c.closed() {
			return
		}

		ev, err := pb.Decode(msg)
		if err != nil {
			_ = c.Send(relay.ErrorEvent(err, ""))
			continue
		}

		s.machine.Dispatch(ctx, peer, ev)
	}
}

func (s *GRPCServer) writeLoop(ctx context.Context, stream grpc.ServerStream, c *streamConn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case <-s.quit:
			return status.Error(codes.Unavailable, "server shutting down")
		case ev := <-c.send:
			msg, err := pb.Encode(ev)
			if err != nil {
				s.logger.Error(ctx, "encode relay event", "event", ev.Name, "error", err)
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				s.logger.Debug(ctx, "relay stream send failed", "conn", c.id, "error", err)
				return nil
			}
		}
	}
}
