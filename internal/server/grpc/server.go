package grpc

import (
	"context"
	"net"
	"sync"

	"github.com/dmitrijs2005/filerelay/internal/logging"
	pb "github.com/dmitrijs2005/filerelay/internal/proto"
	"github.com/dmitrijs2005/filerelay/internal/server/registry"
	"github.com/dmitrijs2005/filerelay/internal/server/relay"
	"google.golang.org/grpc"
)

// connector is the handler type of the relay service.
type connector interface {
	Connect(stream grpc.ServerStream) error
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(connector).Connect(stream)
}

var relayServiceDesc = grpc.ServiceDesc{
	ServiceName: pb.ServiceName,
	HandlerType: (*connector)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    pb.ConnectStreamDesc.StreamName,
		Handler:       connectHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
	Metadata: "filerelay/relay.proto",
}

// GRPCServer exposes the relay to non-browser clients over a bidirectional
// stream. It shares the registry and machine with the websocket endpoint.
type GRPCServer struct {
	address        string
	logger         logging.Logger
	jwtSecret      []byte
	maxMessageSize int
	registry       *registry.Registry
	machine        *relay.Machine

	quit     chan struct{}
	quitOnce sync.Once
	// streams counts Connect handlers whose teardown has not finished
	streams sync.WaitGroup
}

func NewGRPCServer(a string, l logging.Logger, secretKey []byte, maxMessageSize int, reg *registry.Registry, m *relay.Machine) *GRPCServer {
	return &GRPCServer{
		address:        a,
		logger:         l.With("module", "grpc_server"),
		jwtSecret:      secretKey,
		maxMessageSize: maxMessageSize,
		registry:       reg,
		machine:        m,
		quit:           make(chan struct{}),
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	opts := []grpc.ServerOption{grpc.ChainStreamInterceptor(s.accessTokenInterceptor)}
	if s.maxMessageSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(s.maxMessageSize))
	}
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&relayServiceDesc, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listen)
}

// Serve runs the server on listen until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, listen net.Listener) error {
	srv := s.newServer()
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		// streams are long lived; end them so GracefulStop can return
		s.quitOnce.Do(func() { close(s.quit) })
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	// disconnect handling still writes records; finish it before the
	// caller closes the repository
	<-stopped
	s.streams.Wait()

	return nil
}
