// Package relayclient is a Go client for the filerelay gRPC relay and its
// HTTP upload and download endpoints.
package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/dmitrijs2005/filerelay/internal/common"
	"github.com/dmitrijs2005/filerelay/internal/netx"
	pb "github.com/dmitrijs2005/filerelay/internal/proto"
	"github.com/dmitrijs2005/filerelay/internal/server/relay"
	"github.com/dmitrijs2005/filerelay/internal/server/storage"
	"github.com/dmitrijs2005/filerelay/internal/server/transfers"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnavailable  = errors.New("server unavailable")
	ErrNotConnected = errors.New("not connected")
)

// Options configure a Client. HTTPBaseURL is only needed for Upload and
// Download.
type Options struct {
	HTTPBaseURL string
	HTTPClient  *http.Client
	DialOptions []grpc.DialOption
}

type Client struct {
	accessToken string
	httpBase    string
	httpClient  *http.Client
	conn        *grpc.ClientConn

	sendMu sync.Mutex

	mu     sync.Mutex
	stream grpc.ClientStream
	cancel context.CancelFunc
	events chan relay.Event
	err    error
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	md.Set(common.AccessTokenHeaderName, token)

	return metadata.NewOutgoingContext(ctx, md)
}

func (c *Client) accessTokenInterceptor(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	return streamer(withAccessToken(ctx, c.accessToken), desc, cc, method, opts...)
}

// New creates a client for the relay at target. No connection is made
// until Connect.
func New(target, accessToken string, opts Options) (*Client, error) {
	c := &Client{
		accessToken: accessToken,
		httpBase:    strings.TrimRight(opts.HTTPBaseURL, "/"),
		httpClient:  opts.HTTPClient,
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}

	dial := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStreamInterceptor(c.accessTokenInterceptor),
	}, opts.DialOptions...)

	conn, err := grpc.NewClient(target, dial...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

// Connect opens the relay stream. Incoming events are delivered on Events
// until the stream ends; Err then reports why.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return nil
	}

	sctx, cancel := context.WithCancel(ctx)
	stream, err := c.conn.NewStream(sctx, &pb.ConnectStreamDesc, pb.ConnectMethod)
	if err != nil {
		cancel()
		return mapError(err)
	}

	c.stream = stream
	c.cancel = cancel
	c.events = make(chan relay.Event, 64)
	c.err = nil

	go c.receive(stream, c.events)
	return nil
}

func (c *Client) receive(stream grpc.ClientStream, events chan<- relay.Event) {
	defer close(events)

	for {
		msg := &structpb.Struct{}
		if err := stream.RecvMsg(msg); err != nil {
			if !errors.Is(err, io.EOF) {
				c.mu.Lock()
				c.err = mapError(err)
				c.mu.Unlock()
			}
			return
		}

		ev, err := pb.Decode(msg)
		if err != nil {
			continue
		}
		events <- ev
	}
}

// Events returns the channel of incoming events. It is nil before Connect.
func (c *Client) Events() <-chan relay.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// Err reports why the event channel was closed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Emit sends one event on the relay stream.
func (c *Client) Emit(name string, payload any) error {
	ev, err := relay.NewEvent(name, payload)
	if err != nil {
		return err
	}
	msg, err := pb.Encode(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return ErrNotConnected
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return mapError(stream.SendMsg(msg))
}

func (c *Client) Initiate(req relay.InitiateRequest) error {
	return c.Emit(relay.EventInitiateTransfer, req)
}

func (c *Client) Accept(senderID, fileID string) error {
	return c.Emit(relay.EventAcceptTransfer, relay.AcceptRequest{SenderID: senderID, FileID: fileID})
}

// SendChunk relays chunk to the recipient. The bytes travel base64 encoded
// inside the JSON envelope.
func (c *Client) SendChunk(recipientID, fileID string, chunk []byte, progress float64) error {
	raw, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	return c.Emit(relay.EventFileChunk, relay.ChunkRequest{
		RecipientID: recipientID,
		FileID:      fileID,
		Chunk:       raw,
		Progress:    &progress,
	})
}

func (c *Client) Complete(recipientID, fileID string) error {
	return c.Emit(relay.EventTransferComplete, relay.CompleteRequest{RecipientID: recipientID, FileID: fileID})
}

// DecodeChunk returns the bytes of a chunk sent with SendChunk.
func DecodeChunk(rc relay.ReceiveChunk) ([]byte, error) {
	var b []byte
	if err := json.Unmarshal(rc.Chunk, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidChunk, err)
	}
	return b, nil
}

// Disconnect ends the relay stream. The client may Connect again.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return
	}
	_ = c.stream.CloseSend()
	c.cancel()
	c.stream = nil
}

func (c *Client) Close() error {
	c.Disconnect()
	return c.conn.Close()
}

// Upload stores a file through the HTTP upload endpoint.
func (c *Client) Upload(ctx context.Context, fileName, mimeType string, size int64, r io.Reader) (*storage.EncryptedObject, error) {
	if c.httpBase == "" {
		return nil, fmt.Errorf("%w: no HTTP base URL configured", common.ErrValidation)
	}

	body, err := netx.UploadFile(ctx, c.httpClient, c.httpBase+"/api/files/upload", c.accessToken, fileName, mimeType, size, r)
	if err != nil {
		return nil, err
	}

	var obj storage.EncryptedObject
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &obj, nil
}

// RecordTransfer registers a stored file as sent to req.RecipientID and
// returns the transfer id.
func (c *Client) RecordTransfer(ctx context.Context, req transfers.RecordRequest) (string, error) {
	if c.httpBase == "" {
		return "", fmt.Errorf("%w: no HTTP base URL configured", common.ErrValidation)
	}

	var out struct {
		TransferID string `json:"transferId"`
	}
	if err := netx.PostJSON(ctx, c.httpClient, c.httpBase+"/api/files/transfers", c.accessToken, req, &out); err != nil {
		return "", err
	}
	return out.TransferID, nil
}

// Download writes the decrypted content of a stored transfer into w.
func (c *Client) Download(ctx context.Context, transferID string, w io.Writer) (int64, error) {
	if c.httpBase == "" {
		return 0, fmt.Errorf("%w: no HTTP base URL configured", common.ErrValidation)
	}
	return netx.Download(ctx, c.httpClient, c.httpBase+"/api/files/transfers/"+transferID+"/download", c.accessToken, w)
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return err
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return ErrUnauthorized
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	case codes.Canceled:
		return context.Canceled
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
