package relayclient

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/filerelay/internal/server/relay"
)

const DefaultChunkSize = 64 * 1024

// RemoteError is a transfer-error received from the relay.
type RemoteError struct {
	Code    string
	Message string
	FileID  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("relay error %s: %s", e.Code, e.Message)
}

func remoteError(ev relay.Event) *RemoteError {
	var te relay.TransferError
	_ = ev.Decode(&te)
	return &RemoteError{Code: te.Code, Message: te.Message, FileID: te.FileID}
}

// concerns reports whether an error event belongs to fileID. Errors without
// a file id are connection-level and concern every transfer.
func (e *RemoteError) concerns(fileID string) bool {
	return e.FileID == "" || e.FileID == fileID
}

func (c *Client) next(ctx context.Context, events <-chan relay.Event) (relay.Event, error) {
	select {
	case <-ctx.Done():
		return relay.Event{}, ctx.Err()
	case ev, ok := <-events:
		if !ok {
			if err := c.Err(); err != nil {
				return relay.Event{}, err
			}
			return relay.Event{}, ErrNotConnected
		}
		return ev, nil
	}
}

// drain consumes buffered events without blocking and returns the first
// error concerning fileID.
func drain(events <-chan relay.Event, fileID string) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return ErrNotConnected
			}
			if ev.Name == relay.EventTransferError {
				if re := remoteError(ev); re.concerns(fileID) {
					return re
				}
			}
		default:
			return nil
		}
	}
}

// SendFile offers r to recipientID, waits for acceptance and streams it in
// chunks. It reads Events until the transfer ends, so nothing else may
// consume them meanwhile.
func (c *Client) SendFile(ctx context.Context, req relay.InitiateRequest, r io.Reader, chunkSize int) error {
	events := c.Events()
	if events == nil {
		return ErrNotConnected
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	if err := c.Initiate(req); err != nil {
		return err
	}

	for accepted := false; !accepted; {
		ev, err := c.next(ctx, events)
		if err != nil {
			return err
		}
		switch ev.Name {
		case relay.EventTransferAccepted:
			var ta relay.TransferAccepted
			if err := ev.Decode(&ta); err == nil && ta.FileID == req.FileID {
				accepted = true
			}
		case relay.EventTransferError:
			if re := remoteError(ev); re.concerns(req.FileID) {
				return re
			}
		}
	}

	buf := make([]byte, chunkSize)
	var sent int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			sent += int64(n)
			progress := 100.0
			if req.FileSize > 0 && sent < req.FileSize {
				progress = float64(sent) / float64(req.FileSize) * 100
			}
			if err := c.SendChunk(req.RecipientID, req.FileID, buf[:n], progress); err != nil {
				return err
			}
			if err := drain(events, req.FileID); err != nil {
				return err
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
	}

	return c.Complete(req.RecipientID, req.FileID)
}

// ReceiveFile waits for a transfer request, accepts it when accept agrees
// and writes the relayed chunks into w until the sender completes.
// Declined requests are left to expire on the server.
func (c *Client) ReceiveFile(ctx context.Context, accept func(relay.TransferRequest) bool, w io.Writer) (*relay.TransferRequest, error) {
	events := c.Events()
	if events == nil {
		return nil, ErrNotConnected
	}

	var offer *relay.TransferRequest
	for offer == nil {
		ev, err := c.next(ctx, events)
		if err != nil {
			return nil, err
		}
		if ev.Name != relay.EventTransferRequest {
			continue
		}
		var tr relay.TransferRequest
		if err := ev.Decode(&tr); err != nil {
			continue
		}
		if accept == nil || accept(tr) {
			offer = &tr
		}
	}

	if err := c.Accept(offer.SenderID, offer.FileID); err != nil {
		return offer, err
	}

	for {
		ev, err := c.next(ctx, events)
		if err != nil {
			return offer, err
		}
		switch ev.Name {
		case relay.EventReceiveChunk:
			var rc relay.ReceiveChunk
			if err := ev.Decode(&rc); err != nil || rc.FileID != offer.FileID {
				continue
			}
			b, err := DecodeChunk(rc)
			if err != nil {
				return offer, err
			}
			if _, err := w.Write(b); err != nil {
				return offer, fmt.Errorf("write file: %w", err)
			}
		case relay.EventTransferFinished:
			var tf relay.TransferFinished
			if err := ev.Decode(&tf); err == nil && tf.FileID == offer.FileID {
				return offer, nil
			}
		case relay.EventTransferError:
			if re := remoteError(ev); re.concerns(offer.FileID) {
				return offer, re
			}
		}
	}
}
