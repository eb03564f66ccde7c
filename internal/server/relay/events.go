package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/filerelay/internal/common"
)

// Event names on the wire.
const (
	EventInitiateTransfer = "initiate-transfer"
	EventTransferRequest  = "transfer-request"
	EventAcceptTransfer   = "accept-transfer"
	EventTransferAccepted = "transfer-accepted"
	EventFileChunk        = "file-chunk"
	EventReceiveChunk     = "receive-chunk"
	EventTransferProgress = "transfer-progress"
	EventTransferComplete = "transfer-complete"
	EventTransferFinished = "transfer-finished"
	EventTransferError    = "transfer-error"
)

// Error codes carried by transfer-error.
const (
	CodeValidation           = "validation"
	CodeInvalidChunk         = "invalid_chunk"
	CodeRecipientUnavailable = "recipient_unavailable"
	CodeInvalidSession       = "invalid_session"
	CodeUnknownEvent         = "unknown_event"
	CodePeerDisconnected     = "peer_disconnected"
	CodeTimeout              = "timeout"
	CodeInternal             = "internal"
)

// Event is the envelope every relay message travels in:
//
//	{"event": "file-chunk", "data": {...}}
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals payload into an envelope.
func NewEvent(name string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s: %w", name, err)
	}
	return Event{Name: name, Data: data}, nil
}

// mustEvent is NewEvent for payload types defined in this package, which
// always marshal.
func mustEvent(name string, payload any) Event {
	ev, err := NewEvent(name, payload)
	if err != nil {
		panic(err)
	}
	return ev
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s: missing data", common.ErrValidation, e.Name)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrValidation, e.Name, err)
	}
	return nil
}

type InitiateRequest struct {
	RecipientID string `json:"recipientId"`
	FileID      string `json:"fileId"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	// TransferID optionally links the session to a stored transfer record.
	TransferID string `json:"transferId,omitempty"`
}

type TransferRequest struct {
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	FileID     string `json:"fileId"`
	FileName   string `json:"fileName"`
	FileSize   int64  `json:"fileSize"`
	TransferID string `json:"transferId,omitempty"`
}

type AcceptRequest struct {
	SenderID string `json:"senderId"`
	FileID   string `json:"fileId"`
}

type TransferAccepted struct {
	RecipientID string `json:"recipientId"`
	FileID      string `json:"fileId"`
}

// ChunkRequest carries one opaque chunk. Chunk is forwarded verbatim and
// never interpreted.
type ChunkRequest struct {
	RecipientID string          `json:"recipientId"`
	Chunk       json.RawMessage `json:"chunk"`
	Progress    *float64        `json:"progress"`
	FileID      string          `json:"fileId"`
}

type ReceiveChunk struct {
	Chunk    json.RawMessage `json:"chunk"`
	Progress float64         `json:"progress"`
	FileID   string          `json:"fileId"`
	SenderID string          `json:"senderId"`
}

type TransferProgress struct {
	Progress float64 `json:"progress"`
	FileID   string  `json:"fileId"`
}

type CompleteRequest struct {
	RecipientID string `json:"recipientId"`
	FileID      string `json:"fileId"`
}

type TransferFinished struct {
	FileID   string `json:"fileId"`
	SenderID string `json:"senderId"`
}

type TransferError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	FileID  string `json:"fileId,omitempty"`
}

// ErrorCode maps err to the code reported in transfer-error.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, common.ErrInvalidChunk):
		return CodeInvalidChunk
	case errors.Is(err, common.ErrValidation):
		return CodeValidation
	case errors.Is(err, common.ErrRecipientUnavailable):
		return CodeRecipientUnavailable
	case errors.Is(err, common.ErrInvalidSession):
		return CodeInvalidSession
	case errors.Is(err, common.ErrUnknownEvent):
		return CodeUnknownEvent
	case errors.Is(err, common.ErrSessionTimedOut):
		return CodeTimeout
	default:
		return CodeInternal
	}
}

// ErrorEvent builds the transfer-error reply for err. Internal failures are
// reported without detail.
func ErrorEvent(err error, fileID string) Event {
	code := ErrorCode(err)
	msg := err.Error()
	if code == CodeInternal {
		msg = common.ErrorInternal.Error()
	}
	return mustEvent(EventTransferError, TransferError{Message: msg, Code: code, FileID: fileID})
}
