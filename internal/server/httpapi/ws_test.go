package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/filerelay/internal/server/models"
	"github.com/dmitrijs2005/filerelay/internal/server/relay"
	"github.com/dmitrijs2005/filerelay/internal/server/transfers"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func (e *testEnv) dial(t *testing.T, user string) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?token=" + token(t, user, strings.ToUpper(user[:1])+user[1:])
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = ws.Close() })

	require.Eventually(t, func() bool {
		for _, id := range e.registry.Identities() {
			if id == user {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	return &wsClient{t: t, ws: ws}
}

func (c *wsClient) emit(name string, payload any) {
	c.t.Helper()
	ev, err := relay.NewEvent(name, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteJSON(ev))
}

func (c *wsClient) expect(name string, into any) {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev relay.Event
	require.NoError(c.t, c.ws.ReadJSON(&ev))
	require.Equal(c.t, name, ev.Name, "payload: %s", ev.Data)
	if into != nil {
		require.NoError(c.t, json.Unmarshal(ev.Data, into))
	}
}

func TestWebSocket_RequiresToken(t *testing.T) {
	e := newTestEnv(t, 1024)

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_EndToEndRelay(t *testing.T) {
	e := newTestEnv(t, 1024)
	alice := e.dial(t, "alice")
	bob := e.dial(t, "bob")

	obj := e.upload(t, "alice", []byte("%PDF-1.7 body"))
	transferID := e.record(t, "alice", transfers.RecordRequest{
		RecipientID: "bob", FileName: "report.pdf", FileSize: obj.SizeBytes, FileType: obj.MimeType, StorageHandle: obj.Handle,
	})

	resp := e.do(t, http.MethodGet, "/api/users/online", "alice", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"alice", "bob"}, decodeBody[map[string][]string](t, resp)["users"])

	alice.emit(relay.EventInitiateTransfer, relay.InitiateRequest{
		RecipientID: "bob", FileID: "f1", FileName: "report.pdf", FileSize: obj.SizeBytes, TransferID: transferID,
	})

	var req relay.TransferRequest
	bob.expect(relay.EventTransferRequest, &req)
	assert.Equal(t, "alice", req.SenderID)
	assert.Equal(t, "Alice", req.SenderName)
	assert.Equal(t, transferID, req.TransferID)

	bob.emit(relay.EventAcceptTransfer, relay.AcceptRequest{SenderID: "alice", FileID: "f1"})
	var acc relay.TransferAccepted
	alice.expect(relay.EventTransferAccepted, &acc)
	assert.Equal(t, "bob", acc.RecipientID)

	for i, p := range []float64{50, 100} {
		progress := p
		alice.emit(relay.EventFileChunk, relay.ChunkRequest{
			RecipientID: "bob", FileID: "f1", Progress: &progress,
			Chunk: json.RawMessage(`"chunk-` + string(rune('a'+i)) + `"`),
		})

		var rc relay.ReceiveChunk
		bob.expect(relay.EventReceiveChunk, &rc)
		assert.Equal(t, progress, rc.Progress)
		assert.JSONEq(t, `"chunk-`+string(rune('a'+i))+`"`, string(rc.Chunk))

		var tp relay.TransferProgress
		alice.expect(relay.EventTransferProgress, &tp)
		assert.Equal(t, progress, tp.Progress)
	}

	alice.emit(relay.EventTransferComplete, relay.CompleteRequest{RecipientID: "bob", FileID: "f1"})
	var fin relay.TransferFinished
	bob.expect(relay.EventTransferFinished, &fin)
	assert.Equal(t, "f1", fin.FileID)

	require.Eventually(t, func() bool {
		rec, err := e.repo.Get(t.Context(), transferID)
		return err == nil && rec.Status == models.StatusCompleted && rec.TransferredAt != nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocket_OfflineRecipient(t *testing.T) {
	e := newTestEnv(t, 1024)
	alice := e.dial(t, "alice")

	alice.emit(relay.EventInitiateTransfer, relay.InitiateRequest{
		RecipientID: "bob", FileID: "f1", FileName: "a.txt", FileSize: 3,
	})

	var te relay.TransferError
	alice.expect(relay.EventTransferError, &te)
	assert.Equal(t, relay.CodeRecipientUnavailable, te.Code)
	assert.Equal(t, "f1", te.FileID)
}

func TestWebSocket_MalformedEnvelope(t *testing.T) {
	e := newTestEnv(t, 1024)
	alice := e.dial(t, "alice")

	require.NoError(t, alice.ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	var te relay.TransferError
	alice.expect(relay.EventTransferError, &te)
	assert.Equal(t, relay.CodeValidation, te.Code)

	alice.emit("launch-rockets", map[string]string{})
	alice.expect(relay.EventTransferError, &te)
	assert.Equal(t, relay.CodeUnknownEvent, te.Code)
}

func TestWebSocket_PeerDisconnect(t *testing.T) {
	e := newTestEnv(t, 1024)
	alice := e.dial(t, "alice")
	bob := e.dial(t, "bob")

	alice.emit(relay.EventInitiateTransfer, relay.InitiateRequest{
		RecipientID: "bob", FileID: "f1", FileName: "a.txt", FileSize: 3,
	})
	bob.expect(relay.EventTransferRequest, nil)
	bob.emit(relay.EventAcceptTransfer, relay.AcceptRequest{SenderID: "alice", FileID: "f1"})
	alice.expect(relay.EventTransferAccepted, nil)

	require.NoError(t, bob.ws.Close())

	var te relay.TransferError
	alice.expect(relay.EventTransferError, &te)
	assert.Equal(t, relay.CodePeerDisconnected, te.Code)
	assert.Equal(t, "f1", te.FileID)

	require.Eventually(t, func() bool { return e.machine.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"alice"}, e.registry.Identities())
}

func TestWebSocket_OriginCheck(t *testing.T) {
	e := newTestEnv(t, 1024)
	e.server.allowedOrigins = []string{"https://app.example.com"}

	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?token=" + token(t, "alice", "Alice")

	h := http.Header{}
	h.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(url, h)
	require.Error(t, err)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	h.Set("Origin", "https://app.example.com")
	ws, resp, err := websocket.DefaultDialer.Dial(url, h)
	require.NoError(t, err)
	_ = resp.Body.Close()
	_ = ws.Close()
}
