// Package relay coordinates live file hand-offs between two connected
// identities. Every inbound event goes through Machine.Dispatch, which runs
// one transition function against the session's current state before any
// side effect.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/filerelay/internal/common"
	"github.com/dmitrijs2005/filerelay/internal/logging"
	"github.com/dmitrijs2005/filerelay/internal/server/metrics"
	"github.com/dmitrijs2005/filerelay/internal/server/models"
)

// State of a transfer session.
type State int

const (
	StateInitiated State = iota
	StateAccepted
	StateTransferring
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitiated:
		return "initiated"
	case StateAccepted:
		return "accepted"
	case StateTransferring:
		return "transferring"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Router delivers events to every live connection of an identity.
// Send reports false when the identity has none.
type Router interface {
	Send(identity string, ev Event) bool
	Online(identity string) bool
}

// RecordUpdater mirrors session outcomes onto stored transfer records.
type RecordUpdater interface {
	Lookup(ctx context.Context, transferID string) (*models.TransferRecord, error)
	MarkAccepted(ctx context.Context, transferID string) error
	MarkCompleted(ctx context.Context, transferID string, at time.Time) error
	MarkFailed(ctx context.Context, transferID string) error
}

// Replier is the single connection an event arrived on.
type Replier interface {
	Send(ev Event) error
}

// Peer is the authenticated origin of an inbound event.
type Peer struct {
	Identity string
	Name     string
	Conn     Replier
}

// Options tunes a Machine.
type Options struct {
	// IdleTimeout fails sessions with no transition for this long. Zero
	// disables the reaper.
	IdleTimeout time.Duration
	// ReapInterval is how often Run scans for idle sessions. Defaults to a
	// quarter of IdleTimeout.
	ReapInterval time.Duration
}

type sessionKey struct {
	sender string
	fileID string
}

type session struct {
	mu sync.Mutex

	key        sessionKey
	recipient  string
	fileName   string
	fileSize   int64
	transferID string

	state     State
	chunks    int64
	bytes     int64
	progress  float64
	createdAt time.Time
	touchedAt time.Time
}

// Machine owns every live TransferSession.
type Machine struct {
	router  Router
	records RecordUpdater
	logger  logging.Logger
	opts    Options
	now     func() time.Time

	mu       sync.Mutex
	sessions map[sessionKey]*session
}

// New builds a Machine. records may be nil when sessions are never linked
// to stored transfers.
func New(router Router, records RecordUpdater, logger logging.Logger, opts Options) *Machine {
	if opts.ReapInterval <= 0 && opts.IdleTimeout > 0 {
		opts.ReapInterval = opts.IdleTimeout / 4
		if opts.ReapInterval < 10*time.Millisecond {
			opts.ReapInterval = 10 * time.Millisecond
		}
	}
	return &Machine{
		router:   router,
		records:  records,
		logger:   logger.With("module", "relay"),
		opts:     opts,
		now:      time.Now,
		sessions: make(map[sessionKey]*session),
	}
}

// Dispatch decodes ev and applies the matching transition. Failures are
// reported to from.Conn only.
func (m *Machine) Dispatch(ctx context.Context, from Peer, ev Event) {
	var (
		fileID string
		err    error
	)

	switch ev.Name {
	case EventInitiateTransfer:
		var req InitiateRequest
		if err = ev.Decode(&req); err == nil {
			fileID = req.FileID
			err = m.Initiate(ctx, from, req)
		}
	case EventAcceptTransfer:
		var req AcceptRequest
		if err = ev.Decode(&req); err == nil {
			fileID = req.FileID
			err = m.Accept(ctx, from, req)
		}
	case EventFileChunk:
		var req ChunkRequest
		if err = ev.Decode(&req); err == nil {
			fileID = req.FileID
			err = m.RelayChunk(ctx, from, req)
		} else {
			err = fmt.Errorf("%w: %w", common.ErrInvalidChunk, err)
		}
	case EventTransferComplete:
		var req CompleteRequest
		if err = ev.Decode(&req); err == nil {
			fileID = req.FileID
			err = m.Finish(ctx, from, req)
		}
	default:
		err = fmt.Errorf("%w: %q", common.ErrUnknownEvent, ev.Name)
	}

	if err == nil {
		return
	}

	code := ErrorCode(err)
	metrics.RelayErrors.WithLabelValues(code).Inc()
	if code == CodeInternal {
		m.logger.Error(ctx, "relay event failed", "event", ev.Name, "identity", from.Identity, "file_id", fileID, "error", err)
	} else {
		m.logger.Debug(ctx, "relay event rejected", "event", ev.Name, "identity", from.Identity, "file_id", fileID, "error", err)
	}

	if from.Conn == nil {
		return
	}
	if serr := from.Conn.Send(ErrorEvent(err, fileID)); serr != nil {
		m.logger.Warn(ctx, "failed to deliver error reply", "identity", from.Identity, "error", serr)
	}
}

func invalidSession(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrInvalidSession, fmt.Sprintf(format, args...))
}

func validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrValidation, fmt.Sprintf(format, args...))
}

func invalidChunk(format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", common.ErrValidation, common.ErrInvalidChunk, fmt.Sprintf(format, args...))
}

// acquire returns the live session for key with its mutex held.
func (m *Machine) acquire(key sessionKey) (*session, error) {
	m.mu.Lock()
	s, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return nil, invalidSession("unknown transfer %q", key.fileID)
	}

	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return nil, invalidSession("transfer %q is already %s", key.fileID, s.state)
	}
	return s, nil
}

// finish moves s to a terminal state and forgets it. s.mu must be held.
func (m *Machine) finish(s *session, state State, outcome string) {
	s.state = state
	s.touchedAt = m.now()

	m.mu.Lock()
	if m.sessions[s.key] == s {
		delete(m.sessions, s.key)
	}
	m.mu.Unlock()

	metrics.SessionsActive.Dec()
	metrics.SessionsFinished.WithLabelValues(outcome).Inc()
}

// Initiate opens a session and offers the file to the recipient.
func (m *Machine) Initiate(ctx context.Context, from Peer, req InitiateRequest) error {
	switch {
	case req.RecipientID == "":
		return validation("recipientId is required")
	case req.FileID == "":
		return validation("fileId is required")
	case req.FileName == "":
		return validation("fileName is required")
	case req.FileSize <= 0:
		return validation("fileSize must be positive")
	case req.RecipientID == from.Identity:
		return validation("cannot send a file to yourself")
	}

	if !m.router.Online(req.RecipientID) {
		return fmt.Errorf("%w: %s is offline", common.ErrRecipientUnavailable, req.RecipientID)
	}

	if req.TransferID != "" {
		if err := m.checkRecord(ctx, from.Identity, req); err != nil {
			return err
		}
	}

	now := m.now()
	key := sessionKey{sender: from.Identity, fileID: req.FileID}
	s := &session{
		key:        key,
		recipient:  req.RecipientID,
		fileName:   req.FileName,
		fileSize:   req.FileSize,
		transferID: req.TransferID,
		state:      StateInitiated,
		createdAt:  now,
		touchedAt:  now,
	}

	// Held until the offer is out so no other event can see a session the
	// recipient has not been told about.
	s.mu.Lock()
	defer s.mu.Unlock()

	m.mu.Lock()
	if _, exists := m.sessions[key]; exists {
		m.mu.Unlock()
		return invalidSession("transfer %q is already in progress", req.FileID)
	}
	m.sessions[key] = s
	m.mu.Unlock()
	metrics.SessionsActive.Inc()

	delivered := m.router.Send(req.RecipientID, mustEvent(EventTransferRequest, TransferRequest{
		SenderID:   from.Identity,
		SenderName: from.Name,
		FileID:     req.FileID,
		FileName:   req.FileName,
		FileSize:   req.FileSize,
		TransferID: req.TransferID,
	}))
	if !delivered {
		m.finish(s, StateFailed, "recipient_gone")
		return fmt.Errorf("%w: %s went offline", common.ErrRecipientUnavailable, req.RecipientID)
	}

	m.logger.Info(ctx, "transfer initiated",
		"sender", from.Identity, "recipient", req.RecipientID, "file_id", req.FileID,
		"file_name", req.FileName, "file_size", req.FileSize, "transfer_id", req.TransferID)
	return nil
}

func (m *Machine) checkRecord(ctx context.Context, sender string, req InitiateRequest) error {
	if m.records == nil {
		return invalidSession("transfer records are not available")
	}
	rec, err := m.records.Lookup(ctx, req.TransferID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return invalidSession("unknown transfer record %q", req.TransferID)
		}
		return err
	}
	if rec.SenderID != sender || rec.RecipientID != req.RecipientID {
		return invalidSession("transfer record %q does not belong to this pair", req.TransferID)
	}
	if rec.Status != models.StatusPending {
		return invalidSession("transfer record %q is already %s", req.TransferID, rec.Status)
	}
	return nil
}

// Accept is the recipient's answer to a transfer-request.
func (m *Machine) Accept(ctx context.Context, from Peer, req AcceptRequest) error {
	if req.SenderID == "" || req.FileID == "" {
		return validation("senderId and fileId are required")
	}

	s, err := m.acquire(sessionKey{sender: req.SenderID, fileID: req.FileID})
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	if s.recipient != from.Identity {
		return invalidSession("transfer %q is not addressed to you", req.FileID)
	}
	if s.state != StateInitiated {
		return invalidSession("transfer %q is %s, not awaiting acceptance", req.FileID, s.state)
	}

	s.state = StateAccepted
	s.touchedAt = m.now()

	if s.transferID != "" && m.records != nil {
		if err := m.records.MarkAccepted(ctx, s.transferID); err != nil {
			m.logger.Warn(ctx, "failed to mark transfer record accepted", "transfer_id", s.transferID, "error", err)
		}
	}

	if !m.router.Send(s.key.sender, mustEvent(EventTransferAccepted, TransferAccepted{RecipientID: from.Identity, FileID: req.FileID})) {
		m.fail(ctx, s, "disconnect", CodePeerDisconnected, "sender is no longer connected", s.recipient)
		return nil
	}

	m.logger.Info(ctx, "transfer accepted", "sender", s.key.sender, "recipient", from.Identity, "file_id", req.FileID)
	return nil
}

// RelayChunk forwards one chunk to the recipient and acknowledges progress
// to the originating connection. A malformed chunk leaves the session as
// it was.
func (m *Machine) RelayChunk(ctx context.Context, from Peer, req ChunkRequest) error {
	switch {
	case req.FileID == "":
		return invalidChunk("fileId is required")
	case req.RecipientID == "":
		return invalidChunk("recipientId is required")
	case len(req.Chunk) == 0 || string(req.Chunk) == "null":
		return invalidChunk("chunk is required")
	case req.Progress == nil:
		return invalidChunk("progress is required")
	case *req.Progress < 0 || *req.Progress > 100:
		return invalidChunk("progress must be within 0..100")
	}

	s, err := m.acquire(sessionKey{sender: from.Identity, fileID: req.FileID})
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	if s.recipient != req.RecipientID {
		return invalidSession("transfer %q is not addressed to %s", req.FileID, req.RecipientID)
	}
	if s.state != StateAccepted && s.state != StateTransferring {
		return invalidSession("transfer %q is %s, chunks are not accepted", req.FileID, s.state)
	}

	if s.state == StateAccepted {
		s.state = StateTransferring
	}
	s.touchedAt = m.now()

	delivered := m.router.Send(s.recipient, mustEvent(EventReceiveChunk, ReceiveChunk{
		Chunk:    req.Chunk,
		Progress: *req.Progress,
		FileID:   req.FileID,
		SenderID: from.Identity,
	}))
	if !delivered {
		m.fail(ctx, s, "recipient_gone", CodePeerDisconnected, "recipient is no longer connected", s.key.sender)
		return nil
	}

	s.chunks++
	s.bytes += int64(len(req.Chunk))
	s.progress = *req.Progress
	metrics.ChunksRelayed.Inc()

	if from.Conn != nil {
		if err := from.Conn.Send(mustEvent(EventTransferProgress, TransferProgress{Progress: *req.Progress, FileID: req.FileID})); err != nil {
			m.logger.Warn(ctx, "failed to acknowledge chunk", "sender", from.Identity, "file_id", req.FileID, "error", err)
		}
	}

	m.logger.Debug(ctx, "chunk relayed", "file_id", req.FileID, "chunks", s.chunks, "progress", s.progress)
	return nil
}

// Finish completes the session and tells the recipient.
func (m *Machine) Finish(ctx context.Context, from Peer, req CompleteRequest) error {
	if req.RecipientID == "" || req.FileID == "" {
		return validation("recipientId and fileId are required")
	}

	s, err := m.acquire(sessionKey{sender: from.Identity, fileID: req.FileID})
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	if s.recipient != req.RecipientID {
		return invalidSession("transfer %q is not addressed to %s", req.FileID, req.RecipientID)
	}
	if s.state != StateAccepted && s.state != StateTransferring {
		return invalidSession("transfer %q is %s and cannot complete", req.FileID, s.state)
	}

	// the transfer only counts as completed once the recipient has been told
	if !m.router.Send(s.recipient, mustEvent(EventTransferFinished, TransferFinished{FileID: req.FileID, SenderID: from.Identity})) {
		m.fail(ctx, s, "recipient_gone", CodePeerDisconnected, "recipient is no longer connected", s.key.sender)
		return nil
	}

	now := m.now()
	m.finish(s, StateCompleted, "completed")

	if s.transferID != "" && m.records != nil {
		if err := m.records.MarkCompleted(ctx, s.transferID, now); err != nil {
			m.logger.Error(ctx, "failed to mark transfer record completed", "transfer_id", s.transferID, "error", err)
		}
	}

	m.logger.Info(ctx, "transfer completed",
		"sender", from.Identity, "recipient", s.recipient, "file_id", req.FileID,
		"chunks", s.chunks, "bytes_relayed", s.bytes, "duration", now.Sub(s.createdAt))
	return nil
}

// fail moves s to Failed, notifies the listed parties and marks the linked
// record failed. s.mu must be held.
func (m *Machine) fail(ctx context.Context, s *session, outcome, code, message string, notify ...string) {
	m.finish(s, StateFailed, outcome)

	ev := mustEvent(EventTransferError, TransferError{Message: message, Code: code, FileID: s.key.fileID})
	for _, id := range notify {
		m.router.Send(id, ev)
	}

	if s.transferID != "" && m.records != nil {
		if err := m.records.MarkFailed(context.WithoutCancel(ctx), s.transferID); err != nil {
			m.logger.Error(ctx, "failed to mark transfer record failed", "transfer_id", s.transferID, "error", err)
		}
	}

	m.logger.Info(ctx, "transfer failed",
		"sender", s.key.sender, "recipient", s.recipient, "file_id", s.key.fileID,
		"reason", outcome, "chunks", s.chunks)
}

func (m *Machine) snapshot(match func(*session) bool) []*session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*session
	for _, s := range m.sessions {
		if match(s) {
			out = append(out, s)
		}
	}
	return out
}

// Disconnected fails every live session identity takes part in. Call it
// once the identity's last connection is gone.
func (m *Machine) Disconnected(ctx context.Context, identity string) {
	affected := m.snapshot(func(s *session) bool {
		return s.key.sender == identity || s.recipient == identity
	})

	for _, s := range affected {
		s.mu.Lock()
		if !s.state.terminal() {
			survivor, message := s.recipient, "sender disconnected"
			if s.recipient == identity {
				survivor, message = s.key.sender, "recipient disconnected"
			}
			m.fail(ctx, s, "disconnect", CodePeerDisconnected, message, survivor)
		}
		s.mu.Unlock()
	}
}

// Run fails idle sessions until ctx is done.
func (m *Machine) Run(ctx context.Context) {
	if m.opts.IdleTimeout <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(m.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reap(ctx)
		}
	}
}

func (m *Machine) reap(ctx context.Context) {
	deadline := m.now().Add(-m.opts.IdleTimeout)

	// session locks are never taken under m.mu, so filter after the snapshot
	all := m.snapshot(func(*session) bool { return true })

	for _, s := range all {
		s.mu.Lock()
		if !s.state.terminal() && s.touchedAt.Before(deadline) {
			m.fail(ctx, s, "idle", CodeTimeout, common.ErrSessionTimedOut.Error(), s.key.sender, s.recipient)
		}
		s.mu.Unlock()
	}
}

// SessionState reports the state of a live session.
func (m *Machine) SessionState(sender, fileID string) (State, bool) {
	m.mu.Lock()
	s, ok := m.sessions[sessionKey{sender: sender, fileID: fileID}]
	m.mu.Unlock()
	if !ok {
		return 0, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, true
}

// Len is the number of live sessions.
func (m *Machine) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
