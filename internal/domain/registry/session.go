package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webitel/journal-sync/internal/domain/event"
	"github.com/webitel/journal-sync/internal/domain/model"
)

// Session is the external API for a live client attachment, implemented
// once per transport (WebSocket, long-poll). It is intentionally narrow so
// transport handlers never reach into registry internals.
type Session interface {
	ID() string
	UserID() model.UserID
	State() model.SessionState
	Meta() model.ClientMeta
	// Send enqueues ev for delivery with a hard deadline; it reports
	// whether the event was accepted. A session in Closed state always
	// rejects.
	Send(ev event.Eventer, timeout time.Duration) bool
	// Recv is read by the transport's pump loop to obtain events to write
	// to the wire.
	Recv() <-chan event.Eventer
	Touch()
	LastActivity() time.Time
	markClosing()
	Close()
}

var _ Session = (*session)(nil)

type session struct {
	id       string
	userID   model.UserID
	meta     model.ClientMeta
	ctx      context.Context
	cancel   context.CancelFunc
	sendCh   chan event.Eventer
	state    atomic.Int32
	lastActivityUnix atomic.Int64
	closeOnce sync.Once
}

// NewSession creates a session in the Connecting state; the registry moves
// it to Open on Attach.
func NewSession(ctx context.Context, id string, userID model.UserID, meta model.ClientMeta, bufferSize int) Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &session{
		id:     id,
		userID: userID,
		meta:   meta,
		ctx:    ctx,
		cancel: cancel,
		sendCh: make(chan event.Eventer, bufferSize),
	}
	s.state.Store(int32(model.Connecting))
	s.lastActivityUnix.Store(time.Now().UnixNano())
	return s
}

func (s *session) ID() string               { return s.id }
func (s *session) UserID() model.UserID     { return s.userID }
func (s *session) Meta() model.ClientMeta   { return s.meta }
func (s *session) State() model.SessionState { return model.SessionState(s.state.Load()) }

func (s *session) Touch() {
	s.lastActivityUnix.Store(time.Now().UnixNano())
}

func (s *session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivityUnix.Load())
}

// Send attempts delivery within timeout. Only Open sessions accept events
// (invariant: no broadcast is delivered to a Closed session).
func (s *session) Send(ev event.Eventer, timeout time.Duration) bool {
	if s.State() != model.Open {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	select {
	case <-s.ctx.Done():
		return false
	case s.sendCh <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *session) Recv() <-chan event.Eventer { return s.sendCh }

func (s *session) markClosing() {
	s.state.Store(int32(model.Closing))
}

// Close transitions Closing -> Closed, cancels the session context, and
// closes the send channel so the transport's pump loop observes !ok and
// exits. Idempotent: safe to call from the hub (eviction/shutdown) and the
// transport handler's own defer concurrently.
func (s *session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(model.Closed))
		s.cancel()
		close(s.sendCh)
	})
}
