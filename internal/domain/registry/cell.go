package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/webitel/journal-sync/internal/domain/event"
	"github.com/webitel/journal-sync/internal/domain/model"
)

// cell is the per-user actor: one mailbox, fanned out to every Open
// session of that user. Decoupling through a buffered mailbox means a slow
// consumer on one device cannot block delivery to the user's other devices
// or to the AMQP/broker consumer that produced the event.
type cell struct {
	userID  model.UserID
	mailbox chan event.Eventer

	mu       sync.RWMutex
	sessions map[string]Session

	doneCh chan struct{}

	lastActivityUnix atomic.Int64
}

func newCell(userID model.UserID, bufferSize int) *cell {
	c := &cell{
		userID:   userID,
		mailbox:  make(chan event.Eventer, bufferSize),
		sessions: make(map[string]Session),
		doneCh:   make(chan struct{}),
	}
	c.lastActivityUnix.Store(time.Now().Unix())
	go c.loop()
	return c
}

func (c *cell) touch() {
	c.lastActivityUnix.Store(time.Now().Unix())
}

// isIdle reports whether the cell has no attached sessions and has been
// quiet longer than timeout — the two conditions the evictor needs before
// it is safe to reclaim the cell.
func (c *cell) isIdle(timeout time.Duration) bool {
	c.mu.RLock()
	hasSessions := len(c.sessions) > 0
	c.mu.RUnlock()
	if hasSessions {
		return false
	}
	last := time.Unix(c.lastActivityUnix.Load(), 0)
	return time.Since(last) > timeout
}

func (c *cell) push(ev event.Eventer) bool {
	c.touch()
	select {
	case c.mailbox <- ev:
		return true
	default:
		return false
	}
}

func (c *cell) attach(s Session) {
	c.mu.Lock()
	c.sessions[s.ID()] = s
	c.mu.Unlock()
	c.touch()
}

// detach removes the session and reports whether the cell is now empty.
func (c *cell) detach(sessionID string) bool {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	empty := len(c.sessions) == 0
	c.mu.Unlock()
	c.touch()
	return empty
}

func (c *cell) sessionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

func (c *cell) forEachSession(fn func(Session)) {
	c.mu.RLock()
	snapshot := make([]Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		snapshot = append(snapshot, s)
	}
	c.mu.RUnlock()
	// I/O happens after releasing the lock, per the shared-resource policy:
	// broadcast snapshots the member list, then performs per-session sends
	// without holding the registry's internal lock.
	for _, s := range snapshot {
		fn(s)
	}
}

func (c *cell) loop() {
	for {
		select {
		case <-c.doneCh:
			return
		case ev := <-c.mailbox:
			c.deliver(ev)
			// Drain a bounded burst before returning to select, smoothing
			// out bursts without starving the scheduler.
			for range 64 {
				select {
				case next := <-c.mailbox:
					c.deliver(next)
				default:
					goto wait
				}
			}
		wait:
		}
	}
}

func (c *cell) deliver(ev event.Eventer) {
	exclude := ev.ExcludeConn()
	c.forEachSession(func(s Session) {
		if s.ID() == exclude {
			return
		}
		// 250ms delivery window: a stalled session must never hold up the
		// actor loop for the rest of the user's devices.
		s.Send(ev, 250*time.Millisecond)
	})
}

func (c *cell) stop() {
	close(c.doneCh)
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, s := range c.sessions {
		s.Close()
		delete(c.sessions, id)
	}
}
