package registry

import "time"

// Option configures a Hub at construction time.
type Option func(*Hub)

// WithEvictionInterval sets how often the janitor sweeps idle cells.
func WithEvictionInterval(d time.Duration) Option {
	return func(h *Hub) { h.evictionInterval = d }
}

// WithIdleTimeout sets T_idle: how long a cell with no sessions survives
// before reclamation, and how long a silent session survives between
// heartbeats before it is considered idle.
func WithIdleTimeout(d time.Duration) Option {
	return func(h *Hub) { h.idleTimeout = d }
}

// WithHeartbeatInterval sets T_hb.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *Hub) { h.heartbeatInterval = d }
}

// WithMailboxSize sets the per-user actor mailbox buffer capacity.
func WithMailboxSize(size int) Option {
	return func(h *Hub) { h.mailboxSize = size }
}
