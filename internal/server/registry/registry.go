// Package registry tracks the live relay connections of every identity.
package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/dmitrijs2005/filerelay/internal/logging"
	"github.com/dmitrijs2005/filerelay/internal/server/relay"
)

// Conn is one live duplex channel of an authenticated identity.
type Conn interface {
	ID() string
	Identity() string
	Send(ev relay.Event) error
	Close() error
}

// Registry maps identities to their live connections. A user may hold
// several at once (one per browser tab, CLI, ...).
type Registry struct {
	logger logging.Logger

	mu    sync.RWMutex
	conns map[string]map[string]Conn
}

func New(logger logging.Logger) *Registry {
	return &Registry{
		logger: logger.With("module", "registry"),
		conns:  make(map[string]map[string]Conn),
	}
}

// Register adds c under its identity.
func (r *Registry) Register(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID, ok := r.conns[c.Identity()]
	if !ok {
		byID = make(map[string]Conn)
		r.conns[c.Identity()] = byID
	}
	byID[c.ID()] = c
}

// Unregister removes c and reports whether its identity has no
// connections left. Unknown connections report false.
func (r *Registry) Unregister(c Conn) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID, ok := r.conns[c.Identity()]
	if !ok {
		return false
	}
	if _, ok := byID[c.ID()]; !ok {
		return false
	}

	delete(byID, c.ID())
	if len(byID) == 0 {
		delete(r.conns, c.Identity())
		return true
	}
	return false
}

// Send delivers ev to every live connection of identity and reports
// whether there was at least one. A failing connection does not stop
// delivery to the others.
func (r *Registry) Send(identity string, ev relay.Event) bool {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.conns[identity]))
	for _, c := range r.conns[identity] {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		return false
	}

	for _, c := range targets {
		if err := c.Send(ev); err != nil {
			r.logger.Warn(context.Background(), "delivery failed", "identity", identity, "conn", c.ID(), "event", ev.Name, "error", err)
		}
	}
	return true
}

// Online reports whether identity has a live connection.
func (r *Registry) Online(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[identity]) > 0
}

// Identities lists online identities in lexical order.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Count is the number of live connections across all identities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, byID := range r.conns {
		n += len(byID)
	}
	return n
}

// CloseAll closes every connection, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	var all []Conn
	for _, byID := range r.conns {
		for _, c := range byID {
			all = append(all, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range all {
		_ = c.Close()
	}
}

var _ relay.Router = (*Registry)(nil)
