package relay

import (
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/RAPD/rapd-relay/logging"
)

// Registry is the set of open connections.
//
// Register, Unregister and ForEach are safe for concurrent use. Once
// Unregister returns, ForEach never yields that connection again and any
// frame sent to it is rejected.
type Registry struct {
	logger logging.Logger
	conns  *xsync.Map[string, *Conn]
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		logger: logging.ForComponent(logger, logging.ComponentRegistry),
		conns:  xsync.NewMap[string, *Conn](),
	}
}

// Register adds c.
func (r *Registry) Register(c *Conn) {
	r.conns.Store(c.ID(), c)
	connectionsActive.Set(float64(r.conns.Size()))
}

// Unregister removes the connection and closes its outbox.
func (r *Registry) Unregister(id string) {
	c, ok := r.conns.LoadAndDelete(id)
	if !ok {
		return
	}
	c.outbox.Close()
	connectionsActive.Set(float64(r.conns.Size()))
}

// ForEach calls action for every open connection matching pred. Connections
// that are closing are skipped. Iteration order is unspecified.
func (r *Registry) ForEach(pred func(*Conn) bool, action func(*Conn)) {
	r.conns.Range(func(_ string, c *Conn) bool {
		if c.Closed() {
			return true
		}
		if pred == nil || pred(c) {
			action(c)
		}
		return true
	})
}

// Get returns the connection with id, if registered.
func (r *Registry) Get(id string) (*Conn, bool) {
	return r.conns.Load(id)
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return r.conns.Size()
}

// Sessions returns connection id -> active session id ("" when none) for
// every open connection.
func (r *Registry) Sessions() map[string]string {
	out := make(map[string]string, r.conns.Size())
	r.ForEach(nil, func(c *Conn) {
		out[c.ID()] = c.SessionID()
	})
	return out
}

// CloseAll closes every registered connection with code.
func (r *Registry) CloseAll(code int, reason string) {
	r.conns.Range(func(_ string, c *Conn) bool {
		c.close(code, reason)
		return true
	})
}
