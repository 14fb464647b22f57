// Package registry tracks the fleet of monitored database connections.
// It bounds the number of live handles and notifies subscribers when a
// connection appears or goes away so per-connection state can follow.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"frameworks/api_lookout/internal/dbclient"
	"frameworks/api_lookout/pkg/logging"
)

const (
	// DefaultMaxConnections bounds the number of live instance handles.
	DefaultMaxConnections = 100

	// DefaultIdleLimit is how stale a connection's last health check may
	// be before it counts as idle and becomes evictable.
	DefaultIdleLimit = 60 * time.Second
)

// ChangeKind is the type of a registry change notification.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
)

// ChangeListener receives registry change notifications. Invoked outside
// the registry lock; implementations may call back into the registry.
type ChangeListener func(kind ChangeKind, connectionID string)

// Connection is one monitored instance.
type Connection struct {
	ID     string
	Name   string
	Host   string
	Port   int
	Client dbclient.Client

	AddedAt         time.Time
	LastHealthCheck time.Time
}

// Info is the JSON view of a connection, handle omitted.
type Info struct {
	ID              string                `json:"id"`
	Name            string                `json:"name"`
	Host            string                `json:"host"`
	Port            int                   `json:"port"`
	IsDefault       bool                  `json:"is_default"`
	AddedAt         time.Time             `json:"added_at"`
	LastHealthCheck time.Time             `json:"last_health_check"`
	Capabilities    dbclient.Capabilities `json:"capabilities"`
}

// Registry is the bounded connection table. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]*Connection
	defaultID string
	maxConns  int
	idleLimit time.Duration
	listeners []ChangeListener
	logger    logging.Logger
	now       func() time.Time
}

// New creates an empty registry. Non-positive bounds fall back to the
// defaults.
func New(maxConns int, idleLimit time.Duration, logger logging.Logger) *Registry {
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}
	if idleLimit <= 0 {
		idleLimit = DefaultIdleLimit
	}
	return &Registry{
		conns:     make(map[string]*Connection),
		maxConns:  maxConns,
		idleLimit: idleLimit,
		logger:    logger,
		now:       time.Now,
	}
}

// Subscribe registers a change listener. Not removable; subscribers live
// as long as the registry.
func (r *Registry) Subscribe(fn ChangeListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Add registers a connection. The first connection added becomes the
// default. At the cap, the least-recently-checked idle connection is
// evicted to make room; with no idle candidate Add fails.
func (r *Registry) Add(conn *Connection) error {
	if conn == nil || conn.ID == "" {
		return fmt.Errorf("connection id is required")
	}

	r.mu.Lock()

	if _, exists := r.conns[conn.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("connection %q already registered", conn.ID)
	}

	var evicted *Connection
	if len(r.conns) >= r.maxConns {
		evicted = r.evictIdleLocked()
		if evicted == nil {
			r.mu.Unlock()
			return fmt.Errorf("connection cap %d reached and no idle connection to evict", r.maxConns)
		}
	}

	now := r.now()
	if conn.AddedAt.IsZero() {
		conn.AddedAt = now
	}
	if conn.LastHealthCheck.IsZero() {
		conn.LastHealthCheck = now
	}
	r.conns[conn.ID] = conn
	if r.defaultID == "" {
		r.defaultID = conn.ID
	}
	r.mu.Unlock()

	if evicted != nil {
		r.closeAndNotify(evicted)
	}

	r.logger.WithFields(logging.Fields{
		"connection_id": conn.ID,
		"host":          conn.Host,
		"port":          conn.Port,
	}).Info("Connection registered")
	r.notify(ChangeAdded, conn.ID)

	return nil
}

// evictIdleLocked picks the connection with the oldest health check that
// has exceeded the idle limit. The default connection is never evicted.
func (r *Registry) evictIdleLocked() *Connection {
	cutoff := r.now().Add(-r.idleLimit)

	var victim *Connection
	for _, c := range r.conns {
		if c.ID == r.defaultID {
			continue
		}
		if c.LastHealthCheck.After(cutoff) {
			continue
		}
		if victim == nil || c.LastHealthCheck.Before(victim.LastHealthCheck) {
			victim = c
		}
	}
	if victim != nil {
		delete(r.conns, victim.ID)
	}
	return victim
}

func (r *Registry) closeAndNotify(conn *Connection) {
	if conn.Client != nil {
		if err := conn.Client.Close(); err != nil {
			r.logger.WithError(err).WithField("connection_id", conn.ID).Warn("Error closing evicted connection")
		}
	}
	r.logger.WithField("connection_id", conn.ID).Info("Idle connection evicted")
	r.notify(ChangeRemoved, conn.ID)
}

// Remove deletes a connection, closes its handle, and notifies
// subscribers. Returns false when the id is unknown.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	conn, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, id)
	if r.defaultID == id {
		r.defaultID = ""
		for otherID := range r.conns {
			r.defaultID = otherID
			break
		}
	}
	r.mu.Unlock()

	if conn.Client != nil {
		if err := conn.Client.Close(); err != nil {
			r.logger.WithError(err).WithField("connection_id", id).Warn("Error closing connection")
		}
	}
	r.logger.WithField("connection_id", id).Info("Connection removed")
	r.notify(ChangeRemoved, id)
	return true
}

// Get returns the connection for id.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// MarkHealthy records a successful health check, keeping the connection
// out of the idle eviction window.
func (r *Registry) MarkHealthy(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[id]; ok {
		conn.LastHealthCheck = r.now()
	}
}

// DefaultID returns the default connection id, or "" when empty.
func (r *Registry) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultID
}

// SetDefault changes the default connection.
func (r *Registry) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return fmt.Errorf("unknown connection %q", id)
	}
	r.defaultID = id
	return nil
}

// List returns the registered connections sorted by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.conns))
	for _, c := range r.conns {
		info := Info{
			ID:              c.ID,
			Name:            c.Name,
			Host:            c.Host,
			Port:            c.Port,
			IsDefault:       c.ID == r.defaultID,
			AddedAt:         c.AddedAt,
			LastHealthCheck: c.LastHealthCheck,
		}
		if c.Client != nil {
			info.Capabilities = c.Client.Capabilities()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the registered connection ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every handle. Used at shutdown; no notifications fire.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]*Connection)
	r.defaultID = ""
	r.mu.Unlock()

	for _, c := range conns {
		if c.Client != nil {
			_ = c.Client.Close()
		}
	}
}

func (r *Registry) notify(kind ChangeKind, id string) {
	r.mu.RLock()
	listeners := make([]ChangeListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, fn := range listeners {
		fn(kind, id)
	}
}
