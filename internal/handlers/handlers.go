// Package handlers exposes the HTTP API: anomaly queries, webhook
// subscription management, delivery inspection, and connection CRUD.
package handlers

import (
	"strconv"

	"frameworks/api_lookout/internal/correlator"
	"frameworks/api_lookout/internal/engine"
	"frameworks/api_lookout/internal/poller"
	"frameworks/api_lookout/internal/registry"
	"frameworks/api_lookout/internal/storage"
	"frameworks/api_lookout/internal/webhooks"
	"frameworks/api_lookout/internal/ws"
	"frameworks/api_lookout/pkg/logging"
	"frameworks/api_lookout/pkg/middleware"
)

var (
	store      storage.Storage
	reg        *registry.Registry
	eng        *engine.Engine
	corr       *correlator.Correlator
	dispatcher *webhooks.Dispatcher
	supervisor *poller.Supervisor
	hub        *ws.Hub
	logger     logging.Logger

	// monitor starts a poll loop for a freshly added connection. Wired
	// by main so the handler package stays ignorant of loop cadence.
	monitor func(conn *registry.Connection)
)

// Init wires the handler package dependencies.
func Init(s storage.Storage, r *registry.Registry, e *engine.Engine, c *correlator.Correlator, d *webhooks.Dispatcher, sup *poller.Supervisor, h *ws.Hub, log logging.Logger, startMonitor func(conn *registry.Connection)) {
	store = s
	reg = r
	eng = e
	corr = c
	dispatcher = d
	supervisor = sup
	hub = h
	logger = log
	monitor = startMonitor
}

// connectionScope returns the effective connection id for the request:
// an explicit connection_id query parameter wins, otherwise the scope
// resolved by the middleware (header or default connection).
func connectionScope(c middleware.Context) string {
	if id := c.Query("connection_id"); id != "" {
		return id
	}
	return c.GetString(middleware.ConnectionIDKey)
}

func intQuery(c middleware.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func int64Query(c middleware.Context, name string) int64 {
	v, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
