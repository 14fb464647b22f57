package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"frameworks/api_lookout/internal/dbclient"
	"frameworks/api_lookout/internal/registry"
	"frameworks/api_lookout/pkg/logging"
	"frameworks/api_lookout/pkg/middleware"
)

const connectTimeout = 10 * time.Second

type connectionRequest struct {
	Name       string   `json:"name"`
	Host       string   `json:"host"`
	Port       int      `json:"port"`
	Mode       string   `json:"mode"` // single, sentinel, cluster
	Addrs      []string `json:"addrs,omitempty"`
	MasterName string   `json:"master_name,omitempty"`
	Username   string   `json:"username,omitempty"`
	Password   string   `json:"password,omitempty"`
	DB         int      `json:"db"`
}

// AddConnection dials a new instance and registers it for monitoring.
func AddConnection(c middleware.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, middleware.H{"error": err.Error()})
		return
	}
	if req.Host == "" && len(req.Addrs) == 0 {
		c.JSON(http.StatusBadRequest, middleware.H{"error": "host or addrs is required"})
		return
	}
	if req.Port == 0 {
		req.Port = 6379
	}
	if req.Name == "" {
		req.Name = fmt.Sprintf("%s:%d", req.Host, req.Port)
	}

	mode := dbclient.Mode(req.Mode)
	if mode == "" {
		mode = dbclient.ModeSingle
	}
	addrs := req.Addrs
	if len(addrs) == 0 {
		addrs = []string{fmt.Sprintf("%s:%d", req.Host, req.Port)}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), connectTimeout)
	defer cancel()

	client, err := dbclient.Connect(ctx, dbclient.Config{
		Mode:       mode,
		Addrs:      addrs,
		MasterName: req.MasterName,
		Username:   req.Username,
		Password:   req.Password,
		DB:         req.DB,
	})
	if err != nil {
		logger.WithError(err).WithField("host", req.Host).Warn("Failed to connect to instance")
		c.JSON(http.StatusBadGateway, middleware.H{"error": fmt.Sprintf("failed to connect: %v", err)})
		return
	}

	conn := &registry.Connection{
		ID:     uuid.NewString(),
		Name:   req.Name,
		Host:   req.Host,
		Port:   req.Port,
		Client: client,
	}
	if err := reg.Add(conn); err != nil {
		client.Close()
		c.JSON(http.StatusConflict, middleware.H{"error": err.Error()})
		return
	}

	if monitor != nil {
		monitor(conn)
	}

	logger.WithFields(logging.Fields{
		"connection_id": conn.ID,
		"name":          conn.Name,
		"mode":          mode,
	}).Info("Connection registered")

	c.JSON(http.StatusCreated, middleware.H{"id": conn.ID, "name": conn.Name})
}

// ListConnections returns every registered connection.
func ListConnections(c middleware.Context) {
	list := reg.List()
	c.JSON(http.StatusOK, middleware.H{"connections": list, "count": len(list)})
}

// RemoveConnection unregisters a connection; its poll loops, buffers,
// and ring events follow via the registry change notification.
func RemoveConnection(c middleware.Context) {
	id := c.Param("id")
	if !reg.Remove(id) {
		c.JSON(http.StatusNotFound, middleware.H{"error": "Connection not found"})
		return
	}
	c.JSON(http.StatusOK, middleware.H{"removed": id})
}

// SetDefaultConnection changes which connection unscoped requests hit.
func SetDefaultConnection(c middleware.Context) {
	id := c.Param("id")
	if err := reg.SetDefault(id); err != nil {
		c.JSON(http.StatusNotFound, middleware.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, middleware.H{"default": id})
}

// PingConnection round-trips the instance and refreshes its health
// timestamp, protecting it from idle eviction.
func PingConnection(c middleware.Context) {
	id := c.Param("id")
	conn, ok := reg.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, middleware.H{"error": "Connection not found"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), connectTimeout)
	defer cancel()

	start := time.Now()
	if err := conn.Client.Ping(ctx); err != nil {
		c.JSON(http.StatusBadGateway, middleware.H{"error": err.Error()})
		return
	}
	reg.MarkHealthy(id)

	c.JSON(http.StatusOK, middleware.H{
		"status":     "ok",
		"latency_ms": time.Since(start).Milliseconds(),
	})
}
