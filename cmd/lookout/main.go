package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"frameworks/api_lookout/internal/correlator"
	"frameworks/api_lookout/internal/dbclient"
	"frameworks/api_lookout/internal/engine"
	"frameworks/api_lookout/internal/handlers"
	"frameworks/api_lookout/internal/poller"
	"frameworks/api_lookout/internal/registry"
	"frameworks/api_lookout/internal/storage"
	"frameworks/api_lookout/internal/webhooks"
	"frameworks/api_lookout/internal/ws"
	"frameworks/api_lookout/pkg/config"
	"frameworks/api_lookout/pkg/database"
	"frameworks/api_lookout/pkg/logging"
	"frameworks/api_lookout/pkg/models"
	"frameworks/api_lookout/pkg/monitoring"
	"frameworks/api_lookout/pkg/server"
	"frameworks/api_lookout/pkg/version"
)

// notifierFanout feeds every event to webhook subscribers and the live
// WebSocket feed. Threshold evaluation stays dispatcher-only; the hub
// sees threshold alerts once they actually fire.
type notifierFanout struct {
	dispatcher *webhooks.Dispatcher
	hub        *ws.Hub
}

func (n *notifierFanout) Dispatch(kind models.EventKind, connectionID, host string, port int, data map[string]any) {
	n.hub.BroadcastEvent(kind, connectionID, data)
	n.dispatcher.Dispatch(kind, connectionID, host, port, data)
}

func (n *notifierFanout) EvaluateThreshold(kind models.EventKind, connectionID, host string, port int, value float64, data map[string]any) {
	n.dispatcher.EvaluateThreshold(kind, connectionID, host, port, value, data)
}

func main() {
	logger := logging.NewLoggerWithService("lookout")

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	logger.Info("Starting Lookout (Instance Anomaly Monitor)")

	healthChecker := monitoring.NewHealthChecker("lookout", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("lookout", version.Version, version.GitCommit)

	dbConfig := database.DefaultConfig()
	dbConfig.URL = config.RequireEnv("DATABASE_URL")
	db := database.MustConnect(dbConfig, logger)

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	if err := storage.EnsureSchema(schemaCtx, db); err != nil {
		logger.WithError(err).Fatal("Failed to ensure database schema")
	}
	cancelSchema()

	store := storage.NewPostgresStore(db, logger)
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))

	reg := registry.New(
		config.GetEnvInt("LOOKOUT_MAX_CONNECTIONS", registry.DefaultMaxConnections),
		config.GetEnvDuration("LOOKOUT_IDLE_LIMIT", registry.DefaultIdleLimit),
		logger,
	)
	healthChecker.AddCheck("registry", func() monitoring.CheckResult {
		n := reg.Len()
		if n == 0 {
			return monitoring.CheckResult{Status: monitoring.StatusDegraded, Message: "no monitored connections"}
		}
		return monitoring.CheckResult{Status: monitoring.StatusHealthy, Message: fmt.Sprintf("%d connections", n)}
	})

	hub := ws.NewHub(logger)
	go hub.Run()

	dispatcher := webhooks.NewDispatcher(store, logger, metricsCollector,
		config.GetEnvInt("LOOKOUT_MAX_INFLIGHT_DELIVERIES", webhooks.DefaultMaxInFlight))
	dispatcher.StartRetryScan(config.GetEnvDuration("LOOKOUT_RETRY_SCAN_INTERVAL", webhooks.DefaultRetryScanInterval))

	notifier := &notifierFanout{dispatcher: dispatcher, hub: hub}

	eng := engine.New(engine.Config{
		BufferCapacity:      config.GetEnvInt("LOOKOUT_BUFFER_CAPACITY", 0),
		MinSamples:          config.GetEnvInt("LOOKOUT_MIN_SAMPLES", 0),
		ConsecutiveRequired: config.GetEnvInt("LOOKOUT_CONSECUTIVE_REQUIRED", 0),
		Cooldown:            config.GetEnvDuration("LOOKOUT_COOLDOWN", 0),
	}, reg, store, notifier, logger, metricsCollector)

	corr := correlator.New(eng, store, notifier,
		config.GetEnvDuration("LOOKOUT_CORRELATION_WINDOW", correlator.DefaultWindow),
		logger, metricsCollector)

	supervisor := poller.NewSupervisor(
		config.GetEnvDuration("LOOKOUT_DRAIN_TIMEOUT", poller.DefaultDrainTimeout),
		logger, metricsCollector)

	connectionsGauge := metricsCollector.NewGauge("monitored_connections", "Registered instance connections", nil)
	reg.Subscribe(func(kind registry.ChangeKind, connectionID string) {
		supervisor.HandleRegistryChange(string(kind), connectionID)
		connectionsGauge.WithLabelValues().Set(float64(reg.Len()))
	})
	supervisor.OnConnectionRemoved(eng.OnConnectionRemoved)

	pollInterval := func() time.Duration {
		return config.GetEnvDuration("LOOKOUT_POLL_INTERVAL", 5*time.Second)
	}
	startMonitor := func(conn *registry.Connection) {
		supervisor.Start(poller.Loop{
			Name:         "anomaly:" + conn.ID,
			ConnectionID: conn.ID,
			Interval:     pollInterval,
			Poll: func(ctx context.Context) error {
				return eng.PollConnection(ctx, conn)
			},
			InitialPoll: true,
		})
	}

	bootstrapConnections(reg, startMonitor, logger)

	supervisor.Start(poller.Loop{
		Name: "correlator",
		Interval: func() time.Duration {
			return config.GetEnvDuration("LOOKOUT_CORRELATOR_TICK", correlator.DefaultTick)
		},
		Poll: corr.Sweep,
	})

	retention := config.GetEnvDuration("LOOKOUT_RETENTION", 168*time.Hour)
	supervisor.Start(poller.Loop{
		Name:     "prune",
		Interval: func() time.Duration { return time.Hour },
		Poll: func(ctx context.Context) error {
			cutoff := time.Now().Add(-retention)
			if _, err := store.PruneOldAnomalyEvents(ctx, cutoff.UnixMilli()); err != nil {
				return err
			}
			if _, err := store.PruneOldCorrelatedGroups(ctx, cutoff.UnixMilli()); err != nil {
				return err
			}
			_, err := store.PruneOldDeliveries(ctx, cutoff)
			return err
		},
	})

	handlers.Init(store, reg, eng, corr, dispatcher, supervisor, hub, logger, startMonitor)

	router := server.SetupServiceRouter(logger, "lookout", healthChecker, metricsCollector)
	handlers.SetupRoutes(router)

	serverConfig := server.DefaultConfig("lookout", "18020")
	err := server.StartWithShutdown(serverConfig, router, logger, func(ctx context.Context) {
		supervisor.StopAll()
		dispatcher.Stop(ctx)
		reg.CloseAll()
		if err := db.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close database")
		}
	})
	if err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}

// bootstrapConnections registers the instances named in LOOKOUT_INSTANCES
// (comma-separated host:port list). A failed dial logs and skips; the
// instance can be added later through the API.
func bootstrapConnections(reg *registry.Registry, startMonitor func(*registry.Connection), logger logging.Logger) {
	raw := config.GetEnv("LOOKOUT_INSTANCES", "")
	if raw == "" {
		return
	}

	password := config.GetEnv("LOOKOUT_INSTANCE_PASSWORD", "")
	username := config.GetEnv("LOOKOUT_INSTANCE_USERNAME", "")

	for _, addr := range strings.Split(raw, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}

		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			logger.WithError(err).WithField("addr", addr).Warn("Skipping malformed instance address")
			continue
		}
		port, _ := strconv.Atoi(portStr)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		client, err := dbclient.Connect(ctx, dbclient.Config{
			Mode:     dbclient.ModeSingle,
			Addrs:    []string{addr},
			Username: username,
			Password: password,
		})
		cancel()
		if err != nil {
			logger.WithError(err).WithField("addr", addr).Warn("Failed to connect to bootstrap instance")
			continue
		}

		conn := &registry.Connection{
			ID:     fmt.Sprintf("%s-%d", host, port),
			Name:   addr,
			Host:   host,
			Port:   port,
			Client: client,
		}
		if err := reg.Add(conn); err != nil {
			client.Close()
			logger.WithError(err).WithField("addr", addr).Warn("Failed to register bootstrap instance")
			continue
		}
		startMonitor(conn)

		logger.WithFields(logging.Fields{
			"connection_id": conn.ID,
			"addr":          addr,
		}).Info("Bootstrap instance registered")
	}
}
