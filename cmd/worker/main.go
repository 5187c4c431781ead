package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gocql/gocql"
	"github.com/joho/godotenv"

	"github.com/dandantas/lms-worker/internal/bulkupload"
	"github.com/dandantas/lms-worker/internal/bus"
	"github.com/dandantas/lms-worker/internal/cassandra"
	"github.com/dandantas/lms-worker/internal/config"
	"github.com/dandantas/lms-worker/internal/database"
	"github.com/dandantas/lms-worker/internal/handler"
	"github.com/dandantas/lms-worker/internal/model"
	"github.com/dandantas/lms-worker/internal/notification"
	"github.com/dandantas/lms-worker/internal/resource"
	"github.com/dandantas/lms-worker/internal/scheduler"
	"github.com/dandantas/lms-worker/internal/telemetry"
	"github.com/dandantas/lms-worker/internal/worker"
)

const version = "1.0.0"

// jobBackend is what the worker needs from whichever job store is configured
type jobBackend interface {
	bulkupload.JobStore
	FindStale(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

type leaseBackend interface {
	bulkupload.Leaser
	IsLeased(ctx context.Context, jobID string) (bool, error)
}

func main() {
	// A missing .env is normal outside local development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	cfg := config.Load()
	config.InitLogger(cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting LMS background worker",
		"version", version,
		"pod_id", cfg.PodID,
		"job_store", cfg.JobStoreBackend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Users always live in MongoDB
	db, err := database.Connect(ctx, cfg.MongoOptions())
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Disconnect(context.Background()); err != nil {
			slog.Error("Failed to disconnect from MongoDB", "error", err)
		}
	}()

	if err := database.CreateIndexes(ctx, db); err != nil {
		slog.Error("Failed to create indexes", "error", err)
		os.Exit(1)
	}

	deps := map[string]handler.Pinger{"mongodb": db}

	var (
		jobs   jobBackend
		leases leaseBackend
	)
	switch cfg.JobStoreBackend {
	case config.StoreCassandra:
		session, err := cassandra.Connect(cassandra.Config{
			Hosts:      cfg.CassandraHosts,
			Keyspace:   cfg.CassandraKeyspace,
			Timeout:    cfg.CassandraTimeout,
			NumRetries: cfg.CassandraRetries,
		})
		if err != nil {
			slog.Error("Failed to connect to Cassandra", "error", err)
			os.Exit(1)
		}
		defer session.Close()

		if err := cassandra.EnsureSchema(ctx, session); err != nil {
			slog.Error("Failed to create Cassandra tables", "error", err)
			os.Exit(1)
		}

		jobs = cassandra.NewJobStore(session, cfg.CassandraTimeout)
		leases = cassandra.NewLeaseStore(session, cfg.CassandraTimeout)
		deps["cassandra"] = handler.PingFunc(func(ctx context.Context) error {
			return pingCassandra(ctx, session)
		})
	default:
		jobs = database.NewBulkUploadRepository(db)
		leases = database.NewLeaseRepository(db)
	}
	userRepo := database.NewUserRepository(db)

	// Location service and row processing
	locations, err := resource.NewHTTPClient(resource.HTTPConfig{
		BaseURL:      cfg.LocationServiceURL,
		SearchPath:   cfg.LocationSearchPath,
		CreatePath:   cfg.LocationCreatePath,
		UpdatePath:   cfg.LocationUpdatePath,
		ResultsPath:  cfg.LocationResultsPath,
		AuthToken:    cfg.LocationAuthToken,
		Timeout:      cfg.LocationTimeout,
		MaxRetries:   cfg.LocationMaxRetries,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: cfg.LocationRetryWaitMax,
	})
	if err != nil {
		slog.Error("Failed to create location service client", "error", err)
		os.Exit(1)
	}

	opts := []bulkupload.Option{
		bulkupload.WithObjectType(cfg.DefaultObjectType),
		bulkupload.WithCheckpointEvery(cfg.CheckpointEvery),
		bulkupload.WithFinalWriteRetry(cfg.FinalWriteAttempts, 500*time.Millisecond),
	}
	var sweepLocker scheduler.Locker
	if cfg.LeaseEnabled {
		opts = append(opts, bulkupload.WithLeaser(leases, cfg.PodID, cfg.LeaseTTL))
		sweepLocker = leases
	}
	coordinator := bulkupload.NewCoordinator(jobs, bulkupload.NewRowProcessor(locations, cfg.LocationKeyFieldList), opts...)

	// Peripheral operations
	forwarder := telemetry.NewForwarder(telemetry.Config{
		BaseURL: cfg.TelemetryBaseURL,
		APIPath: cfg.TelemetryAPIPath,
		Timeout: cfg.TelemetryTimeout,
	})
	smsSender := notification.NewSMSSender(
		userRepo,
		notification.PassthroughDecrypter{},
		notification.NewMSG91Provider(notification.MSG91Config{
			URL:     cfg.SMSProviderURL,
			AuthKey: cfg.SMSAuthKey,
			Sender:  cfg.SMSSender,
			Timeout: cfg.SMSTimeout,
		}),
		cfg.SMSDefaultCountry,
	)

	pool := worker.NewWorkerPool(cfg.WorkerPoolSize, cfg.WorkerQueueSize)
	pool.Handle(model.OperationLocationBulkUpload, coordinator.HandleTask)
	pool.Handle(model.OperationTelemetry, forwarder.HandleTask)
	pool.Handle(model.OperationSMS, smsSender.HandleTask)
	pool.Start()

	// Message bus
	nc, err := bus.Connect(cfg.NATSURL)
	if err != nil {
		slog.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()
	deps["nats"] = handler.PingFunc(func(context.Context) error {
		if !nc.Connected() {
			return errors.New("nats not connected")
		}
		return nil
	})

	trigger := bulkupload.NewTriggerHandler(pool, model.OperationLocationBulkUpload)
	subscriptions := []struct {
		subject string
		handler bus.Handler
	}{
		{cfg.BulkUploadSubject, trigger.Handle},
		{cfg.TelemetrySubject, pool.Enqueue(model.OperationTelemetry)},
		{cfg.SMSSubject, pool.Enqueue(model.OperationSMS)},
	}
	for _, sub := range subscriptions {
		if err := nc.QueueSubscribe(sub.subject, cfg.WorkerQueueGroup, sub.handler); err != nil {
			slog.Error("Failed to subscribe", "subject", sub.subject, "error", err)
			os.Exit(1)
		}
	}

	// Recovery sweeper
	sweeper, err := scheduler.NewSweeper(cfg, jobs, sweepLocker, nc)
	if err != nil {
		slog.Error("Failed to create recovery sweeper", "error", err)
		os.Exit(1)
	}
	sweeper.Start()

	// HTTP server
	router := handler.NewRouter(
		handler.NewBulkUploadHandler(jobs, nc, cfg.BulkUploadSubject),
		handler.NewHealthHandler(deps, pool, version),
	)
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	go func() {
		slog.Info("Starting HTTP server", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("Received shutdown signal, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()

	// Stop taking new messages before draining the queue
	slog.Info("Unsubscribing from NATS...")
	nc.Unsubscribe()

	slog.Info("Stopping recovery sweeper...")
	sweeper.Stop(shutdownCtx)

	slog.Info("Draining worker pool...", "queued", pool.QueueLength())
	drained := make(chan struct{})
	go func() {
		pool.Stop()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		slog.Warn("Worker pool did not drain before the grace period ended")
	}

	slog.Info("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if releaser, ok := leases.(interface {
		ReleaseAll(ctx context.Context, owner string) error
	}); ok && cfg.LeaseEnabled {
		if err := releaser.ReleaseAll(context.Background(), cfg.PodID); err != nil {
			slog.Error("Failed to release job leases", "error", err)
		}
	}

	slog.Info("LMS background worker stopped")
}

func pingCassandra(ctx context.Context, session *gocql.Session) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return session.Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
}
