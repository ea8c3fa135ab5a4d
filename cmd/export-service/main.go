package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rowbridge-io/platform/pkg/audit"
	"github.com/rowbridge-io/platform/pkg/catalog"
	"github.com/rowbridge-io/platform/pkg/common/config"
	"github.com/rowbridge-io/platform/pkg/common/database"
	"github.com/rowbridge-io/platform/pkg/common/kafka"
	"github.com/rowbridge-io/platform/pkg/common/logger"
	"github.com/rowbridge-io/platform/pkg/dest"
	"github.com/rowbridge-io/platform/pkg/export"
	"github.com/rowbridge-io/platform/pkg/gate"
	"github.com/rowbridge-io/platform/pkg/jobs"
	"github.com/rowbridge-io/platform/pkg/observability/metrics"
	"github.com/rowbridge-io/platform/pkg/scheduler"
	"github.com/rowbridge-io/platform/pkg/source"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	runRepo := export.NewRepository(db)
	jobRepo := jobs.NewRepository(db)
	auditRepo := audit.NewRepository(db)
	for _, migrate := range []func() error{runRepo.AutoMigrate, jobRepo.AutoMigrate, auditRepo.AutoMigrate} {
		if err := migrate(); err != nil {
			logger.Log.WithError(err).Fatal("failed to migrate tables")
		}
	}

	fieldCatalog, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logger.Log.WithError(err).Warn("failed to load field catalog, using defaults")
	}

	sourceClient := source.NewHTTPClient(cfg.SourceBaseURL, cfg.SourceToken, cfg.SourcePageSize)
	detailCache := source.NewDetailCache(database.GetRedis(), cfg.DetailCacheTTL)
	pipeline := export.NewPipeline(sourceClient, detailCache, fieldCatalog, cfg.SourceBatchSize)

	destClient := dest.NewHTTPClient(cfg.DestBaseURL, cfg.DestToken)
	writer := export.NewWriter(destClient, cfg.WriterAttempts, cfg.WriterBackoff, cfg.WriterBudget)

	producer := kafka.NewProducer(cfg.KafkaRunTopic)
	defer producer.Close()

	sched := scheduler.New(scheduler.Config{
		RunTimeout: cfg.RunTimeout,
		Retention:  time.Duration(cfg.RetentionDays) * 24 * time.Hour,
	})

	gateClient := gate.NewHTTPClient(cfg.GateBaseURL)
	jobService := jobs.NewService(jobRepo, gateClient, sched, auditRepo)

	exportService := export.NewService(runRepo, jobService, pipeline, writer, fieldCatalog, producer, auditRepo, export.ServiceConfig{
		StaleAfter:       cfg.StaleAfter,
		DecimalSeparator: cfg.DecimalSeparator,
		DefaultTaxRate:   cfg.DefaultTaxRate,
	})

	sched.SetRunner(exportService)
	sched.SetSource(jobService)
	sched.AddPurger(runRepo.PurgeOlderThan)
	sched.AddPurger(auditRepo.DeleteOlderThan)
	if err := sched.Init(context.Background()); err != nil {
		logger.Log.WithError(err).Fatal("failed to initialize scheduler")
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1/export").Subrouter()
	jobs.NewHandler(jobService).Register(api)
	export.NewHandler(exportService, runRepo).Register(api)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("Export service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start export service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down export service...")
	sched.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Export service forced to shutdown")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Error("Failed to close postgres connection")
	}
	if err := database.CloseRedis(); err != nil {
		logger.Log.WithError(err).Error("Failed to close redis connection")
	}
	logger.Log.Info("Export service stopped")
}
