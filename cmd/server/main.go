// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	internal_ingest "github.com/homemicai/api/batch-api/internal_ingest"
	internal_registry "github.com/homemicai/api/node-api/internal_registry"
	internal_zones "github.com/homemicai/api/privacy-api/internal_zones"
	internal_hub "github.com/homemicai/api/realtime-api/internal_hub"
	homemic_routers "github.com/homemicai/api/routers"
	"github.com/homemicai/config"
	internal_entity "github.com/homemicai/internal/entity"
	internal_transcribe "github.com/homemicai/internal/transcribe"
	"github.com/homemicai/pkg/commons"
	"github.com/homemicai/pkg/connectors"
	"github.com/homemicai/pkg/metrics"
)

func main() {
	vConfig, err := config.InitConfig()
	if err != nil {
		log.Fatalf("unable to read configuration: %v", err)
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := commons.NewApplicationLogger(
		commons.Name(cfg.Name),
		commons.Level(cfg.LogLevel),
		commons.Path(cfg.LogPath),
	)
	if err != nil {
		log.Fatalf("unable to initialize logger: %v", err)
	}
	defer logger.Sync()

	db, err := openDatabase(cfg, logger)
	if err != nil {
		logger.Fatalf("unable to open database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(internal_entity.All()...); err != nil {
		logger.Fatalf("unable to migrate schema: %v", err)
	}

	appMetrics := metrics.New()
	registry := internal_registry.NewRegistry(logger, db)
	zones := internal_zones.NewService(logger, db)
	transcriber := buildTranscriber(cfg, logger)

	hub := internal_hub.NewHub(logger,
		internal_hub.WithNodeOfflineFunc(func(nodeId string) {
			registry.MarkOffline(context.Background(), nodeId)
		}),
		internal_hub.WithObserverCountFunc(appMetrics.SetObservers),
	)

	coordinator := internal_ingest.NewCoordinator(
		logger, db, transcriber,
		cfg.AudioStorageDir, cfg.MaxBatchFileSize, cfg.TranscribeWorkers,
		internal_ingest.WithAcceptedFunc(func(clip *internal_entity.BatchClip) {
			appMetrics.IncClipsUploaded()
		}),
		internal_ingest.WithOutcomeFunc(appMetrics.IncTranscription),
		internal_ingest.WithTranscribedFunc(func(clip *internal_entity.BatchClip) {
			hub.Broadcast(internal_hub.Event{
				Type: internal_hub.EventBatchTranscription,
				Data: clip,
			})
		}),
	)
	defer coordinator.Stop()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))
	engine.Use(appMetrics.RequestMiddleware())
	engine.GET("/metrics", gin.WrapH(appMetrics.Handler()))

	homemic_routers.NodeApiRoute(cfg, engine, logger, registry, hub)
	homemic_routers.BatchApiRoute(cfg, engine, logger, db, coordinator)
	homemic_routers.PrivacyApiRoute(cfg, engine, logger, registry, zones)
	homemic_routers.RealtimeApiRoute(cfg, engine, logger, db, hub, registry, zones, transcriber)
	systemApi := homemic_routers.SystemApiRoute(cfg, engine, logger, db, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	systemApi.StartCleanupLoop(ctx)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}
	go func() {
		logger.Infof("%s %s listening on %s", cfg.Name, cfg.Version, server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error: %v", err)
	}
}

func openDatabase(cfg *config.AppConfig, logger commons.Logger) (connectors.DatabaseConnector, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		return connectors.NewPostgresConnector(cfg.PostgresConfig, logger)
	default:
		return connectors.NewSqliteConnector(cfg.SqlitePath, logger)
	}
}

func buildTranscriber(cfg *config.AppConfig, logger commons.Logger) internal_transcribe.Transcriber {
	switch cfg.TranscribeBackend {
	case "openai":
		return internal_transcribe.NewOpenAITranscriber(cfg.OpenAIApiKey, logger)
	case "noop":
		return internal_transcribe.NewNoopTranscriber()
	default:
		return internal_transcribe.NewWhisperCppTranscriber(cfg.WhisperBin, cfg.WhisperModel, logger)
	}
}
