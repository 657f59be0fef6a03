package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lk2023060901/relaydrive-backend/internal/conf"
	"github.com/lk2023060901/relaydrive-backend/internal/data"
	"github.com/lk2023060901/relaydrive-backend/internal/pkg/logger"
	"github.com/lk2023060901/relaydrive-backend/internal/server"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/biz"
	storagedata "github.com/lk2023060901/relaydrive-backend/internal/storage/data"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/queue"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/service"
	"github.com/lk2023060901/relaydrive-backend/internal/storage/updates"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("config", "config.yaml", "config file path")
)

func main() {
	flag.Parse()

	// Load configuration
	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger with config
	logConfig := &logger.Config{
		Level:            config.Log.Level,
		Format:           config.Log.Format,
		Output:           config.Log.Output,
		EnableCaller:     config.Log.EnableCaller,
		EnableStacktrace: config.Log.EnableStacktrace,
		File: logger.FileConfig{
			Filename:   config.Log.File.Filename,
			MaxSize:    config.Log.File.MaxSize,
			MaxAge:     config.Log.File.MaxAge,
			MaxBackups: config.Log.File.MaxBackups,
			Compress:   config.Log.File.Compress,
		},
	}

	log, err := logger.New(logConfig)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	if err := logger.InitGlobal(logConfig); err != nil {
		log.Fatal("failed to initialize global logger", zap.Error(err))
	}

	log.Info("config loaded successfully")

	// Initialize data layer
	d, cleanup, err := data.NewData(config, log)
	if err != nil {
		log.Fatal("failed to initialize data layer", zap.Error(err))
	}
	defer cleanup()

	// Initialize repositories
	backendRepo := storagedata.NewBackendRepo(d.DB)
	fileRepo := storagedata.NewFileRepo(d.DB)
	chunkRepo := storagedata.NewChunkRepo(d.DB)
	blobStore := storagedata.NewRelayBlobStore(d.Relay)

	// Initialize use cases
	backendUseCase := biz.NewBackendUseCase(backendRepo, blobStore, log)
	chunkUseCase := biz.NewChunkUseCase(
		chunkRepo,
		fileRepo,
		backendRepo,
		blobStore,
		config.Storage.ChunkSizeBytes,
		d.Metrics,
		log,
	)
	fileUseCase := biz.NewFileUseCase(fileRepo, chunkRepo, backendUseCase, chunkUseCase, log)

	// Initialize fork worker
	forkWorker := queue.NewWorker(d.Redis, fileUseCase, log.Logger, config.Storage.ForkWorkers)
	if err := forkWorker.Start(context.Background()); err != nil {
		log.Fatal("failed to start fork worker", zap.Error(err))
	}
	defer forkWorker.Stop()

	// Initialize channel bind listener
	bindListener := updates.NewListener(
		d.Relay,
		backendRepo,
		d.Redis,
		config.Relay.UpdatePollInterval,
		log.Logger,
	)
	bindListener.Start(context.Background())
	defer bindListener.Stop()

	// Initialize services
	fileService := service.NewFileService(fileUseCase, chunkUseCase, forkWorker, log.Logger)
	backendService := service.NewBackendService(backendUseCase, log.Logger)

	// Initialize HTTP server
	httpServer := server.NewHTTPServer(config, log, fileService, backendService, d.Metrics, d.Redis)

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	log.Info("server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Stop(ctx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}
