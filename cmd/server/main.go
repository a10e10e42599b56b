package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cluster-backend/cmd"
	"cluster-backend/internal/api"
	"cluster-backend/internal/cluster"
	"cluster-backend/internal/core"
	"cluster-backend/internal/database"
	"cluster-backend/internal/messaging"
	"cluster-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"
)

type Config struct {
	Root           string `env:"ROOT" envDefault:"./cluster-backend"`
	Port           int    `env:"PORT" envDefault:"8001"`
	PipelineConfig string `env:"PIPELINE_CONFIG" envDefault:""`
}

const routePrefix = "/api/v1"

func createQueue(db *gorm.DB) *messaging.InMemoryQueue {
	// Jobs that were queued when the process last stopped are re-enqueued so
	// they are not lost.
	var pending []database.ClusterJob
	if err := db.Where("status = ?", database.JobQueued).Find(&pending).Error; err != nil {
		log.Fatalf("Failed to fetch pending jobs from database: %v", err)
	}

	queue := messaging.NewInMemoryQueue()

	for _, job := range pending {
		if err := queue.PublishClusterTask(context.Background(), messaging.ClusterTaskPayload{
			JobId: job.Id,
		}); err != nil {
			log.Fatalf("Failed to re-enqueue cluster job %s: %v", job.Id, err)
		}
	}

	return queue
}

func createServer(db *gorm.DB, store storage.ObjectStore, queue messaging.Publisher, pipeline *cluster.Pipeline, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(db, store, queue, pipeline, routePrefix)

	r.Route(routePrefix, func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func loadPipeline(path string) *cluster.Pipeline {
	if path == "" {
		return cluster.NewPipeline(cluster.DefaultConfig())
	}

	cfg, err := cluster.LoadConfig(path)
	if err != nil {
		log.Fatalf("error loading pipeline config: %v", err)
	}
	return cluster.NewPipeline(cfg)
}

func main() {
	cmd.LoadEnvFile()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.Port)

	db, err := database.NewSqliteDatabase(filepath.Join(cfg.Root, "db", "cluster-backend.db"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	store, err := storage.NewLocalObjectStore(filepath.Join(cfg.Root, "storage"))
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}
	for _, bucket := range []string{core.UploadBucket, core.ResultBucket} {
		if err := store.CreateBucket(context.Background(), bucket); err != nil {
			log.Fatalf("Failed to create bucket %s: %v", bucket, err)
		}
	}

	pipeline := loadPipeline(cfg.PipelineConfig)
	queue := createQueue(db)
	worker := core.NewTaskProcessor(db, store, queue, pipeline)
	server := createServer(db, store, queue, pipeline, cfg.Port)

	slog.Info("starting worker")
	go worker.Start()

	// Goroutine for graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		slog.Info("shutting down worker")
		worker.Stop()
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
