package main

import (
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cluster-backend/cmd"
	"cluster-backend/internal/cluster"
	"cluster-backend/internal/core"
	"cluster-backend/internal/database"
	"cluster-backend/internal/messaging"
	"cluster-backend/internal/storage"

	"github.com/caarlos0/env/v11"
)

type WorkerConfig struct {
	DatabaseURL       string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL       string `env:"RABBITMQ_URL,notEmpty,required"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL" envDefault:""`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID" envDefault:""`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" envDefault:""`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	PipelineConfig    string `env:"PIPELINE_CONFIG" envDefault:""`
}

func main() {
	log.Println("Starting worker...")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewPostgresDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		log.Fatalf("Failed to create S3 client: %v", err)
	}

	reciever, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	pipelineCfg := cluster.DefaultConfig()
	if cfg.PipelineConfig != "" {
		pipelineCfg, err = cluster.LoadConfig(cfg.PipelineConfig)
		if err != nil {
			log.Fatalf("error loading pipeline config: %v", err)
		}
	}

	worker := core.NewTaskProcessor(db, store, reciever, cluster.NewPipeline(pipelineCfg))

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down worker")
		worker.Stop()
	}()

	worker.Start()

	slog.Info("worker stopped")
}
