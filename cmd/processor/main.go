package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/your-org/packageflow/internal/processor"
	"github.com/your-org/packageflow/pkg/audit"
	"github.com/your-org/packageflow/pkg/config"
	"github.com/your-org/packageflow/pkg/dispatch"
	"github.com/your-org/packageflow/pkg/kafka"
	"github.com/your-org/packageflow/pkg/logger"
	"github.com/your-org/packageflow/pkg/storage/objectstore"
	"github.com/your-org/packageflow/pkg/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logr, err := logger.New(cfg.App.LogLevel, "packageflow-processor")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Attributes:  parseResourceAttributes(cfg.Tracing.ResourceAttr),
		ServiceName: "packageflow-processor",
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	auditProducer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.AuditTopic,
		BatchSize:    cfg.Kafka.BatchSize,
		BatchTimeout: cfg.Kafka.BatchTimeout,
		Compression:  kafka.CompressionFromString(cfg.Kafka.CompressionCodec),
		RequiredAcks: kafkago.RequireAll,
		MaxAttempts:  cfg.Kafka.Retries,
	})

	store, err := objectstore.New(objectstore.Config{
		Provider:  cfg.Storage.Provider,
		Endpoint:  cfg.Storage.Endpoint,
		Region:    cfg.Storage.Region,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		logr.Fatal("init object store", zap.Error(err))
	}

	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.TasksTopic,
		GroupID: cfg.Kafka.ProcessorGroupID,
	})

	proc := processor.New(processor.Params{
		Store:    store,
		Recorder: audit.NewKafkaRecorder(auditProducer, logr),
		Logger:   logr,
	})

	logr.Info("processor starting",
		zap.String("topic", cfg.Kafka.TasksTopic),
		zap.String("group", cfg.Kafka.ProcessorGroupID),
	)

	// One task at a time. A task that fails is recorded and fatal: the
	// replica exits non-zero and the environment restarts it, leaving
	// re-delivery to the consumer group.
	for {
		msg, err := consumer.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			logr.Fatal("fetch task", zap.Error(err))
		}

		var req dispatch.Request
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			logr.Error("malformed task message", zap.Error(err))
			continue
		}

		if err := proc.Run(ctx, msg.Headers[dispatch.HandleHeader], req); err != nil {
			shutdown(logr, consumer, auditProducer, store)
			logr.Fatal("task failed", zap.Error(err))
		}
	}

	shutdown(logr, consumer, auditProducer, store)
	logr.Info("processor stopped")
}

func shutdown(logr *zap.Logger, consumer *kafka.Consumer, producer *kafka.Producer, store objectstore.Client) {
	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := consumer.Close(); err != nil {
		logr.Error("consumer shutdown failed", zap.Error(err))
	}
	if err := producer.Close(closeCtx); err != nil {
		logr.Error("audit producer shutdown failed", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		logr.Error("object store shutdown failed", zap.Error(err))
	}
}

func parseResourceAttributes(raw string) map[string]string {
	if raw == "" {
		return map[string]string{}
	}
	attrs := map[string]string{}
	pairs := strings.Split(raw, ",")
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		if !strings.Contains(pair, "=") {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		attrs[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return attrs
}
