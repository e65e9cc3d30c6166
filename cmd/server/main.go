// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Meridian CRM Inbound Ingestion Service
//
// Entry point for the ingestion service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL, Redis, and S3
//  3. Starts the single-worker ingestion queue
//  4. Serves the webhook intake and review/control API
//  5. Optionally runs the alternate mailbox poller
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-crm/ingestion/internal/api"
	"github.com/meridian-crm/ingestion/internal/blobstore"
	"github.com/meridian-crm/ingestion/internal/config"
	"github.com/meridian-crm/ingestion/internal/contacts"
	"github.com/meridian-crm/ingestion/internal/dedup"
	"github.com/meridian-crm/ingestion/internal/extract"
	"github.com/meridian-crm/ingestion/internal/notify"
	"github.com/meridian-crm/ingestion/internal/pipeline"
	"github.com/meridian-crm/ingestion/internal/poller"
	"github.com/meridian-crm/ingestion/internal/queue"
	"github.com/meridian-crm/ingestion/internal/review"
	"github.com/meridian-crm/ingestion/internal/webhook"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting ingestion service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"bucket", cfg.S3Bucket,
		"model", cfg.Extraction.Model,
		"poller_enabled", cfg.Mailbox.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Dedup Filter ---
	filter := dedup.NewFilter(rdb)

	// --- Blob Store (S3) ---
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		slog.Error("failed to load AWS configuration", "error", err)
		os.Exit(1)
	}
	blobs := blobstore.NewS3Store(s3.NewFromConfig(awsCfg), cfg.S3Bucket)

	// --- Stores (Postgres) ---
	notifier, err := notify.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise notification store", "error", err)
		os.Exit(1)
	}
	reviews, err := review.NewStore(ctx, pgPool, notifier)
	if err != nil {
		slog.Error("failed to initialise review store", "error", err)
		os.Exit(1)
	}
	markers, err := pipeline.NewMarkerStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise marker store", "error", err)
		os.Exit(1)
	}
	contactStore, err := contacts.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise contact store", "error", err)
		os.Exit(1)
	}

	// --- Extraction Client ---
	extractor, err := extract.NewClient(cfg.Extraction)
	if err != nil {
		slog.Error("failed to create extraction client", "error", err)
		os.Exit(1)
	}

	// --- Pipeline + Queue Worker ---
	pipe := pipeline.New(pipeline.Config{
		Blobs:        blobs,
		Markers:      markers,
		Filter:       filter,
		Extractor:    extractor,
		Results:      reviews,
		Notifier:     notifier,
		AdminAddress: cfg.AdminAddress,
	})

	q := queue.New(pipe.Process, notifier)
	q.Start(ctx)
	slog.Info("ingestion queue worker started")

	// --- Webhook Intake ---
	handler := webhook.NewHandler(q, filter, notifier, cfg.TopicARN)

	// --- Alternate Mailbox Poller ---
	var mailbox poller.Mailbox = disabledMailbox{}
	if cfg.Mailbox.Enabled {
		gm, err := poller.NewGmailMailbox(ctx, cfg.Mailbox)
		if err != nil {
			slog.Error("failed to create mailbox client", "error", err)
			os.Exit(1)
		}
		mailbox = gm
	}
	mailPoller := poller.New(poller.Config{
		Mailbox:  mailbox,
		Markers:  markers,
		Subjects: filter,
		Blobs:    blobs,
		Queue:    q,
		Interval: cfg.Mailbox.Interval,
		MarkRead: cfg.Mailbox.MarkRead,
	})
	if cfg.Mailbox.Enabled {
		if res := mailPoller.Start(ctx); !res.OK {
			slog.Error("failed to start poller", "message", res.Message)
			os.Exit(1)
		}
	}

	// --- HTTP API ---
	apiServer := api.NewServer(api.Config{
		Webhook:       handler.ServeInbound,
		Queue:         q,
		Reviews:       reviews,
		Contacts:      contactStore,
		Poller:        mailPoller,
		Notifications: notifier,
		PingPostgres:  pgPool.Ping,
		PingRedis: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      apiServer.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)

		mailPoller.Stop()
		cancel() // Stop the queue worker

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("ingestion service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("ingestion service stopped")
}

// disabledMailbox backs the poller control surface when no mailbox is
// configured. Poll cycles report the misconfiguration instead of
// panicking on a nil client.
type disabledMailbox struct{}

func (disabledMailbox) ListUnprocessed(context.Context) ([]poller.MessageMeta, error) {
	return nil, fmt.Errorf("mailbox poller is not configured")
}

func (disabledMailbox) FetchRaw(context.Context, string) ([]byte, error) {
	return nil, fmt.Errorf("mailbox poller is not configured")
}

func (disabledMailbox) MarkRead(context.Context, string) error {
	return fmt.Errorf("mailbox poller is not configured")
}
