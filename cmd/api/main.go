// The api binary serves Thorium's HTTP job-handle and ingestion contract
// (spec.md §6), backed by the columnar store, KV index, blob store, and
// search event bus.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/thorium-sh/thorium/pkg/apiserver"
	"github.com/thorium-sh/thorium/pkg/blobstore"
	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/config"
	"github.com/thorium-sh/thorium/pkg/engine"
	"github.com/thorium-sh/thorium/pkg/ingestion"
	"github.com/thorium-sh/thorium/pkg/kvindex"
	"github.com/thorium-sh/thorium/pkg/models"
	"github.com/thorium-sh/thorium/pkg/search"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	addr := flag.String("addr", getEnv("THORIUM_API_LISTEN", ":8080"), "address to listen on")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v", envPath, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}

	keys, err := apiserver.LoadKeyStore(cfg.System.AuthKeysFile)
	if err != nil {
		log.Fatalf("failed to load auth keys file: %v", err)
	}

	db, err := columnar.NewClient(ctx, columnar.Config{
		Host:            cfg.System.DB.Host,
		Port:            cfg.System.DB.Port,
		User:            cfg.System.DB.User,
		Password:        os.Getenv(cfg.System.DB.Password),
		Database:        cfg.System.DB.Database,
		SSLMode:         cfg.System.DB.SSLMode,
		MaxOpenConns:    cfg.System.DB.MaxOpenConns,
		MaxIdleConns:    cfg.System.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.System.DB.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.System.DB.ConnMaxIdleTime,
	})
	if err != nil {
		log.Fatalf("failed to connect to columnar store: %v", err)
	}
	defer db.Close()

	kv, err := kvindex.New(ctx, kvindex.Config{
		Addr:     cfg.System.Redis.Addr,
		Password: os.Getenv(cfg.System.Redis.Password),
		DB:       cfg.System.Redis.DB,
		Prefix:   cfg.System.Redis.Prefix,
	})
	if err != nil {
		log.Fatalf("failed to connect to kv index: %v", err)
	}
	defer kv.Close()

	blob, err := blobstore.New(ctx, blobstore.Config{
		Endpoint:      cfg.System.Blob.Endpoint,
		Region:        cfg.System.Blob.Region,
		AccessKey:     os.Getenv(cfg.System.Blob.AccessKeyEnv),
		SecretKey:     os.Getenv(cfg.System.Blob.SecretKeyEnv),
		SamplesBucket: cfg.System.Blob.SamplesBucket,
		ResultsBucket: cfg.System.Blob.ResultsBucket,
		ReposBucket:   cfg.System.Blob.ReposBucket,
	})
	if err != nil {
		log.Fatalf("failed to connect to blob store: %v", err)
	}

	bus := search.New(kv)
	ingest := ingestion.New(db, kv, blob, bus, cfg.System.Retention.Results, models.PartitionSize(cfg.System.PartitionSizeDays))
	eng := engine.New(db, kv)

	srv := apiserver.NewServer(eng, ingest, db, blob, kv, keys)

	httpServer := &http.Server{
		Addr:         *addr,
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("api shutdown error", "error", err)
		}
	}()

	slog.Info("api starting", "addr", *addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("api server exited: %v", err)
	}
	slog.Info("api exiting")
}
