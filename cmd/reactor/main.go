// The reactor binary runs one node's worker lifecycle: recovering
// workers that survived a restart, launching newly-spawned ones, and
// retiring dead or leaked ones (spec.md §4.3).
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/config"
	"github.com/thorium-sh/thorium/pkg/models"
	"github.com/thorium-sh/thorium/pkg/reactor"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	cluster := flag.String("cluster", getEnv("THORIUM_CLUSTER", ""), "cluster this reactor belongs to")
	node := flag.String("node", getEnv("THORIUM_NODE", ""), "node this reactor manages")
	scaler := flag.String("scaler", getEnv("THORIUM_SCALER", string(models.ScalerBareMetal)), "scaler kind this node serves (only BareMetal has a launcher so far)")
	agentBinary := flag.String("agent-binary", getEnv("THORIUM_AGENT_BINARY", "thorium-agent"), "path to the agent binary to spawn per worker")
	tickInterval := flag.Duration("tick-interval", 10*time.Second, "how often to sweep this node's workers")
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
	if *cluster == "" || *node == "" {
		log.Fatal("--cluster and --node are required")
	}

	token := os.Getenv("THORIUM_API_TOKEN")
	if token == "" {
		log.Fatal("THORIUM_API_TOKEN must be set")
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

	kind := models.ScalerKind(*scaler)
	scalerCfg, ok := cfg.Scalers[string(kind)]
	if !ok {
		log.Fatalf("no scaler config for kind %q", kind)
	}

	launcher := reactor.NewBareMetal(reactor.BareMetalConfig{
		Cluster:     *cluster,
		Node:        *node,
		AgentBinary: *agentBinary,
		APIAddr:     cfg.System.APIAddr,
		Token:       func() string { return os.Getenv("THORIUM_API_TOKEN") },
	})

	r := reactor.New(*cluster, *node, launcher, db, scalerCfg.WorkerLeakGrace)
	slog.Info("reactor starting", "cluster", *cluster, "node", *node, "scaler", kind)
	if err := r.Run(ctx, *tickInterval); err != nil {
		log.Fatalf("reactor exited: %v", err)
	}
	slog.Info("reactor exiting", "cluster", *cluster, "node", *node)
}
