// The agent binary is the per-job process a reactor-launched worker runs:
// it claims exactly one job for its (group, pipeline, stage) assignment,
// runs it to completion, and either keeps polling for the next job or
// retires once its image's lifetime says to (spec.md §4.4).
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

	"github.com/joho/godotenv"

	"github.com/thorium-sh/thorium/pkg/agent"
	"github.com/thorium-sh/thorium/pkg/client"
	"github.com/thorium-sh/thorium/pkg/config"
	"github.com/thorium-sh/thorium/pkg/models"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	group := flag.String("group", getEnv("THORIUM_GROUP", ""), "group to claim jobs for")
	pipeline := flag.String("pipeline", getEnv("THORIUM_PIPELINE", ""), "pipeline to claim jobs for")
	stage := flag.String("stage", getEnv("THORIUM_STAGE", ""), "stage to claim jobs for")
	cluster := flag.String("cluster", getEnv("THORIUM_CLUSTER", ""), "cluster this worker belongs to")
	node := flag.String("node", getEnv("THORIUM_NODE", ""), "node this worker runs on")
	name := flag.String("name", getEnv("THORIUM_WORKER", ""), "this worker's own name, assigned at spawn")
	scaler := flag.String("scaler", getEnv("THORIUM_SCALER", string(models.ScalerBareMetal)), "execution backend: BareMetal, K8s, Windows, or Kvm")
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

	token := os.Getenv("THORIUM_API_TOKEN")
	if token == "" {
		log.Fatal("THORIUM_API_TOKEN must be set")
	}
	if *group == "" || *pipeline == "" || *stage == "" || *name == "" {
		log.Fatal("--group, --pipeline, --stage, and --name are required")
	}

	thorium := client.New(cfg.System.APIAddr, token)

	var newExecutor agent.NewExecutor
	switch models.ScalerKind(*scaler) {
	case models.ScalerBareMetal:
		newExecutor = agent.BareMetalNewExecutor
	case models.ScalerK8s, models.ScalerWindows:
		newExecutor = agent.DockerNewExecutor
	case models.ScalerKvm:
		newExecutor = agent.KvmNewExecutor
	default:
		log.Fatalf("unknown scaler kind %q", *scaler)
	}

	target := agent.Target{
		Group:    *group,
		Pipeline: *pipeline,
		Stage:    *stage,
		Cluster:  *cluster,
		Node:     *node,
		Worker:   *name,
	}

	slog.Info("agent starting", "worker", *name, "scaler", *scaler, "group", *group, "pipeline", *pipeline, "stage", *stage)
	agent.NewRunner(cfg.Agent, thorium, target, newExecutor).Run(ctx)
	slog.Info("agent exiting", "worker", *name)
}
