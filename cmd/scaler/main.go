// The scaler binary runs one scaler kind's catalog cache and bin-packing
// scheduling loop for a cluster, reconciling K8s NetworkPolicy objects as
// the cache's groups/policies change (spec.md §4.2).
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
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/thorium-sh/thorium/pkg/client"
	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/config"
	"github.com/thorium-sh/thorium/pkg/models"
	"github.com/thorium-sh/thorium/pkg/scaler"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// kubeConfig resolves an in-cluster config first, falling back to
// kubeconfig on disk, mirroring the pack's own Kyma deploy tool
// (evalgo-org-eve/cloud/kyma.go's getKubeConfig).
func kubeConfig(kubeconfigPath string) (*rest.Config, error) {
	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}
	if kubeconfigPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		kubeconfigPath = filepath.Join(home, ".kube", "config")
	}
	return clientcmd.BuildConfigFromFlags("", kubeconfigPath)
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	cluster := flag.String("cluster", getEnv("THORIUM_CLUSTER", ""), "cluster this scaler schedules for")
	scalerKind := flag.String("scaler", getEnv("THORIUM_SCALER", string(models.ScalerK8s)), "scaler kind to run: K8s, BareMetal, Windows, Kvm, or External")
	kubeconfigPath := flag.String("kubeconfig", getEnv("KUBECONFIG", ""), "path to a kubeconfig file, used when not running in-cluster")
	namespace := flag.String("namespace", getEnv("THORIUM_NAMESPACE", "thorium"), "K8s namespace this scaler kind's network policies target (K8s kind only)")
	tickInterval := flag.Duration("tick-interval", 10*time.Second, "how often to run one scheduling pass")
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
	if *cluster == "" {
		log.Fatal("--cluster is required")
	}

	kind := models.ScalerKind(*scalerKind)
	scalerCfg, ok := cfg.Scalers[string(kind)]
	if !ok || !scalerCfg.Enabled {
		log.Fatalf("scaler kind %q is not enabled in configuration", kind)
	}

	token := os.Getenv("THORIUM_API_TOKEN")
	if token == "" {
		log.Fatal("THORIUM_API_TOKEN must be set")
	}
	api := client.New(cfg.System.APIAddr, token)

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

	var clientset kubernetes.Interface
	var nodes scaler.NodeCapacitySource
	var reconciler *scaler.NetworkPolicyReconciler
	if kind == models.ScalerK8s || kind == models.ScalerWindows {
		restCfg, err := kubeConfig(*kubeconfigPath)
		if err != nil {
			log.Fatalf("failed to resolve kubeconfig: %v", err)
		}
		clientset, err = kubernetes.NewForConfig(restCfg)
		if err != nil {
			log.Fatalf("failed to build k8s clientset: %v", err)
		}
		nodes = scaler.NewK8sNodeCapacitySource(clientset, scalerCfg)
		reconciler = scaler.NewNetworkPolicyReconciler(clientset, scalerCfg)
	} else {
		log.Fatalf("scaler kind %q has no NodeCapacitySource implementation yet", kind)
	}

	cache := scaler.New(kind, scalerCfg, db.Catalog(), db.NetworkPolicies(), scaler.NewDigestProbe())
	scheduler := scaler.NewScheduler(kind, *cluster, scalerCfg, cache, api, db, nodes)

	onReload := func(delta scaler.Delta) {
		if reconciler == nil {
			return
		}
		for group, added := range delta.PoliciesAdded {
			policies, err := db.NetworkPolicies().ByGroup(ctx, group)
			if err != nil {
				slog.Error("loading network policies for reconcile", "group", group, "error", err)
				continue
			}
			if err := reconciler.Reconcile(ctx, *namespace, group, policies, delta.PoliciesRemoved[group]); err != nil {
				slog.Error("reconciling network policies", "group", group, "error", err)
			}
			_ = added
		}
	}

	go func() {
		if err := cache.Run(ctx, onReload); err != nil {
			slog.Error("cache run exited", "error", err)
		}
	}()

	slog.Info("scaler starting", "cluster", *cluster, "scaler", kind)
	ticker := time.NewTicker(*tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("scaler exiting", "cluster", *cluster, "scaler", kind)
			return
		case <-ticker.C:
			if err := scheduler.Tick(ctx); err != nil {
				slog.Error("scheduling tick failed", "error", err)
			}
		}
	}
}
