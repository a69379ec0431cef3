// The thoradm binary is a cluster administrator's tool for backing up
// and restoring a Thorium deployment: the KV index, the catalog, every
// columnar partition, and the objects a restore needs to re-populate a
// fresh blob bucket (spec.md §4.6).
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thorium-sh/thorium/pkg/backup"
	"github.com/thorium-sh/thorium/pkg/blobstore"
	"github.com/thorium-sh/thorium/pkg/client"
	"github.com/thorium-sh/thorium/pkg/columnar"
	"github.com/thorium-sh/thorium/pkg/config"
	"github.com/thorium-sh/thorium/pkg/kvindex"
	"github.com/thorium-sh/thorium/pkg/models"
)

// apiKVStore adapts pkg/client onto backup.KVStore, so a restore's KV leg
// travels "through the Thorium API client" the way the original
// restore_redis does, rather than dialing Redis directly from the admin
// host.
type apiKVStore struct{ c *client.Client }

func (a apiKVStore) Snapshot(ctx context.Context) ([]kvindex.KeyDump, error) {
	return a.c.BackupKV(ctx)
}

func (a apiKVStore) Restore(ctx context.Context, dumps []kvindex.KeyDump) error {
	return a.c.RestoreKV(ctx, dumps)
}

func main() {
	var configDir string
	var dir string

	root := &cobra.Command{
		Use:   "thoradm",
		Short: "back up and restore a Thorium cluster",
	}
	root.PersistentFlags().StringVar(&configDir, "config-dir", "./deploy/config", "path to configuration directory")
	root.PersistentFlags().StringVar(&dir, "dir", "", "archive directory to write to or read from")

	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "snapshot the KV index, catalog, and every columnar partition into --dir",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				return fmt.Errorf("--dir is required")
			}
			return runBackup(cmd.Context(), configDir, dir)
		},
	}

	var samplesBucket, resultsBucket string
	var yes bool
	restoreCmd := &cobra.Command{
		Use:   "restore",
		Short: "replay an archive directory into a cluster, destructively",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				return fmt.Errorf("--dir is required")
			}
			return runRestore(cmd.Context(), configDir, dir, samplesBucket, resultsBucket, yes)
		},
	}
	restoreCmd.Flags().StringVar(&samplesBucket, "samples-bucket", "", "fresh bucket to copy sample blobs into")
	restoreCmd.Flags().StringVar(&resultsBucket, "results-bucket", "", "fresh bucket to copy result blobs into")
	restoreCmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the interactive confirmation prompt")

	root.AddCommand(backupCmd, restoreCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}

func runBackup(ctx context.Context, configDir, dir string) error {
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	db, kv, blob, err := dialStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	defer kv.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}

	mgr := backup.NewManager(db, kv, blob)
	sum, err := mgr.Backup(ctx, dir)
	if err != nil {
		return err
	}
	slog.Info("backup complete", "keys", sum.Keys, "groups", sum.Groups, "partitions", sum.Partitions, "rows", sum.Rows)
	return nil
}

func runRestore(ctx context.Context, configDir, dir, samplesBucket, resultsBucket string, skipConfirm bool) error {
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if samplesBucket == "" {
		samplesBucket = cfg.System.Blob.SamplesBucket
	}
	if resultsBucket == "" {
		resultsBucket = cfg.System.Blob.ResultsBucket
	}

	token := os.Getenv("THORIUM_API_TOKEN")
	if token == "" {
		return fmt.Errorf("THORIUM_API_TOKEN must be set (the KV index is restored through the Thorium API)")
	}
	thorium := client.New(cfg.System.APIAddr, token)

	db, _, blob, err := dialStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	mgr := backup.NewManager(db, apiKVStore{c: thorium}, blob)
	plan := backup.RestorePlan{
		Dir:           dir,
		SamplesBucket: samplesBucket,
		ResultsBucket: resultsBucket,
		PartitionSize: models.PartitionSize(cfg.System.PartitionSizeDays),
	}

	confirm := confirmRestore
	if skipConfirm {
		confirm = func(backup.RestorePlan) bool { return true }
	}
	return mgr.Restore(ctx, plan, confirm)
}

// confirmRestore prints what is about to be overwritten and asks the
// operator to type yes, mirroring the original's RestoreController::confirm
// (spec.md §4.6: "Restore is interactive: the operator confirms
// namespace, endpoints, and bucket names before any destructive write").
// No prompt library in the example pack covers this, so it is built on
// bufio/os.Stdin directly (DESIGN.md).
func confirmRestore(plan backup.RestorePlan) bool {
	fmt.Println("About to restore a Thorium cluster from:", plan.Dir)
	fmt.Println("  samples bucket:", plan.SamplesBucket)
	fmt.Println("  results bucket:", plan.ResultsBucket)
	fmt.Println("This will overwrite the KV index, catalog, and columnar store of the target cluster.")
	fmt.Print("Type 'yes' to continue: ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return line == "yes\n" || line == "yes\r\n"
}

func dialStores(ctx context.Context, cfg *config.Config) (*columnar.Client, *kvindex.Client, *blobstore.Client, error) {
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
		return nil, nil, nil, fmt.Errorf("connecting to columnar store: %w", err)
	}

	kv, err := kvindex.New(ctx, kvindex.Config{
		Addr:     cfg.System.Redis.Addr,
		Password: os.Getenv(cfg.System.Redis.Password),
		DB:       cfg.System.Redis.DB,
		Prefix:   cfg.System.Redis.Prefix,
	})
	if err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("connecting to kv index: %w", err)
	}

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
		db.Close()
		kv.Close()
		return nil, nil, nil, fmt.Errorf("connecting to blob store: %w", err)
	}

	return db, kv, blob, nil
}
