// Command kelpie-bench is a smoke-test and micro-benchmark harness for the
// Pool/LKV stack. It is a development tool, not the product CLI (out of
// scope per spec.md §1) — it exists to drive Publish/Get round trips and a
// snapshot-to-disk cycle against a real Local pool without standing up a
// cluster.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/faodel/kelpie/internal/config"
	"github.com/faodel/kelpie/internal/faodel"
	"github.com/faodel/kelpie/internal/iom"
	"github.com/faodel/kelpie/internal/iom/pgiom"
	"github.com/faodel/kelpie/internal/iom/redisiom"
	"github.com/faodel/kelpie/internal/iom/s3iom"
	"github.com/faodel/kelpie/internal/lkv"
	"github.com/faodel/kelpie/internal/logging"
	"github.com/faodel/kelpie/internal/lunasa"
	"github.com/faodel/kelpie/internal/pkg/crypto"
	"github.com/faodel/kelpie/internal/pkg/fsutil"
	"github.com/faodel/kelpie/internal/pool"
)

var (
	configPath string
	logFormat  string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "kelpie-bench",
		Short: "Smoke-test and micro-benchmark harness for the Kelpie pool stack",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "flat key=value or YAML config file (optional)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "text|json")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")

	root.AddCommand(runCmd(), snapshotCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.New(), nil
	}
	if len(configPath) > 5 && configPath[len(configPath)-5:] == ".yaml" {
		return config.LoadYAML(configPath)
	}
	if len(configPath) > 4 && configPath[len(configPath)-4:] == ".yml" {
		return config.LoadYAML(configPath)
	}
	return config.LoadWithEnvOverride(configPath)
}

func setupLogging() {
	logging.InitStructured(logFormat, logLevel)
}

// buildIOMRegistry constructs a registry holding at most one backing IOM,
// named "bench", so --iom=redis|pg|s3 can be referenced from the pool URL's
// iom= option. kind="" (the default) returns an empty registry — Publish
// only reaches the in-memory LKV shard, as before this flag existed.
func buildIOMRegistry(ctx context.Context, kind string, cfg *config.Config) (*iom.Registry, error) {
	registry := iom.NewRegistry()
	switch kind {
	case "":
		return registry, nil
	case "redis":
		m, err := redisiom.New(ctx, "bench",
			cfg.GetString("redis_addr", "127.0.0.1:6379"),
			cfg.GetString("redis_password", ""),
			cfg.GetInt("redis_db", 0))
		if err != nil {
			return nil, fmt.Errorf("connect redis iom: %w", err)
		}
		registry.Register(m)
	case "pg":
		m, err := pgiom.New(ctx, "bench", cfg.GetString("pg_dsn", "postgres://localhost/kelpie"))
		if err != nil {
			return nil, fmt.Errorf("connect postgres iom: %w", err)
		}
		registry.Register(m)
	case "s3":
		m, err := s3iom.New(ctx, "bench",
			cfg.GetString("s3_bucket", "kelpie-bench"),
			cfg.GetString("s3_region", "us-east-1"),
			cfg.GetString("s3_endpoint", ""),
			cfg.GetString("s3_access_key", ""),
			cfg.GetString("s3_secret_key", ""))
		if err != nil {
			return nil, fmt.Errorf("connect s3 iom: %w", err)
		}
		registry.Register(m)
	default:
		return nil, fmt.Errorf("unknown --iom kind %q (want redis, pg, or s3)", kind)
	}
	return registry, nil
}

func runCmd() *cobra.Command {
	var n int
	var objSize int
	var bucket string
	var iomKind string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Publish and read back N objects against a local pool, reporting throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			kelpieCfg := cfg.WithPrefix("kelpie")
			if kelpieCfg.Has("object_size") {
				objSize = kelpieCfg.GetInt("object_size", objSize)
			}
			if kelpieCfg.Has("count") {
				n = kelpieCfg.GetInt("count", n)
			}

			ctx := context.Background()
			registry, err := buildIOMRegistry(ctx, iomKind, kelpieCfg)
			if err != nil {
				return err
			}

			allocator := lunasa.NewPlainAllocator("kelpie-bench")
			store := lkv.NewStore(allocator)
			store.Start()
			url := faodel.NewResourceURL("local", "/bench")
			url.Bucket = faodel.BucketFromString(bucket)
			if iomKind != "" {
				url.SetOption("iom", "bench")
			}
			local := pool.NewLocal(url, store, registry)

			payload := make([]byte, objSize)
			for i := range payload {
				payload[i] = byte(i)
			}

			start := time.Now()
			for i := 0; i < n; i++ {
				key := faodel.NewKey(fmt.Sprintf("row-%d", i), "col")
				ldo, err := allocator.Allocate(objSize)
				if err != nil {
					return fmt.Errorf("allocate object %d: %w", i, err)
				}
				if err := ldo.ModifyUserSizes(0, objSize); err != nil {
					return err
				}
				copy(ldo.Data(), payload)
				if err := local.Publish(ctx, key, ldo); err != nil {
					return fmt.Errorf("publish %d: %w", i, err)
				}
			}
			publishElapsed := time.Since(start)

			start = time.Now()
			for i := 0; i < n; i++ {
				key := faodel.NewKey(fmt.Sprintf("row-%d", i), "col")
				got, err := local.GetUnbounded(ctx, key)
				if err != nil {
					return fmt.Errorf("get %d: %w", i, err)
				}
				got.Free()
			}
			getElapsed := time.Since(start)

			logging.Op().Info("bench run complete",
				"count", n, "object_size", objSize,
				"publish_elapsed", publishElapsed, "get_elapsed", getElapsed,
				"publish_per_sec", opsPerSec(n, publishElapsed),
				"get_per_sec", opsPerSec(n, getElapsed))
			fmt.Printf("publish: %d objects in %s (%.0f ops/sec)\n", n, publishElapsed, opsPerSec(n, publishElapsed))
			fmt.Printf("get:     %d objects in %s (%.0f ops/sec)\n", n, getElapsed, opsPerSec(n, getElapsed))
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "count", 1000, "number of objects to publish and read back")
	cmd.Flags().IntVar(&objSize, "object-size", 256, "payload size in bytes")
	cmd.Flags().StringVar(&bucket, "bucket", "", "optional bucket name (hashed into a faodel.Bucket)")
	cmd.Flags().StringVar(&iomKind, "iom", "", "optional persistence backend to publish through: redis, pg, or s3 (unset = LKV only)")
	return cmd
}

func opsPerSec(n int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(n) / elapsed.Seconds()
}

func snapshotCmd() *cobra.Command {
	var path string
	var data string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Round-trip a DataObject through a file and verify it reads back unchanged",
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			allocator := lunasa.NewPlainAllocator("kelpie-bench-snapshot")
			ldo, err := allocator.Allocate(len(data))
			if err != nil {
				return err
			}
			defer ldo.Free()
			if err := ldo.ModifyUserSizes(0, len(data)); err != nil {
				return err
			}
			copy(ldo.Data(), data)

			if err := ldo.WriteFile(path); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}
			defer os.Remove(path)

			fileHash, err := fsutil.HashFile(path)
			if err != nil {
				return fmt.Errorf("hash snapshot file: %w", err)
			}

			loaded, err := lunasa.LoadDataObjectFromFile(path, allocator)
			if err != nil {
				return fmt.Errorf("reload snapshot: %w", err)
			}
			defer loaded.Free()

			if lunasa.DeepCompare(ldo, loaded) != 0 {
				return fmt.Errorf("snapshot round trip mismatch: wrote %q, read back %q", ldo.Data(), loaded.Data())
			}

			dataHash := crypto.HashString(string(loaded.Data()))
			fmt.Printf("snapshot ok: %s (file sha256[:16]=%s, data sha256[:16]=%s)\n", path, fileHash, dataHash)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "/tmp/kelpie-bench-snapshot.ldo", "file path for the snapshot round trip")
	cmd.Flags().StringVar(&data, "data", "hello kelpie", "payload string to snapshot")
	return cmd
}
