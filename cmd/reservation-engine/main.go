// Command reservation-engine serves the reservation HTTP API and the
// supporting background jobs (reaper sweeps, one-shot dev helpers) over
// a configurable Atomic Counter Store and Durable Stock Store.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/invreserve/engine/internal/api"
	"github.com/invreserve/engine/internal/clock"
	"github.com/invreserve/engine/internal/config"
	"github.com/invreserve/engine/internal/engine"
	"github.com/invreserve/engine/internal/obs"
	"github.com/invreserve/engine/internal/reaper"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "reservation-engine",
		Short:         "reservation-engine serves real-time inventory holds over a scripted counter store and a durable stock store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.BindFlags(root.PersistentFlags())

	root.AddCommand(newServeCommand())
	root.AddCommand(newReapCommand())
	root.AddCommand(newSnapshotCommand())
	root.AddCommand(newSeedCommand())
	root.AddCommand(newMirrorOnceCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API and the reaper together",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			acsStore, closeACS, err := openACS(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open counter store: %w", err)
			}
			defer closeACS()

			dssStore, closeDSS, err := openDSS(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open durable store: %w", err)
			}
			defer closeDSS()

			logger := obs.NewLogger()
			metrics := obs.NewMetrics()

			eng := engine.New(acsStore, dssStore, clock.Real{}, engine.Config{
				DefaultHoldTTL:     time.Duration(cfg.DefaultHoldTTLSeconds) * time.Second,
				StrictIDValidation: cfg.StrictIDValidation,
			}, logger, metrics)

			rp := reaper.New(acsStore, clock.Real{}, reaper.Config{
				Interval:  time.Duration(cfg.ReaperIntervalMS) * time.Millisecond,
				BatchSize: cfg.ReaperBatch,
			}, logger, metrics)

			if cfgPath, _ := cmd.Flags().GetString("config"); cfgPath != "" {
				watcher := config.NewWatcher(cfg, cfgPath)
				go func() {
					if err := watcher.Watch(func(next config.Config) {
						eng.SetStrictIDValidation(next.StrictIDValidation)
						logger.Info(map[string]interface{}{"op": "config_reload", "msg": "applied hot-reloadable config"})
					}); err != nil {
						logger.Warn(map[string]interface{}{"op": "config_watch", "error": err.Error()})
					}
				}()
			}

			mux := http.NewServeMux()
			mux.Handle("/", api.NewServer(eng).Handler())
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/debugz", diagHandler)

			srv := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}

			var wg sync.WaitGroup

			wg.Add(1)
			go func() {
				defer wg.Done()
				rp.Run(ctx)
			}()

			wg.Add(1)
			go func() {
				defer wg.Done()
				logger.Info(map[string]interface{}{"op": "listen", "addr": cfg.ListenAddr})
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error(map[string]interface{}{"op": "listen", "error": err.Error()})
					stop()
				}
			}()

			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn(map[string]interface{}{"op": "shutdown", "error": err.Error()})
			}
			wg.Wait()
			return nil
		},
	}
}

func newReapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "run one reaper sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			acsStore, closeACS, err := openACS(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open counter store: %w", err)
			}
			defer closeACS()

			rp := reaper.New(acsStore, clock.Real{}, reaper.Config{
				BatchSize: cfg.ReaperBatch,
			}, obs.NewLogger(), nil)
			rp.SweepOnce(ctx)
			return nil
		},
	}
}

func newSnapshotCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <sku>",
		Short: "print the current total/reserved/available for a sku",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			acsStore, closeACS, err := openACS(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open counter store: %w", err)
			}
			defer closeACS()

			snap, err := acsStore.Snapshot(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("sku=%s total=%d reserved=%d available=%d\n", args[0], snap.Total, snap.Reserved, snap.Available)
			return nil
		},
	}
}

func newSeedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <sku> <total>",
		Short: "set a sku's authoritative total in the durable store (development only)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var total int64
			if _, err := fmt.Sscanf(args[1], "%d", &total); err != nil {
				return fmt.Errorf("invalid total %q: %w", args[1], err)
			}

			dssStore, closeDSS, err := openDSS(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open durable store: %w", err)
			}
			defer closeDSS()

			if err := dssStore.Seed(ctx, args[0], total); err != nil {
				return err
			}
			fmt.Printf("seeded sku=%s total=%d in durable store\n", args[0], total)
			return nil
		},
	}
}

func newMirrorOnceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mirror-once <sku>",
		Short: "copy the durable store's total into the counter store once (development stand-in for the real replicator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			dssStore, closeDSS, err := openDSS(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open durable store: %w", err)
			}
			defer closeDSS()

			acsStore, closeACS, err := openACS(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open counter store: %w", err)
			}
			defer closeACS()

			total, err := dssStore.Total(ctx, args[0])
			if err != nil {
				return err
			}
			if err := acsStore.SeedTotal(ctx, args[0], total); err != nil {
				return err
			}
			fmt.Printf("mirrored sku=%s total=%d into counter store\n", args[0], total)
			return nil
		},
	}
}
