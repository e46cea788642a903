package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/windrose-io/windrose/pkg/api"
	"github.com/windrose-io/windrose/pkg/events"
	"github.com/windrose-io/windrose/pkg/evidence"
	"github.com/windrose-io/windrose/pkg/health"
	"github.com/windrose-io/windrose/pkg/ledger"
	"github.com/windrose-io/windrose/pkg/log"
	"github.com/windrose-io/windrose/pkg/metrics"
	"github.com/windrose-io/windrose/pkg/orchestrator"
	"github.com/windrose-io/windrose/pkg/policy"
	"github.com/windrose-io/windrose/pkg/scheduler"
	"github.com/windrose-io/windrose/pkg/signing"
	"github.com/windrose-io/windrose/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane",
	Long: `Run the Windrose control plane: the lease sweeper, an optional
in-process worker pool and the metrics/health HTTP endpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		httpAddr, _ := cmd.Flags().GetString("http-addr")
		apiAddr, _ := cmd.Flags().GetString("api-addr")
		workers, _ := cmd.Flags().GetInt("workers")
		concurrency, _ := cmd.Flags().GetInt("worker-concurrency")

		fmt.Println("Starting Windrose control plane...")
		fmt.Printf("  Data Directory: %s\n", cfg.DataDir)
		fmt.Printf("  API Address: %s\n", apiAddr)
		fmt.Printf("  HTTP Address: %s\n", httpAddr)
		fmt.Printf("  Workers: %d\n", workers)
		fmt.Println()

		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		metrics.SetVersion(Version)
		metrics.RegisterComponent("store", true, "bolt store open")

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		sched := scheduler.NewScheduler(store, cfg, broker)
		sched.Start()
		defer sched.Stop()
		metrics.RegisterComponent("scheduler", true, "sweeper running")
		fmt.Println("✓ Scheduler started")

		signer := signing.NewSigner(cfg, nil)
		ldg := ledger.New(store, signer, broker)
		metrics.RegisterComponent("ledger", true, "")

		ev, err := evidence.NewStore(cfg.DataDir, cfg.EvidenceRetain)
		if err != nil {
			return err
		}

		guard := policy.NewGuard(cfg)
		coord := orchestrator.NewCoordinator(store, sched, guard, ldg, ev, stubSolver{}, cfg, broker)

		collector := metrics.NewCollector(store)
		collector.Start()
		defer collector.Stop()

		var pool []*orchestrator.Worker
		for i := 0; i < workers; i++ {
			w := orchestrator.NewWorker(orchestrator.WorkerConfig{
				ID:          fmt.Sprintf("worker-%d", i+1),
				Concurrency: concurrency,
			}, coord, sched)
			w.Start()
			pool = append(pool, w)
		}
		if workers > 0 {
			fmt.Printf("✓ %d worker(s) started\n", workers)
		}

		gcStop := startEvidenceGC(ev)
		defer close(gcStop)

		keys := signing.NewKeyManager(store, log.WithComponent("keys"))
		apiServer := api.NewServer(coord, sched, ldg, keys, health.NewEngine(cfg))
		errCh := make(chan error, 2)
		go func() {
			if err := apiServer.Start(apiAddr); err != nil {
				errCh <- fmt.Errorf("API server error: %w", err)
			}
		}()
		fmt.Printf("✓ API on %s\n", apiAddr)

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())
		server := &http.Server{Addr: httpAddr, Handler: mux}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("HTTP server error: %w", err)
			}
		}()
		fmt.Printf("✓ Metrics and health on %s\n", httpAddr)

		fmt.Println()
		fmt.Println("Control plane is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		for _, w := range pool {
			w.Stop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown API server: %w", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("api-addr", "127.0.0.1:8080", "Address for the control-plane API")
	serveCmd.Flags().String("http-addr", "127.0.0.1:9090", "Address for metrics and health endpoints")
	serveCmd.Flags().Int("workers", 0, "In-process workers to run (0 disables)")
	serveCmd.Flags().Int("worker-concurrency", 4, "Jobs each worker holds at once")
}

// startEvidenceGC collects evidence snapshots on a slow cadence until the
// returned channel is closed.
func startEvidenceGC(ev *evidence.Store) chan struct{} {
	stopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := ev.GC(); err != nil {
					fmt.Fprintf(os.Stderr, "evidence GC error: %v\n", err)
				}
			case <-stopCh:
				return
			}
		}
	}()
	return stopCh
}
