package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigilsec/vigil/pkg/balancer"
	"github.com/vigilsec/vigil/pkg/engine"
	"github.com/vigilsec/vigil/pkg/metrics"
)

var commanderCmd = &cobra.Command{
	Use:   "commander",
	Short: "Run the orchestration loop",
	Long: `Run the orchestrator: requeue hosts due for rescan, expire lapsed
false positives, and balance the fleet on a fixed interval, honoring pause
requests between cycles. Prometheus metrics and health endpoints are served
while the loop runs.`,
	RunE: runCommander,
}

func init() {
	commanderCmd.Flags().Duration("interval", 30*time.Second, "Delay between cycles")
	commanderCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for metrics and health endpoints")

	rootCmd.AddCommand(commanderCmd)
}

func runCommander(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	interval, _ := cmd.Flags().GetDuration("interval")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	store, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer store.Close(ctx)

	metrics.SetVersion(Version)
	metrics.RegisterComponent("store", true, "connected")
	metrics.RegisterComponent("commander", true, "running")

	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	httpSrv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
		}
	}()
	defer httpSrv.Close()

	eng := engine.New(store)
	bal := balancer.New(store)

	// Hosts left RUNNING by a previous orchestrator are orphans.
	requeued, err := eng.RequeueRunningHosts(ctx, "")
	if err != nil {
		return fmt.Errorf("requeueing orphaned hosts: %w", err)
	}
	if requeued > 0 {
		fmt.Printf("✓ Requeued %d orphaned RUNNING hosts\n", requeued)
	}

	fmt.Printf("Commander is running (interval %s). Press Ctrl+C to stop.\n", interval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		paused, err := eng.ShouldCommanderPause(ctx, true)
		if err != nil {
			metrics.UpdateComponent("commander", false, err.Error())
			fmt.Fprintf(os.Stderr, "pause check failed: %v\n", err)
		} else if paused {
			metrics.UpdateComponent("commander", true, "paused")
			fmt.Println("Paused by operator request")
		} else {
			metrics.UpdateComponent("commander", true, "running")
			if _, err := eng.CheckHostNextScans(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "rescan sweep failed: %v\n", err)
			}
			if _, err := eng.ExpireFalsePositives(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "false-positive expiry failed: %v\n", err)
			}
			if err := bal.Balance(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "balance pass failed: %v\n", err)
			}
		}

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
