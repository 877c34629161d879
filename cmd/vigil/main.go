package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigilsec/vigil/pkg/balancer"
	"github.com/vigilsec/vigil/pkg/config"
	"github.com/vigilsec/vigil/pkg/engine"
	"github.com/vigilsec/vigil/pkg/log"
	"github.com/vigilsec/vigil/pkg/storage"
	"github.com/vigilsec/vigil/pkg/storage/mongo"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "Vigil - Continuous vulnerability scanning orchestrator",
	Long: `Vigil tracks every in-scope host through a fixed scanning pipeline,
balances scanner load across stakeholders, schedules rescans by risk,
and maintains the resulting vulnerability tickets and report snapshots.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Vigil version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "/etc/vigil/vigil.yml", "Configuration file")
	rootCmd.PersistentFlags().String("section", "", "Configuration section (default section when empty)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("json-log", false, "Emit JSON log lines instead of console output")

	// Add subcommands
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(ensureIndicesCmd)
}

// openStore resolves the configured document store for a command.
func openStore(ctx context.Context, cmd *cobra.Command) (storage.Store, error) {
	logLevel, _ := cmd.Flags().GetString("log-level")
	jsonLog, _ := cmd.Flags().GetBool("json-log")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: jsonLog})

	configFile, _ := cmd.Flags().GetString("config")
	section, _ := cmd.Flags().GetString("section")

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	sc, err := cfg.Store(section)
	if err != nil {
		return nil, err
	}
	return mongo.Connect(ctx, sc.URI, sc.Name)
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Run one fleet balance pass",
	Long: `Reconcile every stakeholder's READY host counts against its
per-stage concurrency limits, honoring scan windows.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx, cmd)
		if err != nil {
			return err
		}
		defer store.Close(ctx)

		if err := balancer.New(store).Balance(ctx); err != nil {
			return fmt.Errorf("balance pass failed: %w", err)
		}
		fmt.Println("✓ Balance pass complete")
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one orchestrator maintenance pass",
	Long: `One commander-side maintenance pass: honor any pending pause
request, requeue hosts whose scheduled rescan has come due, expire lapsed
false positives, balance the fleet, and report stakeholders ready for a
fresh snapshot.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx, cmd)
		if err != nil {
			return err
		}
		defer store.Close(ctx)

		eng := engine.New(store)

		paused, err := eng.ShouldCommanderPause(ctx, true)
		if err != nil {
			return err
		}
		if paused {
			fmt.Println("Pause requested; skipping sweep")
			return nil
		}

		requeued, err := eng.CheckHostNextScans(ctx)
		if err != nil {
			return fmt.Errorf("rescan sweep failed: %w", err)
		}
		fmt.Printf("✓ Requeued %d hosts due for rescan\n", requeued)

		expired, err := eng.ExpireFalsePositives(ctx)
		if err != nil {
			return fmt.Errorf("false-positive expiry failed: %w", err)
		}
		if expired > 0 {
			fmt.Printf("✓ Expired %d false positives\n", expired)
		}

		if err := balancer.New(store).Balance(ctx); err != nil {
			return fmt.Errorf("balance pass failed: %w", err)
		}
		fmt.Println("✓ Balance pass complete")

		since, _ := cmd.Flags().GetDuration("tally-window")
		var changedAfter time.Time
		if since > 0 {
			changedAfter = time.Now().UTC().Add(-since)
		}
		done, err := eng.DoneScanning(ctx, changedAfter)
		if err != nil {
			return err
		}
		for _, owner := range done {
			fmt.Printf("  %s has finished scanning and needs a snapshot\n", owner)
		}
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the orchestrator",
	Long: `File a pause request aimed at the orchestrator and wait for it to
be acknowledged. An unacknowledged request is withdrawn on timeout or
interrupt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx, cmd)
		if err != nil {
			return err
		}
		defer store.Close(ctx)

		sender, _ := cmd.Flags().GetString("sender")
		if sender == "" {
			sender, _ = os.Hostname()
		}
		reason, _ := cmd.Flags().GetString("reason")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		eng := engine.New(store)
		doc, err := eng.PauseCommander(ctx, sender, reason)
		if err != nil {
			return err
		}
		fmt.Printf("Pause requested (%s); waiting for the orchestrator...\n", doc.ID)

		if err := eng.WaitForControl(ctx, doc.ID, timeout); err != nil {
			if cancelErr := eng.CancelControl(context.WithoutCancel(ctx), doc.ID); cancelErr != nil {
				return fmt.Errorf("withdrawing pause request: %w", cancelErr)
			}
			fmt.Println("Pause request withdrawn")
			return err
		}
		fmt.Println("✓ Orchestrator paused")
		return nil
	},
}

var ensureIndicesCmd = &cobra.Command{
	Use:   "ensure-indices",
	Short: "Create the collection indices",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx, cmd)
		if err != nil {
			return err
		}
		defer store.Close(ctx)

		foreground, _ := cmd.Flags().GetBool("foreground")
		if err := store.EnsureIndices(ctx, foreground); err != nil {
			return fmt.Errorf("creating indices: %w", err)
		}
		fmt.Println("✓ Indices ensured")
		return nil
	},
}

func init() {
	sweepCmd.Flags().Duration("tally-window", 0, "Only consider tallies that changed within this window (0 = all)")

	pauseCmd.Flags().String("sender", "", "Requester identity (defaults to hostname)")
	pauseCmd.Flags().String("reason", "operator pause", "Reason recorded on the request")
	pauseCmd.Flags().Duration("timeout", 2*time.Minute, "How long to wait for acknowledgement")

	ensureIndicesCmd.Flags().Bool("foreground", false, "Build indices in the foreground")
}
