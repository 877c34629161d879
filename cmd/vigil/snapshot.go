package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vigilsec/vigil/pkg/engine"
	"github.com/vigilsec/vigil/pkg/snapshot"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot OWNER",
	Short: "Build a report snapshot for a stakeholder",
	Long: `Freeze the stakeholder's current scan results into a snapshot.
Descendant stakeholders are included unless --no-descendants is given;
each descendant also gets its own child snapshot.

Examples:
  # Snapshot an agency and its descendants
  vigil snapshot DHS

  # Snapshot one agency only, kept out of the world rollup
  vigil snapshot DHS --no-descendants --exclude-from-world-stats`,
	Args: cobra.ExactArgs(1),
	RunE: runSnapshot,
}

func init() {
	snapshotCmd.Flags().Bool("no-descendants", false, "Snapshot this owner only")
	snapshotCmd.Flags().Bool("exclude-from-world-stats", false, "Keep the snapshot out of the world rollup")

	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	owner := args[0]

	store, err := openStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer store.Close(ctx)

	noDescendants, _ := cmd.Flags().GetBool("no-descendants")
	excludeWorld, _ := cmd.Flags().GetBool("exclude-from-world-stats")

	var descendants []string
	if !noDescendants {
		descendants, err = engine.New(store).Descendants(ctx, owner)
		if err != nil {
			return err
		}
	}

	builder := snapshot.NewBuilder(store)
	snap, err := builder.Build(ctx, owner, descendants, snapshot.Options{
		ExcludeFromWorldStats: excludeWorld,
	})
	if err != nil {
		return fmt.Errorf("building snapshot for %s: %w", owner, err)
	}
	fmt.Printf("✓ Snapshot %s created for %s\n", snap.ID.Hex(), owner)
	fmt.Printf("  Hosts: %d (%d vulnerable), addresses scanned: %d\n",
		snap.HostCount, snap.VulnerableHostCount, snap.AddressesScanned)

	for _, child := range descendants {
		childSnap, err := builder.Build(ctx, child, nil, snapshot.Options{
			Parent:                snap.ID,
			ExcludeFromWorldStats: excludeWorld,
		})
		if err != nil {
			return fmt.Errorf("building child snapshot for %s: %w", child, err)
		}
		fmt.Printf("✓ Child snapshot %s created for %s\n", childSnap.ID.Hex(), child)
	}
	return nil
}
