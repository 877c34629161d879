package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vigilsec/vigil/pkg/engine"
)

var idUpdateCmd = &cobra.Command{
	Use:   "id-update OLD NEW",
	Short: "Rename a stakeholder id across every collection",
	Long: `Rename a stakeholder: the request and tally are duplicated under
the new id and the old ones deleted, owner fields are rewritten in hosts,
scan documents, snapshots, reports, and tickets (each ticket gets a CHANGED
event recording the move), and parent requests' children lists are updated.

The rename is refused when the destination id already exists.

Exit codes: 0 on success, -1 on error, -2 on user abort.`,
	Args: cobra.ExactArgs(2),
	Run:  runIDUpdate,
}

func init() {
	idUpdateCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	rootCmd.AddCommand(idUpdateCmd)
}

func runIDUpdate(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()
	oldOwner, newOwner := args[0], args[1]

	skipConfirm, _ := cmd.Flags().GetBool("yes")
	if !skipConfirm && !confirm(fmt.Sprintf("Rename owner %q to %q? This rewrites every collection. [y/N] ", oldOwner, newOwner)) {
		fmt.Println("Aborted")
		os.Exit(-2)
	}

	store, err := openStore(ctx, cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(-1)
	}
	defer store.Close(ctx)

	counts, err := engine.New(store).RenameOwner(ctx, oldOwner, newOwner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(-1)
	}

	fmt.Printf("✓ Renamed %s to %s\n", oldOwner, newOwner)
	collections := make([]string, 0, len(counts))
	for collection := range counts {
		collections = append(collections, collection)
	}
	sort.Strings(collections)
	for _, collection := range collections {
		fmt.Printf("  %s: %d documents\n", collection, counts[collection])
	}
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
