package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	errIndexDisabled = errors.New("event index is disabled (store.index: false)")
	errNeedIntent    = errors.New("--intent is required")
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show event index statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	idx := a.store.Index()
	if idx == nil {
		exitErr("stats", errIndexDisabled)
	}
	stats, err := idx.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}
	printJSON(stats)
}
