package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show identity, queue depth and recent events",
		Run:   runStatus,
	}

	RootCmd.AddCommand(cmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	sup, notifier := a.supervisor(false)
	defer notifier.Close()

	snap, err := sup.Status(cmd.Context())
	if err != nil {
		exitErr("status", err)
	}
	printJSON(snap)
}
