package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the event index from the log",
		Run:   runReindex,
	}

	RootCmd.AddCommand(cmd)
}

func runReindex(cmd *cobra.Command, args []string) {
	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	if a.store.Index() == nil {
		exitErr("reindex", errIndexDisabled)
	}
	n, err := a.store.Reindex(cmd.Context())
	if err != nil {
		exitErr("reindex", err)
	}
	fmt.Printf(`{"ok":true,"indexed":%d}`+"\n", n)
}
