package cli

import (
	"bufio"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the event log",
		Long:  "Write every readable event as newline-delimited JSON. Malformed log lines are skipped.",
		Run:   runExport,
	}

	cmd.Flags().Duration("since", 0, "Only events newer than this (e.g. 24h)")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	since, _ := cmd.Flags().GetDuration("since")

	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	var from time.Time
	if since > 0 {
		from = time.Now().Add(-since)
	}

	w := bufio.NewWriter(os.Stdout)
	enc := json.NewEncoder(w)
	skipped := 0
	for ev, err := range a.store.Events(from) {
		if err != nil {
			skipped++
			continue
		}
		if err := enc.Encode(ev); err != nil {
			exitErr("export", err)
		}
	}
	if err := w.Flush(); err != nil {
		exitErr("export", err)
	}
	if skipped > 0 {
		cmd.PrintErrf("skipped %d malformed lines\n", skipped)
	}
}
