package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-loop/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "events [text]",
		Short: "Search the event log",
		Long:  "List events newest first. Text matches against the error, note and action of each event.",
		Run:   runEvents,
	}

	cmd.Flags().Uint64("since-cycle", 0, "Only events from this cycle on")
	cmd.Flags().StringP("intent", "i", "", "Only events for this intent ID")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Bool("artifacts", false, "With --intent, list the files the intent wrote instead")

	RootCmd.AddCommand(cmd)
}

func runEvents(cmd *cobra.Command, args []string) {
	since, _ := cmd.Flags().GetUint64("since-cycle")
	intent, _ := cmd.Flags().GetString("intent")
	limit, _ := cmd.Flags().GetInt("limit")
	artifacts, _ := cmd.Flags().GetBool("artifacts")

	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	if artifacts {
		idx := a.store.Index()
		if idx == nil {
			exitErr("artifacts", errIndexDisabled)
		}
		if intent == "" {
			exitErr("artifacts", errNeedIntent)
		}
		files, err := idx.Artifacts(cmd.Context(), intent)
		if err != nil {
			exitErr("artifacts", err)
		}
		if files == nil {
			files = []store.Artifact{}
		}
		printJSON(files)
		return
	}

	results, err := a.store.SearchEvents(cmd.Context(), store.EventQuery{
		SinceCycle: since,
		IntentRef:  intent,
		Text:       strings.Join(args, " "),
		Limit:      limit,
	})
	if err != nil {
		exitErr("events", err)
	}
	if len(results) == 0 {
		fmt.Println("[]")
		return
	}
	printJSON(results)
}
