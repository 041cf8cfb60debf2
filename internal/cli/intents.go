package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "intents",
		Short: "List queued intents",
		Run:   runIntents,
	}

	cmd.Flags().BoolP("all", "a", false, "Include executed intents")
	cmd.Flags().IntP("limit", "l", 0, "Max pending intents (0 for all)")
	cmd.Flags().Bool("ids-only", false, "Only output intent IDs")

	RootCmd.AddCommand(cmd)
}

func runIntents(cmd *cobra.Command, args []string) {
	all, _ := cmd.Flags().GetBool("all")
	limit, _ := cmd.Flags().GetInt("limit")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	intents, err := a.queue.Pending(limit)
	if all {
		intents, err = a.queue.All()
	}
	if err != nil {
		exitErr("intents", err)
	}

	if idsOnly {
		for _, in := range intents {
			fmt.Println(in.ID)
		}
		return
	}
	printJSON(intents)
}
