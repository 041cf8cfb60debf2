package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-loop/internal/model"
	"github.com/rcliao/agent-loop/internal/queue"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Queue intents from JSON",
		Long:  "Queue a JSON array of intents from a file or stdin. Intents whose ID is already queued are skipped.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 && args[0] != "-" {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read input", err)
	}

	var intents []model.Intent
	if err := json.Unmarshal(data, &intents); err != nil {
		exitErr("parse json", err)
	}

	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	imported, skipped := 0, 0
	for _, in := range intents {
		_, err := a.queue.Enqueue(in)
		switch {
		case err == nil:
			imported++
		case errors.Is(err, queue.ErrDuplicateIntent):
			skipped++
		default:
			exitErr(fmt.Sprintf("import %q", in.ID), err)
		}
	}

	fmt.Printf(`{"ok":true,"imported":%d,"skipped":%d}`+"\n", imported, skipped)
}
