package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-loop/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "enqueue [text]",
		Short: "Queue an intent",
		Long: "Queue an intent for the running loop. Free text can be a positional arg or piped via stdin; " +
			"otherwise the record is built from flags, or given whole with --details.",
		Run: runEnqueue,
	}

	cmd.Flags().StringP("type", "t", "", "Intent type: create_agent, create_room, create_tool (monetize, generate_tool), evolve_ui")
	cmd.Flags().String("id", "", "Intent ID (default: a new ULID)")
	cmd.Flags().StringP("name", "n", "", "Entity name")
	cmd.Flags().StringP("purpose", "p", "", "Purpose (agents and tools)")
	cmd.Flags().String("theme", "", "Room theme")
	cmd.Flags().StringSlice("colors", nil, "Room colors as #rrggbb")
	cmd.Flags().String("target", "", "UI enhancement target")
	cmd.Flags().String("kind", "", "UI enhancement type")
	cmd.Flags().String("details", "", "Details as a JSON record")

	cmd.MarkFlagRequired("type")

	RootCmd.AddCommand(cmd)
}

func runEnqueue(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	id, _ := cmd.Flags().GetString("id")
	raw, _ := cmd.Flags().GetString("details")

	details, err := enqueueDetails(cmd, args, raw)
	if err != nil {
		exitErr("enqueue", err)
	}

	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	in, err := a.queue.Enqueue(model.Intent{ID: id, Type: typ, Details: details})
	if err != nil {
		exitErr("enqueue", err)
	}

	b, _ := json.Marshal(in)
	fmt.Println(string(b))
}

func enqueueDetails(cmd *cobra.Command, args []string, raw string) (json.RawMessage, error) {
	if raw != "" {
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("--details is not valid JSON")
		}
		return json.RawMessage(raw), nil
	}

	var text string
	if len(args) > 0 {
		text = strings.Join(args, " ")
	} else if stat, err := os.Stdin.Stat(); err == nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		text = string(b)
	}
	if text = strings.TrimSpace(text); text != "" {
		return model.TextDetails(text), nil
	}

	rec := map[string]any{}
	for flag, key := range map[string]string{
		"name": "name", "purpose": "purpose", "theme": "theme",
		"target": "target", "kind": "type",
	} {
		if v, _ := cmd.Flags().GetString(flag); v != "" {
			rec[key] = v
		}
	}
	if colors, _ := cmd.Flags().GetStringSlice("colors"); len(colors) > 0 {
		rec["colors"] = colors
	}
	if len(rec) == 0 {
		return nil, nil
	}
	return model.RecordDetails(rec)
}
