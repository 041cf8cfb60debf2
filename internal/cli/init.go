package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-loop/internal/config"
	"github.com/rcliao/agent-loop/internal/schemas"
)

// schemaDir holds copies of the intent schemas for out-of-band writers.
const schemaDir = "schemas"

func init() {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file and the intent schemas",
		Run:   runInit,
	}

	cmd.Flags().Bool("force", false, "Overwrite an existing config")

	RootCmd.AddCommand(cmd)
}

func runInit(cmd *cobra.Command, args []string) {
	force, _ := cmd.Flags().GetBool("force")
	path := getConfigPath()

	if _, err := os.Stat(path); err == nil && !force {
		exitErr("init", fmt.Errorf("%s already exists (use --force)", path))
	}
	if err := config.DefaultConfig().Save(path); err != nil {
		exitErr("init", err)
	}
	fmt.Println(path)

	written, err := writeSchemas(filepath.Join(getRoot(), schemaDir))
	if err != nil {
		exitErr("write schemas", err)
	}
	for _, p := range written {
		fmt.Println(p)
	}
}

// writeSchemas copies every embedded schema into dir and returns the paths
// in name order.
func writeSchemas(dir string) ([]string, error) {
	all, err := schemas.List()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(all))
	for n := range all {
		names = append(names, n)
	}
	sort.Strings(names)

	paths := make([]string, 0, len(names))
	for _, n := range names {
		p := filepath.Join(dir, n+".schema.json")
		if err := os.WriteFile(p, all[n], 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}
