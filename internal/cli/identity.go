package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/rcliao/agent-loop/internal/model"
	"github.com/rcliao/agent-loop/internal/store"
)

func init() {
	identityCmd := &cobra.Command{
		Use:   "identity",
		Short: "Show the persisted identity",
		Run:   runIdentity,
	}

	backupsCmd := &cobra.Command{
		Use:   "backups",
		Short: "List identity backups, oldest first",
		Run:   runBackups,
	}

	rollbackCmd := &cobra.Command{
		Use:   "rollback <backup-id>",
		Short: "Restore the identity from a backup",
		Long:  "Restore the identity from a backup. The live identity is backed up first, so a rollback can itself be undone.",
		Args:  cobra.ExactArgs(1),
		Run:   runRollback,
	}

	RootCmd.AddCommand(identityCmd, backupsCmd, rollbackCmd)
}

func runIdentity(cmd *cobra.Command, args []string) {
	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	id, err := a.store.LoadIdentity()
	if errors.Is(err, store.ErrNotFound) {
		id = model.DefaultIdentity()
	} else if err != nil {
		exitErr("load identity", err)
	}
	printJSON(id)
}

func runBackups(cmd *cobra.Command, args []string) {
	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	backups, err := a.store.Backups()
	if err != nil {
		exitErr("backups", err)
	}
	if backups == nil {
		backups = []store.Backup{}
	}
	printJSON(backups)
}

func runRollback(cmd *cobra.Command, args []string) {
	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.Close()

	id, err := a.store.Rollback(args[0])
	if err != nil {
		exitErr("rollback", err)
	}
	a.logger.Info("identity restored")
	printJSON(id)
}
