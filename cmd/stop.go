package cmd

import (
	"github.com/spf13/cobra"
)

var stopCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop [flags] NAME",
		Short: "Stop a running VM",
		Args:  cobra.ExactArgs(1),
		RunE:  runStop,
	}
	cmd.Flags().String("storage", "", "storage location name or path")
	cmd.Flags().Bool("force-clear-lock", false, "clear a stale lock left by a dead process")
	return cmd
}()

func runStop(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	ctrl, err := initController()
	if err != nil {
		return err
	}
	storageLoc, _ := cmd.Flags().GetString("storage")
	if forceClear, _ := cmd.Flags().GetBool("force-clear-lock"); forceClear {
		return ctrl.ForceClearLock(ctx, args[0], storageLoc)
	}
	return ctrl.Stop(ctx, args[0], storageLoc)
}
