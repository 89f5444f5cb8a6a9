package cmd

import (
	"github.com/spf13/cobra"
)

var deleteCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete [flags] NAME",
		Aliases: []string{"rm"},
		Short:   "Delete a VM, stopping it first if running",
		Args:    cobra.ExactArgs(1),
		RunE:    runDelete,
	}
	cmd.Flags().String("storage", "", "storage location name or path")
	return cmd
}()

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	ctrl, err := initController()
	if err != nil {
		return err
	}
	storageLoc, _ := cmd.Flags().GetString("storage")
	return ctrl.Delete(ctx, args[0], storageLoc)
}
