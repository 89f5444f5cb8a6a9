package cmd

import (
	"github.com/spf13/cobra"
)

var pullCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull [flags] IMAGE:TAG",
		Short: "Pull a VM image from the registry",
		Args:  cobra.ExactArgs(1),
		RunE:  runPull,
	}
	cmd.Flags().String("name", "", "VM name (default: image_tag)")
	cmd.Flags().String("storage", "", "storage location name or path")
	return cmd
}()

func runPull(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	ctrl, err := initController()
	if err != nil {
		return err
	}
	vmName, _ := cmd.Flags().GetString("name")
	storageLoc, _ := cmd.Flags().GetString("storage")
	return ctrl.PullImage(ctx, args[0], vmName, storageLoc, progressPrinter())
}
