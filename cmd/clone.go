package cmd

import (
	"github.com/spf13/cobra"
)

var cloneCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clone [flags] SOURCE DEST",
		Short: "Clone a stopped VM with fresh identity",
		Args:  cobra.ExactArgs(2), //nolint:mnd
		RunE:  runClone,
	}
	cmd.Flags().String("source-storage", "", "source storage location")
	cmd.Flags().String("dest-storage", "", "destination storage location")
	return cmd
}()

func runClone(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	ctrl, err := initController()
	if err != nil {
		return err
	}
	srcStorage, _ := cmd.Flags().GetString("source-storage")
	dstStorage, _ := cmd.Flags().GetString("dest-storage")
	return ctrl.Clone(ctx, args[0], args[1], srcStorage, dstStorage)
}
