package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var inspectCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [flags] NAME",
		Short: "Show detailed VM info (JSON)",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
	cmd.Flags().String("storage", "", "storage location name or path")
	return cmd
}()

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	ctrl, err := initController()
	if err != nil {
		return err
	}
	storageLoc, _ := cmd.Flags().GetString("storage")

	v, err := ctrl.Get(ctx, args[0], storageLoc)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v.Details(ctx))
}
