package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cradlevm/cradle/images"
)

var pushCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push [flags] NAME IMAGE TAG [TAG...]",
		Short: "Push a stopped VM to the registry under one or more tags",
		Args:  cobra.MinimumNArgs(3), //nolint:mnd
		RunE:  runPush,
	}
	cmd.Flags().Int("chunk-size-mb", 0, "disk split size in MB (default from config)")
	cmd.Flags().Bool("dry-run", false, "stage and report the upload plan without uploading")
	cmd.Flags().String("storage", "", "storage location name or path")
	return cmd
}()

func runPush(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	ctrl, err := initController()
	if err != nil {
		return err
	}
	chunkSize, _ := cmd.Flags().GetInt("chunk-size-mb")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	storageLoc, _ := cmd.Flags().GetString("storage")

	return ctrl.PushImage(ctx, args[0], args[1], args[2:], storageLoc, images.PushOptions{
		ChunkSizeMB: chunkSize,
		DryRun:      dryRun,
	})
}
