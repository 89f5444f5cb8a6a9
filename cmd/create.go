package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cradlevm/cradle/controller"
	"github.com/cradlevm/cradle/types"
)

var createCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create [flags] NAME",
		Short: "Create a new VM",
		Args:  cobra.ExactArgs(1),
		RunE:  runCreate,
	}
	cmd.Flags().String("os", "linux", "guest OS (macos or linux)")
	cmd.Flags().Int("cpu", 2, "CPU count")                          //nolint:mnd
	cmd.Flags().String("memory", "4G", "memory size")               //nolint:mnd
	cmd.Flags().String("disk-size", "40G", "disk size")             //nolint:mnd
	cmd.Flags().String("display", "1024x768", "display resolution") //nolint:mnd
	cmd.Flags().String("ipsw", "", "restore image path (macOS only)")
	cmd.Flags().String("storage", "", "storage location name or path")
	return cmd
}()

func runCreate(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	ctrl, err := initController()
	if err != nil {
		return err
	}

	osStr, _ := cmd.Flags().GetString("os")
	osFlavor, err := types.ParseOS(osStr)
	if err != nil {
		return err
	}
	cpu, _ := cmd.Flags().GetInt("cpu")
	memory, err := sizeFlag(cmd, "memory")
	if err != nil {
		return err
	}
	diskSize, err := sizeFlag(cmd, "disk-size")
	if err != nil {
		return err
	}
	displayStr, _ := cmd.Flags().GetString("display")
	display, err := types.ParseResolution(displayStr)
	if err != nil {
		return err
	}
	ipsw, _ := cmd.Flags().GetString("ipsw")
	storageLoc, _ := cmd.Flags().GetString("storage")

	return ctrl.Create(ctx, controller.CreateOptions{
		Name:         args[0],
		OS:           osFlavor,
		CPU:          cpu,
		Memory:       memory,
		DiskSize:     diskSize,
		Display:      display,
		RestoreImage: ipsw,
		Storage:      storageLoc,
	})
}
