package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cradlevm/cradle/types"
)

var setCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set [flags] NAME",
		Short: "Update settings of a stopped VM",
		Long: "Set updates CPU count, memory, display resolution, or disk size of a\n" +
			"stopped VM. Disk size can only grow; the filesystem inside the guest\n" +
			"must be expanded separately.",
		Args: cobra.ExactArgs(1),
		RunE: runSet,
	}
	cmd.Flags().Int("cpu", 0, "new CPU count")
	cmd.Flags().String("memory", "", "new memory size")
	cmd.Flags().String("disk-size", "", "new disk size (grow only)")
	cmd.Flags().String("display", "", "new display resolution WIDTHxHEIGHT")
	cmd.Flags().String("storage", "", "storage location name or path")
	return cmd
}()

func runSet(cmd *cobra.Command, args []string) error {
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

	if cpu, _ := cmd.Flags().GetInt("cpu"); cpu > 0 {
		if err := v.SetCPU(cpu); err != nil {
			return err
		}
	}
	if memStr, _ := cmd.Flags().GetString("memory"); memStr != "" {
		memory, err := sizeFlag(cmd, "memory")
		if err != nil {
			return err
		}
		if err := v.SetMemory(memory); err != nil {
			return err
		}
	}
	if diskStr, _ := cmd.Flags().GetString("disk-size"); diskStr != "" {
		diskSize, err := sizeFlag(cmd, "disk-size")
		if err != nil {
			return err
		}
		if err := v.SetDiskSize(diskSize); err != nil {
			return err
		}
	}
	if displayStr, _ := cmd.Flags().GetString("display"); displayStr != "" {
		display, err := types.ParseResolution(displayStr)
		if err != nil {
			return err
		}
		if err := v.SetDisplay(display); err != nil {
			return err
		}
	}
	return nil
}
