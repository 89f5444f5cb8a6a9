package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cradlevm/cradle/controller"
	"github.com/cradlevm/cradle/vm/backend"
)

var runCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] NAME|IMAGE:TAG",
		Short: "Run a VM, pulling it first if the name is an image reference",
		Long: "Run starts a VM and blocks until it exits. When the argument parses as\n" +
			"an image:tag reference and no local VM matches, the image is pulled and\n" +
			"a VM materialized from it before starting.",
		Args: cobra.ExactArgs(1),
		RunE: runRun,
	}
	cmd.Flags().Bool("no-display", false, "start without a display window")
	cmd.Flags().Int("vnc-port", 0, "VNC port (0 picks a free port)")
	cmd.Flags().Bool("recovery", false, "boot into recovery mode")
	cmd.Flags().String("mount", "", "directory image to attach read-only")
	cmd.Flags().StringArray("shared-dir", nil, "shared directory host[:tag[:ro|rw]], repeatable")
	cmd.Flags().StringArray("usb", nil, "USB device path to pass through, repeatable")
	cmd.Flags().String("storage", "", "storage location name or path")
	return cmd
}()

func runRun(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	ctrl, err := initController()
	if err != nil {
		return err
	}

	sharedDirs, err := sharedDirFlags(cmd)
	if err != nil {
		return err
	}
	noDisplay, _ := cmd.Flags().GetBool("no-display")
	vncPort, _ := cmd.Flags().GetInt("vnc-port")
	recovery, _ := cmd.Flags().GetBool("recovery")
	mount, _ := cmd.Flags().GetString("mount")
	usb, _ := cmd.Flags().GetStringArray("usb")
	storageLoc, _ := cmd.Flags().GetString("storage")

	return ctrl.Run(ctx, args[0], controller.RunOptions{
		StartOptions: backend.StartOptions{
			NoDisplay:         noDisplay,
			VNCPort:           vncPort,
			RecoveryMode:      recovery,
			MountPath:         mount,
			SharedDirectories: sharedDirs,
			USBPaths:          usb,
		},
		Storage:  storageLoc,
		Progress: progressPrinter(),
	})
}
