package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List VMs across all storage locations",
		RunE:    runList,
	}
	cmd.Flags().String("storage", "", "only list this storage location")
	return cmd
}()

func runList(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	ctrl, err := initController()
	if err != nil {
		return err
	}
	storageLoc, _ := cmd.Flags().GetString("storage")

	details, err := ctrl.List(ctx, storageLoc)
	if err != nil {
		return err
	}
	if len(details) == 0 {
		fmt.Println("No VMs found.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tOS\tCPU\tMEMORY\tDISK\tDISPLAY\tSTATUS\tLOCATION\tIP")
	for _, d := range details {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s/%s\t%s\t%s\t%s\t%s\n",
			d.Name,
			d.OS,
			d.CPUCount,
			formatSize(d.MemorySize),
			formatSize(d.DiskSize.Allocated),
			formatSize(d.DiskSize.Total),
			d.Display,
			d.Status,
			d.LocationName,
			d.IPAddress,
		)
	}
	w.Flush() //nolint:errcheck,gosec
	return nil
}
