package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var locationCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "location",
		Short: "Manage named storage locations",
	}
	cmd.AddCommand(locationListCmd, locationAddCmd, locationRemoveCmd, locationDefaultCmd)
	return cmd
}()

var locationListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered storage locations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := commandContext(cmd)
		ctrl, err := initController()
		if err != nil {
			return err
		}
		locations, def, err := ctrl.Layout().Locations(ctx)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(locations))
		for n := range locations {
			names = append(names, n)
		}
		sort.Strings(names)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "NAME\tPATH\tDEFAULT")
		for _, n := range names {
			mark := ""
			if n == def {
				mark = "*"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", n, locations[n], mark)
		}
		w.Flush() //nolint:errcheck,gosec
		return nil
	},
}

var locationAddCmd = &cobra.Command{
	Use:   "add NAME PATH",
	Short: "Register a storage location",
	Args:  cobra.ExactArgs(2), //nolint:mnd
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		ctrl, err := initController()
		if err != nil {
			return err
		}
		return ctrl.Layout().AddLocation(ctx, args[0], args[1])
	},
}

var locationRemoveCmd = &cobra.Command{
	Use:     "remove NAME",
	Aliases: []string{"rm"},
	Short:   "Unregister a storage location (directory is kept)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		ctrl, err := initController()
		if err != nil {
			return err
		}
		return ctrl.Layout().RemoveLocation(ctx, args[0])
	},
}

var locationDefaultCmd = &cobra.Command{
	Use:   "default NAME",
	Short: "Set the default storage location",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		ctrl, err := initController()
		if err != nil {
			return err
		}
		return ctrl.Layout().SetDefaultLocation(ctx, args[0])
	},
}
