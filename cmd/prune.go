package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove all locally cached images",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctrl, err := initController()
		if err != nil {
			return err
		}
		if err := ctrl.PruneImages(); err != nil {
			return err
		}
		fmt.Println("Image cache cleared.")
		return nil
	},
}
