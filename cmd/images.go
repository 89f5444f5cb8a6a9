package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "List locally cached images",
	RunE:  runImages,
}

func runImages(cmd *cobra.Command, _ []string) error {
	ctrl, err := initController()
	if err != nil {
		return err
	}
	imgs, err := ctrl.GetImages()
	if err != nil {
		return err
	}
	if len(imgs) == 0 {
		fmt.Println("No cached images.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "REPOSITORY\tTAG\tMANIFEST\tSIZE")
	for _, img := range imgs {
		manifest := img.ManifestID
		if len(manifest) > 19 { //nolint:mnd
			manifest = manifest[:19]
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			img.Repository, img.Tag, manifest, formatSize(img.Size))
	}
	w.Flush() //nolint:errcheck,gosec
	return nil
}
