package cmd

import (
	"fmt"
	"sync"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/cradlevm/cradle/controller"
	"github.com/cradlevm/cradle/images"
	"github.com/cradlevm/cradle/types"
	"github.com/cradlevm/cradle/vm"
)

// initController wires a Controller from the loaded configuration.
func initController() (*controller.Controller, error) {
	ctrl, err := controller.New(conf, vm.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("init controller: %w", err)
	}
	return ctrl, nil
}

// sizeFlag parses a human-readable size flag like "8G" or "512M".
func sizeFlag(cmd *cobra.Command, name string) (int64, error) {
	s, _ := cmd.Flags().GetString(name)
	bytes, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s %q: %w", name, s, err)
	}
	return bytes, nil
}

// sharedDirFlags parses repeated --shared-dir host[:tag[:ro|rw]] flags.
func sharedDirFlags(cmd *cobra.Command) ([]types.SharedDirectory, error) {
	raw, _ := cmd.Flags().GetStringArray("shared-dir")
	dirs := make([]types.SharedDirectory, 0, len(raw))
	for _, r := range raw {
		sd, err := types.ParseSharedDirectory(r)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, sd)
	}
	return dirs, nil
}

// progressPrinter writes pull progress to stdout as a percentage. Safe for
// concurrent layer completions.
func progressPrinter() images.ProgressFunc {
	var (
		mu   sync.Mutex
		last int64 = -1
	)
	return func(downloaded, total int64) {
		if total <= 0 {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		pct := downloaded * 100 / total //nolint:mnd
		if pct == last {
			return
		}
		last = pct
		fmt.Printf("\rDownloading... %3d%% (%s / %s)", pct,
			units.HumanSize(float64(downloaded)), units.HumanSize(float64(total)))
		if pct >= 100 { //nolint:mnd
			fmt.Println()
		}
	}
}

func formatSize(bytes int64) string {
	return units.HumanSize(float64(bytes))
}
