package cmd

import (
	"context"
	"fmt"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cradlevm/cradle/config"
)

var (
	cfgFile string
	conf    *config.Config
)

var rootCmd *cobra.Command

func init() {
	cmd := &cobra.Command{
		Use:   "cradle",
		Short: "Cradle - VM lifecycle manager",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return initConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.PersistentFlags().String("root-dir", "", "root data directory")
	cmd.PersistentFlags().String("cache-dir", "", "image cache directory")
	cmd.PersistentFlags().String("registry", "", "default registry host")
	cmd.PersistentFlags().String("organization", "", "default registry organization")
	cmd.PersistentFlags().Bool("no-cache", false, "disable the local image cache")

	_ = viper.BindPFlag("root_dir", cmd.PersistentFlags().Lookup("root-dir"))
	_ = viper.BindPFlag("cache_dir", cmd.PersistentFlags().Lookup("cache-dir"))
	_ = viper.BindPFlag("registry", cmd.PersistentFlags().Lookup("registry"))
	_ = viper.BindPFlag("organization", cmd.PersistentFlags().Lookup("organization"))

	viper.SetEnvPrefix("CRADLE")
	viper.AutomaticEnv()

	cmd.AddCommand(
		createCmd,
		runCmd,
		stopCmd,
		listCmd,
		inspectCmd,
		deleteCmd,
		cloneCmd,
		setCmd,
		pullCmd,
		pushCmd,
		imagesCmd,
		pruneCmd,
		locationCmd,
		versionCmd,
	)

	rootCmd = cmd
}

func initConfig() error {
	conf = config.DefaultConfig()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	_ = viper.ReadInConfig() // optional; missing file is OK

	if err := viper.Unmarshal(conf); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if noCache, _ := rootCmd.PersistentFlags().GetBool("no-cache"); noCache {
		conf.CacheEnabled = false
	}
	if conf.StopTimeoutSeconds <= 0 {
		conf.StopTimeoutSeconds = 10 //nolint:mnd
	}
	if conf.PullConcurrency <= 0 {
		conf.PullConcurrency = 5 //nolint:mnd
	}

	return log.SetupLog(context.Background(), &conf.Log, "")
}

// Execute is the main entry point called from main.go.
func Execute() error {
	ctx, cancel := signalContext()
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}
