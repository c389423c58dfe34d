package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/ordb/internal/util"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "ordb",
		Short: "Deduplicate and organize file trees, resumably",
		Long: `ordb ingests arbitrary directory trees, deduplicates them by content,
classifies and dates what survives, and copies every unique file into an
organized destination tree. Every step is recorded in a state database so an
interrupted run picks up where it stopped.

Originals are never touched by 'run'. 'commit' moves them into a recoverable
trash directory, 'rollback' undoes a run, 'purge' empties the trash.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.SetVerbose(viper.GetBool("verbose"))
			util.SetQuiet(viper.GetBool("quiet"))
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/ordb.yaml)")
	rootCmd.PersistentFlags().String("db", "ordb-state.db", "state database file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")

	// Bind flags to viper
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))

	setDefaults()
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in common locations
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.SetConfigName("ordb")
		viper.SetConfigType("yaml")
	}

	// Read in environment variables that match
	viper.SetEnvPrefix("ORDB")
	viper.AutomaticEnv()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil && !viper.GetBool("quiet") {
		util.InfoLog("Using config file: %s", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
