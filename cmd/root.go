package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alxdofficial/openclaw-memoriesai/internal/config"
	"github.com/alxdofficial/openclaw-memoriesai/internal/log"
)

var (
	version   = "dev"
	cfgFile   string
	cfg       config.Config
	debugFlag bool
)

var rootCmd = &cobra.Command{
	Use:     "waitkeeperd",
	Short:   "A wait engine for GUI agent task polling",
	Long:    `waitkeeperd watches virtual displays for GUI agent tasks and decides when a task has finished waiting for screen changes, using an adaptive poller, a pixel-diff gate, and a pluggable vision backend.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/waitkeeper/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"enable debug logging (also: WAITKEEPER_DEBUG=1)")
}

func initConfig() {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	cfg = loaded
}

// initLogging sets up the global logger when debug mode is requested via
// flag or environment variable. Returns a no-op cleanup if logging is off.
func initLogging(component string) func() {
	debug := os.Getenv("WAITKEEPER_DEBUG") != "" || debugFlag
	if !debug {
		return func() {}
	}

	logPath := os.Getenv("WAITKEEPER_LOG")
	if logPath == "" {
		logPath = "waitkeeperd.log"
	}

	cleanup, err := log.Init(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing logging: %v\n", err)
		return func() {}
	}
	log.Info(log.CatConfig, component+" starting", "version", version, "logPath", logPath)
	return cleanup
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
