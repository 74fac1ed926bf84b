package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alxdofficial/openclaw-memoriesai/internal/config"
	"github.com/alxdofficial/openclaw-memoriesai/internal/daemon"
	"github.com/alxdofficial/openclaw-memoriesai/internal/log"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the wait-engine daemon in the foreground",
	Long: `Run the wait-engine daemon: allocates virtual displays on demand, runs
the adaptive wait scheduler against the configured vision backend, persists
task and wait-job history to the journal, and watches for stuck tasks.

The daemon has no network-facing control surface; it is driven entirely by
the journal rows and wait jobs an outer agent process creates.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(_ *cobra.Command, _ []string) error {
	cleanup := initLogging("waitkeeperd daemon")
	defer cleanup()

	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("creating daemon: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config.Watch(&cfg, func(next config.Config) {
		log.Info(log.CatConfig, "config changed; restart the daemon to apply it")
	})

	d.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("waitkeeperd started")
	sig := <-sigCh
	fmt.Printf("\nreceived %s, shutting down...\n", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := d.Shutdown(shutdownCtx); err != nil {
		log.ErrorErr(log.CatConfig, "error shutting down daemon", err)
	}

	fmt.Println("waitkeeperd stopped")
	return nil
}
