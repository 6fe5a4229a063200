package cmd

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parlaybot/parlay/internal/daemon"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running bot",
	Long: `Stop a running bot by sending it a termination signal.

The bot observes the signal at the top of its next tick and shuts down
cooperatively: the backend session is closed and the game session is
logged out before the process exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopRun()
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func stopRun() error {
	pf := daemon.NewPIDFile(viper.GetString("pid_path"))

	pid, running := pf.IsRunning()
	if !running {
		ui.Info("No bot is running.")
		return nil
	}

	if err := pf.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal bot process %d: %w", pid, err)
	}

	ui.Success("Stop requested for bot process %d", pid)
	return nil
}
