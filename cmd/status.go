package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parlaybot/parlay/internal/daemon"
	"github.com/parlaybot/parlay/internal/output"
)

var statusProblemLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bot status and recent problems",
	Long: `Show whether the bot is running, how many conversation rounds it has
recorded, and the most recent escalated problems.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusRun()
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusProblemLimit, "problems", 5, "How many recent problems to show")
	rootCmd.AddCommand(statusCmd)
}

func statusRun() error {
	pf := daemon.NewPIDFile(viper.GetString("pid_path"))
	state := "stopped"
	pid, running := pf.IsRunning()
	if running {
		state = "running"
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	rounds, err := s.CountRounds(ctx)
	if err != nil {
		return err
	}

	ui.Info("Bot: %s", output.DaemonColor(state))
	if running {
		ui.Info("PID: %d", pid)
	}
	ui.Info("Recorded rounds: %s", output.Cyan(fmt.Sprintf("%d", rounds)))

	problems, err := s.ListProblems(ctx, statusProblemLimit)
	if err != nil {
		return err
	}
	if len(problems) == 0 {
		ui.Success("No problems recorded")
		return nil
	}

	fmt.Fprintln(ui.Out)
	table := ui.Table([]string{"When", "Kind", "Problem"})
	for _, p := range problems {
		table.Append([]string{
			p.OccurredAt.Local().Format("2006-01-02 15:04:05"),
			output.ProblemColor(p.Kind),
			p.Message,
		})
	}
	table.Render()
	return nil
}
