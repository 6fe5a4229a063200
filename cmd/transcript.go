package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/parlaybot/parlay/internal/output"
)

var transcriptLimit int

var transcriptCmd = &cobra.Command{
	Use:   "transcript",
	Short: "Show recorded conversation rounds",
	Long: `Show the most recent conversation rounds, newest first.

Each round lists the partner, what they said, what the backend replied,
and whether the reply was actually posted or suppressed by the profanity
and echo guards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return transcriptRun()
	},
}

func init() {
	transcriptCmd.Flags().IntVarP(&transcriptLimit, "limit", "l", 20, "Maximum rounds to show")
	rootCmd.AddCommand(transcriptCmd)
}

func transcriptRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	rounds, err := s.ListRounds(context.Background(), transcriptLimit)
	if err != nil {
		return err
	}

	if len(rounds) == 0 {
		ui.Info("No conversation rounds recorded yet.")
		return nil
	}

	table := ui.Table([]string{"When", "Partner", "Message", "Reply", ""})
	for _, r := range rounds {
		table.Append([]string{
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			output.Cyan(r.Partner),
			truncate(r.PlayerMessage, 40),
			truncate(r.Reply, 40),
			output.PostedColor(r.Posted),
		})
	}
	table.Render()
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
