package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parlaybot/parlay/internal/daemon"
	"github.com/parlaybot/parlay/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for inspecting the bot",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an MCP-capable client query the bot's transcripts and problems
while it runs elsewhere. Configure with:

  {
    "mcpServers": {
      "parlay": { "command": "parlay", "args": ["mcp"] }
    }
  }

Available tools: parlay_status, parlay_list_rounds, parlay_list_problems`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		pf := daemon.NewPIDFile(viper.GetString("pid_path"))
		srv := mcp.NewServer(s, pf, buildVersion)
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
