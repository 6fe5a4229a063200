package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parlaybot/parlay/internal/brain"
	"github.com/parlaybot/parlay/internal/chat"
	"github.com/parlaybot/parlay/internal/daemon"
	"github.com/parlaybot/parlay/internal/models"
	"github.com/parlaybot/parlay/internal/profanity"
	"github.com/parlaybot/parlay/internal/routine"
	"github.com/parlaybot/parlay/internal/service"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Log into the game and run the chat bot",
	Long: `Log into the game, select a chat partner, and keep the conversation
going until stopped, until the configured time window runs out, or until an
unresolvable problem occurs.

The bot runs in the foreground; use 'parlay stop' from another terminal or
Ctrl-C to stop it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRun(cmd.Context())
	},
}

func init() {
	runCmd.Flags().String("bot-name", "", "The bot's chat identity (config: bot.name)")
	runCmd.Flags().Duration("focus-timeout", 0, "Idle time before abandoning the partner (config: bot.focus_timeout)")
	runCmd.Flags().Duration("time-window", 0, "Total time budget, 0 runs forever (config: bot.time_window)")
	runCmd.Flags().String("channel", "", "Chat channel: global, world, whisper, direct (config: chat.channel)")
	_ = viper.BindPFlag("bot.name", runCmd.Flags().Lookup("bot-name"))
	_ = viper.BindPFlag("bot.focus_timeout", runCmd.Flags().Lookup("focus-timeout"))
	_ = viper.BindPFlag("bot.time_window", runCmd.Flags().Lookup("time-window"))
	_ = viper.BindPFlag("chat.channel", runCmd.Flags().Lookup("channel"))
	rootCmd.AddCommand(runCmd)
}

func runRun(ctx context.Context) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	botName := viper.GetString("bot.name")
	if botName == "" {
		return fmt.Errorf("bot.name is not configured")
	}
	gameURL := viper.GetString("game.url")
	if gameURL == "" {
		return fmt.Errorf("game.url is not configured")
	}
	username := viper.GetString("game.username")
	password := viper.GetString("game.password")
	if username == "" || password == "" {
		return fmt.Errorf("game credentials are empty, set game.username and game.password")
	}

	// The profanity filter is mandatory; refusing to start without one
	// beats chatting unfiltered.
	var filter profanity.Filter
	var err error
	if wordlist := viper.GetString("bot.wordlist"); wordlist != "" {
		filter, err = profanity.NewFilterFromFile(wordlist)
	} else {
		filter, err = profanity.NewFilter()
	}
	if err != nil {
		return fmt.Errorf("load profanity filter: %w", err)
	}

	st, err := getStore()
	if err != nil {
		return err
	}

	browser := chat.NewBrowser(chat.BrowserConfig{
		GameURL:  gameURL,
		Username: username,
		Password: password,
		Headless: viper.GetBool("game.headless"),
	})
	ui.Info("Logging into %s as %s...", gameURL, username)
	if err := browser.Connect(ctx); err != nil {
		return fmt.Errorf("connect game session: %w", err)
	}

	brainClient := brain.NewAnthropicClient(
		viper.GetString("anthropic.api_key"),
		viper.GetString("anthropic.model"),
	)

	cfg := service.Config{
		Routine: routine.Config{
			BotName:          botName,
			Channel:          models.ParseChannelFilter(viper.GetString("chat.channel")),
			FocusLostTimeout: viper.GetDuration("bot.focus_timeout"),
		},
		TimeWindow: viper.GetDuration("bot.time_window"),
	}

	// The CLI process is the parent application; a non-nil error from Run
	// already makes it exit non-zero, so there is nothing extra to cascade.
	svc := service.New(cfg, browser, brainClient, filter, st, st, logger, nil)

	// A kill signal requests a cooperative stop, observed on the next tick.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		ui.Warning("Stop requested, shutting down...")
		svc.Stop()
	}()

	pf := daemon.NewPIDFile(viper.GetString("pid_path"))
	if err := pf.Write(); err != nil {
		ui.Warning("Cannot write PID file: %v", err)
	}
	defer func() {
		_ = pf.Remove()
	}()

	ui.Success("Bot %s is live on the %s channel", botName, cfg.Routine.Channel)
	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("service exited: %w", err)
	}
	ui.Success("Bot stopped")
	return nil
}
