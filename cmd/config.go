package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "parlay"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage parlay configuration.

Running bare 'parlay config' is the same as 'parlay config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# parlay configuration
# See: parlay config show (for effective values and sources)

# State/data directory (default: ~/.config/parlay)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/parlay/parlay.db)
# db_path: {{ .DBPath }}

# Game session
game:
  # Login page of the game world to join
  url: "{{ .GameURL }}"
  # Account credentials; the account name is also the bot's chat identity
  # unless bot.name overrides it
  username: ""
  password: ""
  # Run the browser headless (default: true)
  headless: {{ .GameHeadless }}

# Chat settings
chat:
  # Channel to restrict the bot to: global, world, whisper, direct
  channel: "{{ .ChatChannel }}"

# Bot behavior
bot:
  # The bot's chat identity
  name: "{{ .BotName }}"
  # Idle time before the current partner is abandoned (default: 60s)
  focus_timeout: "{{ .FocusTimeout }}"
  # Total time budget per run; 0 runs until stopped (default: 0)
  time_window: "{{ .TimeWindow }}"
  # Path to a custom profanity wordlist, one word per line
  # wordlist: ""

# Conversational backend
anthropic:
  # API key (or set PARLAY_ANTHROPIC_API_KEY)
  api_key: ""
  # Model that produces the replies
  model: "{{ .AnthropicModel }}"
`

type configTemplateData struct {
	StateDir       string
	DBPath         string
	GameURL        string
	GameHeadless   bool
	ChatChannel    string
	BotName        string
	FocusTimeout   string
	TimeWindow     string
	AnthropicModel string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:       viper.GetString("state_dir"),
		DBPath:         viper.GetString("db_path"),
		GameURL:        viper.GetString("game.url"),
		GameHeadless:   viper.GetBool("game.headless"),
		ChatChannel:    viper.GetString("chat.channel"),
		BotName:        viper.GetString("bot.name"),
		FocusTimeout:   viper.GetString("bot.focus_timeout"),
		TimeWindow:     viper.GetString("bot.time_window"),
		AnthropicModel: viper.GetString("anthropic.model"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "PARLAY_STATE_DIR"},
	{Key: "db_path", EnvVar: "PARLAY_DB_PATH"},
	{Key: "pid_path", EnvVar: "PARLAY_PID_PATH"},
	{Key: "game.url", EnvVar: "PARLAY_GAME_URL"},
	{Key: "game.username", EnvVar: "PARLAY_GAME_USERNAME"},
	{Key: "game.headless", EnvVar: "PARLAY_GAME_HEADLESS"},
	{Key: "chat.channel", EnvVar: "PARLAY_CHAT_CHANNEL"},
	{Key: "bot.name", EnvVar: "PARLAY_BOT_NAME"},
	{Key: "bot.focus_timeout", EnvVar: "PARLAY_BOT_FOCUS_TIMEOUT"},
	{Key: "bot.time_window", EnvVar: "PARLAY_BOT_TIME_WINDOW"},
	{Key: "bot.wordlist", EnvVar: "PARLAY_BOT_WORDLIST"},
	{Key: "anthropic.model", EnvVar: "PARLAY_ANTHROPIC_MODEL"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-22s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set — set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'parlay config init' first)", cfgPath)
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
