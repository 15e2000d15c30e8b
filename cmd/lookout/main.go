package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fentz26/lookout/internal/config"
	"github.com/fentz26/lookout/internal/feed"
	"github.com/fentz26/lookout/internal/logging"
	"github.com/fentz26/lookout/internal/session"
	"github.com/fentz26/lookout/internal/state"
	"github.com/fentz26/lookout/internal/tui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "lookout",
	Short: "lookout - async runtime console",
	Long: `lookout connects to an instrumented program's diagnostics feed and shows its
tasks, resources and async operations live, flagging tasks that look unhealthy.`,
	SilenceUsage: true,
	RunE:         runConsole,
}

var (
	configPath string
	target     string
	retainFor  time.Duration
	logFile    string
	logLevel   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.lookout/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&target, "target", "", "Feed address of the instrumented program")
	rootCmd.PersistentFlags().DurationVar(&retainFor, "retain", 0, "How long completed entities stay visible")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write diagnostics to this file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(lintsCmd)
	rootCmd.AddCommand(proxyCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogFile, cfg.Level())
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	conn := feed.Connect(cfg.Target, feed.DefaultBackoff(), logger)
	defer conn.Close()

	app := tui.New(newSession(cfg, conn, state.Show, logger), tui.Options{
		Target:          cfg.Target,
		RefreshInterval: cfg.RefreshInterval,
		Connected:       conn.Connected,
		Logger:          logger,
	})
	if err := app.Run(cmd.Context()); err != nil {
		return fmt.Errorf("console error: %w", err)
	}
	return nil
}

// configFile returns --config, or the default path.
func configFile() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DefaultPath()
}

// loadConfig reads the config file and applies flags set on the command
// line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := configFile()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("target") {
		cfg.Target = target
	}
	if flags.Changed("retain") {
		cfg.RetainFor = retainFor
	}
	if flags.Changed("log-file") {
		cfg.LogFile = logFile
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newSession builds a session over src. Consoles use state.Show to be handed
// new entities; headless sessions use state.Hide.
func newSession(cfg *config.Config, src feed.Source, visibility state.Visibility, logger *zap.Logger) *session.Session {
	st := state.New(logger, cfg.TaskLinters(logger))
	return session.New(st, src, &session.Config{
		RetainFor:     cfg.RetainFor,
		SweepInterval: cfg.RefreshInterval,
		Visibility:    visibility,
	}, logger)
}
