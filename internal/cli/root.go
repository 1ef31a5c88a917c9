package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:          "mortable",
	Short:        "mortable - merge-on-read table commit tooling",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := loadConfig(cmd); err != nil {
			return err
		}
		slog.SetDefault(newLogger())
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("table-dir", ".", "table root directory holding segments and timeline metadata")
	flags.String("log-level", "info", "log level, values: debug, info, warn, error")
	flags.String("log-format", "text", "log output format, values: text, json")
}

// loadConfig layers viper sources under the command flags: defaults, then an
// optional mortable.yaml in the table directory or cwd, then MORTABLE_*
// environment variables, then explicit flags.
func loadConfig(cmd *cobra.Command) error {
	for _, flags := range []*pflag.FlagSet{cmd.Flags(), cmd.Root().PersistentFlags()} {
		if err := viper.BindPFlags(flags); err != nil {
			return err
		}
	}

	viper.SetEnvPrefix("MORTABLE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName("mortable")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(viper.GetString("table-dir"))
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(viper.GetString("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if viper.GetString("log-format") == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
