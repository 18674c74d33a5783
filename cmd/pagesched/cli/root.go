package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Swind/go-page-scheduler/config"
	"github.com/Swind/go-page-scheduler/core"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "pagesched",
	Short:        "Page scheduler: per-page task queues with background throttling",
	SilenceUsage: true,
}

// Execute is the entry point called from cmd/pagesched/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	fs := rootCmd.PersistentFlags()
	fs.StringVar(&cfgFile, "config", "", "config file path (default: ./pagesched.yaml)")
	fs.String("log-level", "info", "log level: debug | info | warn | error")
	fs.String("intensive-wake-up-throttling-policy", "default",
		"intensive wake-up throttling override: default | force-enable | force-disable")
	bindFlag("log_level", fs, "log-level")
	bindFlag("intensive_wake_up_throttling_policy", fs, "intensive-wake-up-throttling-policy")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.SetConfigName("pagesched")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath(home + "/.pagesched")
		viper.AddConfigPath("/etc/pagesched")
	}

	viper.SetEnvPrefix("pagesched")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "error reading config file:", err)
			os.Exit(1)
		}
	} else {
		fmt.Fprintln(os.Stderr, "config:", viper.ConfigFileUsed())
	}
}

// loadConfig parses the config file viper found and applies flag and
// environment overrides on top of it.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	bootstrap := buildLogger(viper.GetString("log_level"))
	cfg, err := config.Load(viper.ConfigFileUsed(), core.NewSlogLogger(bootstrap))
	if err != nil {
		return config.Config{}, nil, err
	}

	if overridden(cmd, "log-level", "log_level") {
		cfg.LogLevel = viper.GetString("log_level")
	}
	if overridden(cmd, "metrics-addr", "metrics_addr") {
		cfg.MetricsAddr = viper.GetString("metrics_addr")
	}
	if overridden(cmd, "intensive-wake-up-throttling-policy", "intensive_wake_up_throttling_policy") {
		policy, err := core.ParseIntensiveThrottlingPolicy(viper.GetString("intensive_wake_up_throttling_policy"))
		if err != nil {
			return config.Config{}, nil, err
		}
		cfg.Policy = policy
	}
	return cfg, buildLogger(cfg.LogLevel), nil
}

// overridden reports whether key was given on the command line or in the
// environment. Values from the config file are already in config.Config.
func overridden(cmd *cobra.Command, flagName, key string) bool {
	if f := cmd.Flags().Lookup(flagName); f != nil && f.Changed {
		return true
	}
	_, ok := os.LookupEnv("PAGESCHED_" + strings.ToUpper(key))
	return ok
}

func buildLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})).
		With(slog.String("service", "pagesched"))
}

func bindFlag(viperKey string, fs *pflag.FlagSet, flagName string) {
	if err := viper.BindPFlag(viperKey, fs.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("bindFlag %q → %q: %v", flagName, viperKey, err))
	}
}
