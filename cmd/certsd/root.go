package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/caasmo/certsd"
)

var (
	// Version and GitCommit are set via ldflags during build
	Version   = "dev"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "certsd",
	Short: "Renew Let's Encrypt certificates over DNS-01 with Cloudflare",
	Long: `certsd renews the apex and wildcard certificate of every configured domain.
Ownership is proven with a DNS-01 challenge published through the Cloudflare API.
Keys and chains are kept on disk; previous chains are archived with a date suffix.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: first of "+strings.Join(certsd.DefaultConfigPaths, ", ")+")")
	rootCmd.PersistentFlags().String("data-dir", "", "directory for keys and certificates (overrides data_dir)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("staging", false, "use the Let's Encrypt staging directory")
	rootCmd.PersistentFlags().String("env-file", "", "dotenv file loaded before the config")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("staging", rootCmd.PersistentFlags().Lookup("staging"))
	viper.BindPFlag("env_file", rootCmd.PersistentFlags().Lookup("env-file"))

	rootCmd.AddCommand(renewCmd, checkCmd, historyCmd, versionCmd)
}

// initConfig reads flags and CERTSD_* environment variables into viper.
func initConfig() {
	viper.SetEnvPrefix("CERTSD")
	viper.AutomaticEnv()

	if f := viper.GetString("env_file"); f != "" {
		if err := godotenv.Load(f); err != nil {
			fmt.Fprintln(os.Stderr, "cannot load env file:", err)
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

// app is the configuration shared by every subcommand.
type app struct {
	cfg      *certsd.Config
	settings certsd.Settings
	logger   *slog.Logger
}

func loadApp() (*app, error) {
	logger := newLogger(viper.GetString("log_level"))

	path := viper.GetString("config")
	if path == "" {
		var err error
		path, err = certsd.DiscoverConfig(certsd.DefaultConfigPaths)
		if err != nil {
			logger.Error("no config file", "error", err)
			return nil, err
		}
	}

	cfg, err := certsd.LoadConfig(path)
	if err != nil {
		logger.Error("failed to load config", "path", path, "error", err)
		return nil, err
	}
	if dir := viper.GetString("data_dir"); dir != "" {
		cfg.DataDir = dir
	}
	if viper.GetBool("staging") {
		cfg.AcmeStaging = true
	}

	settings, err := certsd.LoadSettings()
	if err != nil {
		logger.Error("invalid settings", "error", err)
		return nil, err
	}

	logger.Info("config loaded",
		"path", path,
		"domains", cfg.Domains(),
		"directory", cfg.DirectoryURL(),
		"data_dir", cfg.DataDir,
		"notifications", len(cfg.Notifications),
	)
	return &app{cfg: cfg, settings: settings, logger: logger}, nil
}
