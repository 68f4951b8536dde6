package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/caasmo/certsd"
)

func generateBlueprintConfig() certsd.Config {
	return certsd.Config{
		AcmeStaging: true,
		HistoryDB:   "/var/lib/certsd/history.db",
		PropagationNameservers: []string{
			"1.1.1.1:53",
			"8.8.8.8:53",
		},
		Notifications: []certsd.Notification{
			{Kind: certsd.NotifySlack, Webhook: "${SLACK_WEBHOOK_URL}"},
			{Kind: certsd.NotifyTelegram, ChatID: "@your_channel", Token: "${TELEGRAM_BOT_TOKEN}"},
		},
		Accounts: []certsd.DomainAccount{
			{
				Domain:             "example.com",
				Contacts:           []string{"admin@example.com"},
				CloudflareZoneID:   "YOUR_CLOUDFLARE_ZONE_ID",
				CloudflareAPIToken: "${CF_API_TOKEN}",
			},
		},
	}
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	outputFileFlag := flag.String("output", "certsd.blueprint.toml", "Output file path for the blueprint TOML configuration")
	flag.StringVar(outputFileFlag, "o", "certsd.blueprint.toml", "Output file path (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generates a blueprint certsd TOML configuration file with example values.\n")
		fmt.Fprintf(os.Stderr, "Secrets are referenced as ${VAR} and expanded from the environment at load time.\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	logger.Info("Generating certsd blueprint configuration...")
	tomlBytes, err := toml.Marshal(generateBlueprintConfig())
	if err != nil {
		logger.Error("Failed to marshal blueprint config to TOML", "error", err)
		os.Exit(1)
	}

	logger.Info("Writing blueprint configuration", "path", *outputFileFlag)
	if err := os.WriteFile(*outputFileFlag, tomlBytes, 0o644); err != nil {
		logger.Error("Failed to write blueprint config file",
			"path", *outputFileFlag,
			"error", err)
		os.Exit(1)
	}

	logger.Info("certsd blueprint configuration generated successfully", "path", *outputFileFlag)
	logger.Warn("Review the generated file, replace placeholders and export the referenced environment variables before running certsd.")
}
