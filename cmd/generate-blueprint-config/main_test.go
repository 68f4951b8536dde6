package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caasmo/certsd"
)

func TestBlueprintLoads(t *testing.T) {
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.slack.com/services/x")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("CF_API_TOKEN", "cf-token")

	data, err := toml.Marshal(generateBlueprintConfig())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "certsd.toml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := certsd.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com"}, cfg.Domains())
	assert.Equal(t, "cf-token", cfg.Accounts[0].CloudflareAPIToken)
	assert.Equal(t, "123:abc", cfg.Notifications[1].Token)
	assert.True(t, cfg.AcmeStaging)
}

func TestBlueprintRequiresSecrets(t *testing.T) {
	t.Setenv("SLACK_WEBHOOK_URL", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("CF_API_TOKEN", "")

	data, err := toml.Marshal(generateBlueprintConfig())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "certsd.toml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err = certsd.LoadConfig(path)
	assert.Error(t, err, "unset secrets must fail validation")
}
