package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/escrowchat/tradecoord/internal/config"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) string {
	datadir := t.TempDir()
	t.Setenv("TRADECOORD_DATADIR", datadir)
	t.Setenv("TRADECOORD_PARTY_ID", "bob")
	t.Setenv("TRADECOORD_CHANNEL_ID", "chan")
	t.Setenv("TRADECOORD_LEDGER_URL", "http://localhost:8080")
	t.Setenv("TRADECOORD_CHAT_WS_URL", "ws://localhost:8081/ws")
	return datadir
}

func TestInitConfig(t *testing.T) {
	datadir := setRequired(t)
	t.Setenv("TRADECOORD_FUND_LOCK_WINDOW", "10m")
	t.Setenv("TRADECOORD_CORS_ORIGINS", "http://localhost:3000, https://ops.example.com,")

	require.NoError(t, config.InitConfig())

	require.Equal(t, "bob", config.GetString(config.PartyIDKey))
	require.Equal(t, 10*time.Minute, config.GetDuration(config.FundLockWindowKey))
	require.Equal(t, 15*time.Minute, config.GetDuration(config.ResponseWindowKey))
	require.Equal(t, 8*time.Second, config.GetDuration(config.LedgerTimeoutKey))
	require.Equal(t, 9000, config.GetInt(config.OperatorListeningPortKey))
	require.Equal(t, []string{
		"http://localhost:3000", "https://ops.example.com",
	}, config.GetList(config.CORSOriginsKey))

	for _, dir := range []string{config.DbLocation, config.PubSubLocation} {
		_, err := os.Stat(filepath.Join(datadir, dir))
		require.NoError(t, err)
	}
}

func TestInitConfigInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"missing party", "TRADECOORD_PARTY_ID", ""},
		{"missing channel", "TRADECOORD_CHANNEL_ID", ""},
		{"invalid ledger url", "TRADECOORD_LEDGER_URL", "ledger"},
		{"missing chat url", "TRADECOORD_CHAT_WS_URL", ""},
		{"negative window", "TRADECOORD_RESPONSE_WINDOW", "-1s"},
		{"zero rate limit", "TRADECOORD_LEDGER_RATE_LIMIT", "0"},
		{"unknown db", "TRADECOORD_DB_TYPE", "postgres"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)
			require.Error(t, config.InitConfig())
		})
	}
}
