package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Siddharth-777/ECHO/internal/config"
)

func TestLoadConfigPriority(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ECHO_SERVER", "https://relay.example.com")
	t.Setenv("ECHO_NAME", "FromEnv")

	require.NoError(t, joinCmd.Flags().Set(config.KeyName, "Alice"))
	t.Cleanup(func() {
		_ = joinCmd.Flags().Set(config.KeyName, "")
		joinCmd.Flags().Lookup(config.KeyName).Changed = false
	})

	cfg, err := loadConfig(joinCmd)
	require.NoError(t, err)

	assert.Equal(t, "Alice", cfg.Name)
	assert.Equal(t, "wss://relay.example.com/ws", cfg.ServerURL)
	assert.Equal(t, config.DefaultSTUN, cfg.STUNServers)
	assert.False(t, cfg.Headless)
}

func TestLoadConfigRejectsRelayWithoutTURN(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, joinCmd.Flags().Set(config.KeyForceRelay, "true"))
	t.Cleanup(func() {
		_ = joinCmd.Flags().Set(config.KeyForceRelay, "false")
		joinCmd.Flags().Lookup(config.KeyForceRelay).Changed = false
	})

	_, err := loadConfig(joinCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TURN")
}
