package config

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func resetCurrent(t *testing.T) {
	t.Cleanup(func() { configHolder.Store((*Config)(nil)) })
}

func TestReloadKeepsVaultSecrets(t *testing.T) {
	resetCurrent(t)

	v := viper.New()
	v.Set("vault.enable", true)
	v.Set("app_name", "ecorewards")

	calls := 0
	overlay := func(ctx context.Context, cfg *Config) error {
		calls++
		cfg.Reward.WebhookSecret = "from-vault"
		return nil
	}

	require.NoError(t, reload(context.Background(), v, overlay))
	require.Equal(t, "from-vault", Current().Reward.WebhookSecret)

	// the remote store changes a plain key; the secret must still be there
	v.Set("app_name", "ecorewards-v2")
	require.NoError(t, reload(context.Background(), v, overlay))

	cur := Current()
	require.Equal(t, "ecorewards-v2", cur.AppName)
	require.Equal(t, "from-vault", cur.Reward.WebhookSecret)
	require.Equal(t, 2, calls)
}

func TestReloadFailureKeepsPreviousSnapshot(t *testing.T) {
	resetCurrent(t)

	v := viper.New()
	v.Set("vault.enable", true)

	ok := func(ctx context.Context, cfg *Config) error {
		cfg.Reward.WebhookSecret = "from-vault"
		return nil
	}
	require.NoError(t, reload(context.Background(), v, ok))
	first := Current()

	down := func(ctx context.Context, cfg *Config) error { return errors.New("vault sealed") }
	require.Error(t, reload(context.Background(), v, down))
	require.Same(t, first, Current())
	require.Equal(t, "from-vault", Current().Reward.WebhookSecret)
}

func TestSnapshotSkipsOverlayWhenVaultDisabled(t *testing.T) {
	v := viper.New()
	v.Set("reward.webhook_secret", "plain")

	cfg, err := snapshot(context.Background(), v, func(ctx context.Context, cfg *Config) error {
		t.Fatal("overlay must not run without VAULT_ENABLE")
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "plain", cfg.Reward.WebhookSecret)
}

func TestCurrentWithoutRemoteConfig(t *testing.T) {
	resetCurrent(t)
	configHolder.Store((*Config)(nil))
	require.Nil(t, Current())
}
