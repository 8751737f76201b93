package servicediscover

import (
	"context"
	"testing"

	"ecorewards-engine/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestNewRegistryWithoutConsulIsNoop(t *testing.T) {
	cfg := &config.Config{}

	registry, err := NewRegistry(cfg)
	require.NoError(t, err)
	require.IsType(t, noopRegistry{}, registry)
	require.NoError(t, registry.Register(context.Background()))
}

func TestNewRegistryBuildsReadinessCheck(t *testing.T) {
	cfg := &config.Config{AppName: "ecorewards-engine", SnowflakeNode: 3}
	cfg.Consul.Addr = "127.0.0.1:8500"
	cfg.Consul.ServiceHost = "10.0.0.7"
	cfg.Server.Addr = "8080"

	registry, err := NewRegistry(cfg)
	require.NoError(t, err)

	consul, ok := registry.(*ConsulRegistry)
	require.True(t, ok)
	require.Equal(t, "ecorewards-engine-3", consul.serviceID)
	require.Equal(t, 8080, consul.service.Port)
	require.Equal(t, "http://10.0.0.7:8080/readyz", consul.service.Check.HTTP)
}

func TestNewRegistryRejectsNonNumericAddr(t *testing.T) {
	cfg := &config.Config{}
	cfg.Consul.Addr = "127.0.0.1:8500"
	cfg.Server.Addr = ":http"

	_, err := NewRegistry(cfg)
	require.Error(t, err)
}
