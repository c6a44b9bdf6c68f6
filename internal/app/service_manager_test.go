package app

import (
	"testing"

	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceManager_SharedRegistries(t *testing.T) {
	m := NewServiceManager(config.DefaultConfig())
	require.NotNil(t, m.Sessions)
	require.NotNil(t, m.Forwards)
	assert.Equal(t, 0, m.Sessions.Count())
	assert.Equal(t, 0, m.Forwards.Count())
}

func TestServiceManager_InitRejectsBadAddress(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.DeviceAddress = "no-port"
	m := NewServiceManager(cfg)
	assert.Error(t, m.Init())
}
