package ports

import (
	"testing"

	"github.com/bujia-iot/jt808-gateway/internal/infrastructure/config"
	"github.com/bujia-iot/jt808-gateway/pkg/forward"
	"github.com/bujia-iot/jt808-gateway/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawDecoder_NoLengthField(t *testing.T) {
	assert.Nil(t, NewRawDecoder().GetLengthField(), "JT808 没有长度字段，zinx 必须原样交付")
}

func TestNewServers(t *testing.T) {
	sessions := session.NewRegistry()
	forwards := forward.NewRegistry(sessions)

	t.Run("默认地址可以创建", func(t *testing.T) {
		cfg := config.DefaultConfig()
		dev, err := NewDeviceServer(cfg, sessions, forwards)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:20888", dev.addr)
		assert.Equal(t, session.IdleTimeout(60), dev.idleTimeout)

		fwd, err := NewForwardServer(cfg, forwards)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:20890", fwd.addr)
	})

	t.Run("地址非法返回错误", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Server.DeviceAddress = "127.0.0.1"
		_, err := NewDeviceServer(cfg, sessions, forwards)
		assert.Error(t, err)

		cfg.Server.ForwardAddress = "host:port"
		_, err = NewForwardServer(cfg, forwards)
		assert.Error(t, err)
	})
}
