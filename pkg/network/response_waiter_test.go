package network

import (
	"context"
	"sync"
	"testing"
	"time"

	gwerrors "github.com/bujia-iot/jt808-gateway/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recordingSender) SendFrames(frames ...[]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frames...)
	return nil
}

func TestResponseWaiter_Command(t *testing.T) {
	t.Run("超时内收到应答", func(t *testing.T) {
		w := NewResponseWaiter()
		cw := w.RegisterCommand(10)
		go func() {
			time.Sleep(10 * time.Millisecond)
			route := w.Resolve(10, 3)
			assert.True(t, route.Matched)
			assert.True(t, route.Command)
		}()
		result, err := cw.Wait(context.Background(), time.Second)
		require.NoError(t, err)
		assert.Equal(t, byte(3), result)
		assert.Equal(t, 0, w.GetWaitingCount())
	})

	t.Run("超时后注销，迟到的应答被丢弃", func(t *testing.T) {
		w := NewResponseWaiter()
		cw := w.RegisterCommand(11)
		_, err := cw.Wait(context.Background(), 20*time.Millisecond)
		assert.ErrorIs(t, err, gwerrors.ErrCommandTimeout)
		assert.False(t, w.IsWaiting(11))

		route := w.Resolve(11, 0)
		assert.False(t, route.Matched)
	})

	t.Run("ctx取消", func(t *testing.T) {
		w := NewResponseWaiter()
		cw := w.RegisterCommand(12)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := cw.Wait(ctx, time.Second)
		assert.ErrorIs(t, err, gwerrors.ErrCommandTimeout)
		assert.Equal(t, 0, w.GetWaitingCount())
	})

	t.Run("关闭后等待立即失败", func(t *testing.T) {
		w := NewResponseWaiter()
		cw := w.RegisterCommand(13)
		w.Close()
		start := time.Now()
		_, err := cw.Wait(context.Background(), 5*time.Second)
		assert.ErrorIs(t, err, gwerrors.ErrSessionClosed)
		assert.Less(t, time.Since(start), time.Second)

		late := w.RegisterCommand(14)
		_, err = late.Wait(context.Background(), 5*time.Second)
		assert.ErrorIs(t, err, gwerrors.ErrSessionClosed)
	})

	t.Run("流水号复用挤出旧指令", func(t *testing.T) {
		w := NewResponseWaiter()
		old := w.RegisterCommand(15)
		w.RegisterForward(15, 900, &recordingSender{})
		_, err := old.Wait(context.Background(), time.Second)
		assert.Error(t, err)
		assert.True(t, w.IsWaiting(15))
	})
}

func TestResponseWaiter_Forward(t *testing.T) {
	w := NewResponseWaiter()
	target := &recordingSender{}
	w.RegisterForward(20, 7, target)

	route := w.Resolve(20, 0)
	assert.True(t, route.Matched)
	assert.False(t, route.Command)
	assert.Same(t, target, route.Target)
	assert.Equal(t, uint16(7), route.OriginSN)

	assert.False(t, w.Resolve(20, 0).Matched, "同一个应答只交付一次")
}

func TestResponseWaiter_CleanupForwards(t *testing.T) {
	w := NewResponseWaiter()
	w.RegisterForward(1, 1, &recordingSender{})
	w.RegisterCommand(2)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, w.CleanupForwards(time.Millisecond))
	assert.True(t, w.IsWaiting(2), "平台指令不受转发清理影响")
}
