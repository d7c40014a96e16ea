package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"context-capture/pkg/logging"
)

func TestMemoryBus(t *testing.T) {
	ctx := context.Background()

	t.Run("事件投递到全部订阅者", func(t *testing.T) {
		b := NewMemoryBus(logging.Default("bus-test"))
		defer b.Close()

		sub1, err := b.Subscribe(ctx)
		require.NoError(t, err)
		sub2, err := b.Subscribe(ctx)
		require.NoError(t, err)

		require.NoError(t, b.Publish(ctx, Event{Type: EventActivityCaptured, ProcessName: "chrome"}))

		for _, sub := range []<-chan Event{sub1, sub2} {
			select {
			case ev := <-sub:
				assert.Equal(t, EventActivityCaptured, ev.Type)
				assert.Equal(t, "chrome", ev.ProcessName)
			case <-time.After(time.Second):
				t.Fatal("订阅者未收到事件")
			}
		}
	})

	t.Run("缓冲满时丢弃而不阻塞发布", func(t *testing.T) {
		b := NewMemoryBus(logging.Default("bus-test"))
		defer b.Close()

		_, err := b.Subscribe(ctx)
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			for i := 0; i < subscriberBuffer*2; i++ {
				b.Publish(ctx, Event{Type: EventSnapshotCaptured})
			}
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("发布被迟滞的订阅者阻塞")
		}
	})

	t.Run("取消订阅后通道关闭", func(t *testing.T) {
		b := NewMemoryBus(logging.Default("bus-test"))
		defer b.Close()

		subCtx, cancel := context.WithCancel(ctx)
		sub, err := b.Subscribe(subCtx)
		require.NoError(t, err)
		cancel()

		select {
		case _, open := <-sub:
			assert.False(t, open)
		case <-time.After(time.Second):
			t.Fatal("取消后通道未关闭")
		}
	})

	t.Run("关闭后发布为空操作", func(t *testing.T) {
		b := NewMemoryBus(logging.Default("bus-test"))
		require.NoError(t, b.Close())
		assert.NoError(t, b.Publish(ctx, Event{Type: EventActivityCaptured}))
		assert.NoError(t, b.Close())
	})
}
