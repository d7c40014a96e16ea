package eventbus

import (
	"context"
	"sync"

	"context-capture/pkg/logging"
)

// 每个订阅者的事件缓冲深度
const subscriberBuffer = 64

// MemoryBus 进程内事件总线
//
// 订阅者各持一条缓冲通道，缓冲满时丢弃该订阅者的事件并记录，
// 绝不反压发布方。
type MemoryBus struct {
	logger *logging.Logger

	mu     sync.Mutex
	subs   []chan Event
	closed bool
}

func NewMemoryBus(logger *logging.Logger) *MemoryBus {
	return &MemoryBus{logger: logger}
}

func (b *MemoryBus) Publish(ctx context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("订阅者缓冲已满，丢弃事件", "type", ev.Type, "process", ev.ProcessName)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return
		}
		for i, c := range b.subs {
			if c == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(c)
				break
			}
		}
		b.mu.Unlock()
	}()
	return ch, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	return nil
}
