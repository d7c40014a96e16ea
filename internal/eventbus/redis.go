package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"context-capture/pkg/logging"
)

// 采集事件流的键名与长度上限
const (
	activityStream   = "context:activity"
	maxStreamLength  = 10000
	readBlockTimeout = 5 * time.Second
)

// RedisBus 基于 Redis Streams 的事件总线
//
// 事件追加到定长流里，历史由 Redis 按 MAXLEN 近似裁剪。跨进程
// 的消费者各自用独立的读取位置。
type RedisBus struct {
	client *redis.Client
	logger *logging.Logger
}

// NewRedisBus 连接 Redis 并验证可达
func NewRedisBus(ctx context.Context, url string, logger *logging.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return &RedisBus{client: client, logger: logger}, nil
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("serializing event: %w", err)
	}
	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: activityStream,
		MaxLen: maxStreamLength,
		Approx: true,
		Values: map[string]any{"event": body},
	}).Err()
	if err != nil {
		return fmt.Errorf("publishing to stream %s: %w", activityStream, err)
	}
	return nil
}

// Subscribe 从流尾开始消费新事件
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, subscriberBuffer)
	go func() {
		defer close(ch)
		lastID := "$"
		for {
			res, err := b.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{activityStream, lastID},
				Block:   readBlockTimeout,
				Count:   64,
			}).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, redis.Nil) {
					continue
				}
				b.logger.WithError(err).Warn("读取事件流失败，稍后重试")
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			for _, stream := range res {
				for _, msg := range stream.Messages {
					lastID = msg.ID
					raw, ok := msg.Values["event"].(string)
					if !ok {
						continue
					}
					var ev Event
					if err := json.Unmarshal([]byte(raw), &ev); err != nil {
						b.logger.WithError(err).Warn("丢弃无法解析的事件", "id", msg.ID)
						continue
					}
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
