// Package eventbus 把采集产物以事件形式广播给下游消费者
//
// 时间线、聊天等组件消费采集事件而不是直接依赖采集器。进程内
// 实现用于单机部署，Redis Streams 实现用于跨进程投递。
package eventbus

import (
	"context"
	"time"
)

// 事件类型
const (
	EventActivityCaptured = "activity_captured"
	EventSnapshotCaptured = "snapshot_captured"
	EventFocusChanged     = "focus_changed"
)

// Event 一次采集产出的事件
type Event struct {
	Type        string    `json:"type"`
	ProcessName string    `json:"process_name"`
	StrategyID  string    `json:"strategy_id"`
	AssetTypes  []string  `json:"asset_types,omitempty"`
	AssetPaths  []string  `json:"asset_paths,omitempty"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Bus 事件广播通道
//
// Publish 不阻塞采集主循环：实现要么异步投递，要么在消费者
// 迟滞时丢弃并记录。
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context) (<-chan Event, error)
	Close() error
}
