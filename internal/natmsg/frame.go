// Package natmsg 原生消息协议引擎
//
// 浏览器扩展与常驻进程之间的帧协议：
//   - 线格式：u32 小端长度前缀 + JSON 帧体（见 codec.go）
//   - 帧类型：request / response / event / error / cancel
//   - 请求响应按关联 ID 匹配，事件为单向推送
//
// JSON 字段名是与扩展侧共享的版本化契约，修改会单方面破坏扩展，
// 必须与 browser-shared 包的 bindings 保持一致。
package natmsg

import (
	"encoding/json"
	"fmt"

	"github.com/containerd/errdefs"
)

// MaxFrameSize 单帧最大字节数（8 MiB）
//
// 与浏览器侧原生消息的上限一致，超过即视为协议损坏。
const MaxFrameSize = 8 * 1024 * 1024

// FrameType 帧类型
type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FrameEvent    FrameType = "event"
	FrameError    FrameType = "error"
	FrameCancel   FrameType = "cancel"
)

// Frame 协议帧
//
// 各类型使用的字段：
//   - request:  ID + Action + Payload（可选）
//   - response: ID + Action + Payload（JSON 字符串）
//   - event:    Action + Payload（无 ID，接收方不得期待应答槽位）
//   - error:    Message + ID（可选，0 表示无关联请求）
//   - cancel:   ID
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      uint64          `json:"id,omitempty"`
	Action  string          `json:"action,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Message string          `json:"message,omitempty"`
}

// NewRequest 创建请求帧
func NewRequest(id uint64, action string, payload json.RawMessage) *Frame {
	return &Frame{Type: FrameRequest, ID: id, Action: action, Payload: payload}
}

// NewResponse 创建响应帧（ID 必须与对应请求一致）
func NewResponse(id uint64, action string, payload json.RawMessage) *Frame {
	return &Frame{Type: FrameResponse, ID: id, Action: action, Payload: payload}
}

// NewEvent 创建事件帧
func NewEvent(action string, payload json.RawMessage) *Frame {
	return &Frame{Type: FrameEvent, Action: action, Payload: payload}
}

// NewError 创建错误帧，id 为 0 表示与具体请求无关
func NewError(id uint64, message string) *Frame {
	return &Frame{Type: FrameError, ID: id, Message: message}
}

// NewCancel 创建取消帧
func NewCancel(id uint64) *Frame {
	return &Frame{Type: FrameCancel, ID: id}
}

// Validate 校验帧结构
func (f *Frame) Validate() error {
	switch f.Type {
	case FrameRequest, FrameResponse:
		if f.ID == 0 {
			return fmt.Errorf("%s frame requires id: %w", f.Type, errdefs.ErrInvalidArgument)
		}
		if f.Action == "" {
			return fmt.Errorf("%s frame requires action: %w", f.Type, errdefs.ErrInvalidArgument)
		}
	case FrameEvent:
		if f.Action == "" {
			return fmt.Errorf("event frame requires action: %w", errdefs.ErrInvalidArgument)
		}
	case FrameError:
		if f.Message == "" {
			return fmt.Errorf("error frame requires message: %w", errdefs.ErrInvalidArgument)
		}
	case FrameCancel:
		if f.ID == 0 {
			return fmt.Errorf("cancel frame requires id: %w", errdefs.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("unknown frame type %q: %w", f.Type, errdefs.ErrInvalidArgument)
	}
	return nil
}
