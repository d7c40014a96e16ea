package natmsg

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// 协议错误按两个层级区分：
//   - 连接级（DesyncError、ErrConnectionLost）：当前连接状态不可信，
//     调用方应重置或关闭连接
//   - 帧级（DecodeError）：仅该帧作废，流位置仍然对齐，可继续读取
var (
	// ErrConnectionLost 连接断开，所有挂起请求以此错误结算
	ErrConnectionLost = fmt.Errorf("bridge connection lost: %w", errdefs.ErrUnavailable)

	// ErrBridgeClosed 桥已显式关闭
	ErrBridgeClosed = fmt.Errorf("bridge closed: %w", errdefs.ErrUnavailable)

	// ErrRequestTimeout 请求在限定时间内未收到响应
	ErrRequestTimeout = fmt.Errorf("request timed out: %w", errdefs.ErrAborted)
)

// DesyncError 长度前缀非法，帧流已失去同步
//
// 解码器在返回该错误前会丢弃整个缓冲区；后续字节边界不可信，
// 连接应当重建。
type DesyncError struct {
	Length uint32
}

func (e *DesyncError) Error() string {
	if e.Length == 0 {
		return "frame stream desynchronized: zero-length prefix"
	}
	return fmt.Sprintf("frame stream desynchronized: length prefix %d exceeds limit %d", e.Length, MaxFrameSize)
}

func (e *DesyncError) Unwrap() error {
	return errdefs.ErrDataLoss
}

// DecodeError 帧体长度合法但 JSON 解析失败
//
// 长度前缀是权威的：损坏的帧体不影响后续帧的边界，
// 调用方跳过该帧继续即可。
type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed frame payload: %v", e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return errdefs.ErrInvalidArgument
}
