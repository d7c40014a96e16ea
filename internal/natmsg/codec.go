package natmsg

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/containerd/errdefs"
)

// Encode 序列化单帧：u32 小端长度前缀 + JSON 帧体
//
// 超过 MaxFrameSize 的帧在写出前拒绝，避免对端解码时才发现损坏。
func Encode(f *Frame) ([]byte, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("serializing frame: %w", err)
	}
	if len(body) > MaxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes (limit %d): %w",
			len(body), MaxFrameSize, errdefs.ErrInvalidArgument)
	}

	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(body)))
	copy(out[4:], body)
	return out, nil
}

// WriteFrame 将帧编码后写入 w 并确保完整写出
func WriteFrame(w io.Writer, f *Frame) error {
	buf, err := Encode(f)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadFrame 从 r 读取完整一帧
//
// 干净的流结束返回 io.EOF；长度前缀非法返回 *DesyncError；
// 帧体 JSON 非法返回 *DecodeError（流位置已越过该帧，可继续读取）。
func ReadFrame(r io.Reader) (*Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading frame length: %w", err)
	}

	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length == 0 || length > MaxFrameSize {
		return nil, &DesyncError{Length: length}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}

	var f Frame
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, &DecodeError{Cause: err}
	}
	return &f, nil
}

// Decoder 流式帧解码器
//
// 维护一个读缓冲，Feed 推入任意切分的字节段，Next 逐帧取出。
// 一次 Feed 可能凑齐多帧，调用方必须循环 Next 直到返回 nil 才能
// 继续等待后续字节。
type Decoder struct {
	buf []byte
}

// Feed 追加收到的字节
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered 返回当前缓冲字节数
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next 尝试解出下一帧
//
// 返回值约定：
//   - (frame, nil)：解出一帧
//   - (nil, nil)：缓冲不足，需继续 Feed
//   - (nil, *DesyncError)：长度前缀非法，缓冲已整体丢弃，连接应重建
//   - (nil, *DecodeError)：该帧 JSON 非法，缓冲已越过该帧，可继续 Next
//
// 不完整的帧永远不会暴露给上层。
func (d *Decoder) Next() (*Frame, error) {
	if len(d.buf) < 4 {
		return nil, nil
	}

	length := binary.LittleEndian.Uint32(d.buf[:4])
	if length == 0 || length > MaxFrameSize {
		d.buf = nil
		return nil, &DesyncError{Length: length}
	}

	total := 4 + int(length)
	if len(d.buf) < total {
		return nil, nil
	}

	body := d.buf[4:total]
	var f Frame
	err := json.Unmarshal(body, &f)

	// 长度前缀是权威边界：无论帧体是否合法都精确越过这一帧
	rest := len(d.buf) - total
	copy(d.buf, d.buf[total:])
	d.buf = d.buf[:rest]

	if err != nil {
		return nil, &DecodeError{Cause: err}
	}
	return &f, nil
}

// Reset 清空缓冲（连接重建后调用）
func (d *Decoder) Reset() {
	d.buf = nil
}
