package natmsg

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// wsTransport 基于 WebSocket 的传输通道
//
// 每条 WebSocket 二进制消息恰好承载一帧（含长度前缀），
// 解码仍走 Decoder 以复用失步与坏帧处理逻辑。
type wsTransport struct {
	conn    *websocket.Conn
	dec     Decoder
	queue   []*Frame
	writeMu sync.Mutex
}

// NewWebSocketTransport 包装已建立的 WebSocket 连接
func NewWebSocketTransport(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}

// DialWebSocket 主动连接 WebSocket 端点并返回传输通道
func DialWebSocket(endpoint string) (Transport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", endpoint, err)
	}
	return NewWebSocketTransport(conn), nil
}

func (t *wsTransport) ReadFrame() (*Frame, error) {
	for {
		// 先吐出上一条消息里积压的帧
		if len(t.queue) > 0 {
			f := t.queue[0]
			t.queue = t.queue[1:]
			return f, nil
		}

		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("reading websocket message: %w", err)
		}
		if msgType != websocket.BinaryMessage {
			// 文本消息不属于协议，按坏帧处理后继续
			return nil, &DecodeError{Cause: fmt.Errorf("unexpected text message")}
		}

		t.dec.Feed(data)
		for {
			f, err := t.dec.Next()
			if err != nil {
				t.queue = nil
				return nil, err
			}
			if f == nil {
				break
			}
			t.queue = append(t.queue, f)
		}
	}
}

func (t *wsTransport) WriteFrame(f *Frame) error {
	buf, err := Encode(f)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		return fmt.Errorf("writing websocket message: %w", err)
	}
	return nil
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
