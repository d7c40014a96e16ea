package natmsg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"context-capture/pkg/logging"
)

// 默认请求超时与重连间隔，可由 Option 覆盖
const (
	DefaultRequestTimeout = 5 * time.Second
	DefaultReconnectDelay = 2 * time.Second
)

// EventHandler 处理对端推送的事件帧，在读循环内同步调用，
// 必须快速返回，耗时工作自行移交 goroutine
type EventHandler func(action string, payload json.RawMessage)

// RequestHandler 处理对端发来的请求帧
//
// ctx 在收到对应 cancel 帧或连接断开时取消。返回的载荷作为
// response 帧回送；返回错误则回送 error 帧。
type RequestHandler func(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error)

// pendingCall 一次在途请求的结果通道
//
// 缓冲为 1：解析方在持锁删除表项后发送，永不阻塞读循环。
type pendingCall struct {
	ch chan callResult
}

type callResult struct {
	payload json.RawMessage
	err     error
}

// Bridge 请求应答关联引擎
//
// 对上提供同步的 Request 语义，对下把帧复用到单条传输通道上。
// 通道断开时所有在途请求立即失败，随后按固定间隔重建连接，
// 重建后在途表为空，不会出现旧应答命中新请求。
type Bridge struct {
	connect  Connector
	logger   *logging.Logger
	metrics  *Metrics
	onEvent  EventHandler
	handlers map[string]RequestHandler

	timeout        time.Duration
	reconnectDelay time.Duration

	nextID atomic.Uint64

	mu        sync.Mutex
	transport Transport
	pending   map[uint64]*pendingCall
	closed    bool

	// 对端请求的在途表，收到 cancel 帧时查找并取消
	inflightMu sync.Mutex
	inflight   map[uint64]context.CancelFunc

	done chan struct{}
}

// Option 配置 Bridge
type Option func(*Bridge)

// WithRequestTimeout 覆盖默认请求超时
func WithRequestTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.timeout = d }
}

// WithReconnectDelay 覆盖默认重连间隔
func WithReconnectDelay(d time.Duration) Option {
	return func(b *Bridge) { b.reconnectDelay = d }
}

// WithEventHandler 注册事件帧回调
func WithEventHandler(h EventHandler) Option {
	return func(b *Bridge) { b.onEvent = h }
}

// WithMetrics 注入指标收集器
func WithMetrics(m *Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// NewBridge 构造桥接器，connect 负责建立底层通道
func NewBridge(connect Connector, logger *logging.Logger, opts ...Option) *Bridge {
	b := &Bridge{
		connect:        connect,
		logger:         logger,
		handlers:       make(map[string]RequestHandler),
		timeout:        DefaultRequestTimeout,
		reconnectDelay: DefaultReconnectDelay,
		pending:        make(map[uint64]*pendingCall),
		inflight:       make(map[uint64]context.CancelFunc),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Handle 注册对端请求的处理器，须在 Run 之前完成
func (b *Bridge) Handle(action string, h RequestHandler) {
	b.handlers[action] = h
}

// Run 驱动连接与读循环，阻塞直到 ctx 取消或 Close
//
// 每次连接断开后清空在途表、等待固定间隔再重建，连接失败
// 同样按该间隔退避。
func (b *Bridge) Run(ctx context.Context) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return nil
		default:
		}

		transport, err := b.connect()
		if err != nil {
			attempt++
			b.logger.ReconnectLog("transport", attempt, err)
			if b.metrics != nil {
				b.metrics.Reconnects.Inc()
			}
			if !b.sleep(ctx, b.reconnectDelay) {
				return ctx.Err()
			}
			continue
		}
		attempt = 0

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			transport.Close()
			return nil
		}
		b.transport = transport
		b.mu.Unlock()

		b.logger.Info("传输通道已建立")
		readErr := b.readLoop(ctx, transport)
		transport.Close()

		b.mu.Lock()
		b.transport = nil
		b.mu.Unlock()

		b.failAllPending(ErrConnectionLost)
		b.cancelAllInflight()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-b.done:
			return nil
		default:
		}

		b.logger.WithError(readErr).Warn("传输通道断开，准备重连")
		if b.metrics != nil {
			b.metrics.Reconnects.Inc()
		}
		if !b.sleep(ctx, b.reconnectDelay) {
			return ctx.Err()
		}
	}
}

func (b *Bridge) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-b.done:
		return false
	case <-t.C:
		return true
	}
}

// Serve 在已建立的通道上驱动读循环，断开即返回，不重建连接
//
// 服务端接受的连接走这条路径：宿主掉线后由宿主侧负责重连。
func (b *Bridge) Serve(ctx context.Context, transport Transport) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBridgeClosed
	}
	b.transport = transport
	b.mu.Unlock()

	err := b.readLoop(ctx, transport)
	transport.Close()

	b.mu.Lock()
	b.transport = nil
	b.mu.Unlock()

	b.failAllPending(ErrConnectionLost)
	b.cancelAllInflight()
	return err
}

// readLoop 读取并分发帧直到通道失效
func (b *Bridge) readLoop(ctx context.Context, transport Transport) error {
	for {
		f, err := transport.ReadFrame()
		if err != nil {
			var decodeErr *DecodeError
			if errors.As(err, &decodeErr) {
				// 坏帧只丢这一帧，流位置已对齐
				b.logger.WithError(decodeErr).Warn("丢弃无法解析的帧")
				if b.metrics != nil {
					b.metrics.FramesDropped.Inc()
				}
				continue
			}
			return err
		}
		if err := f.Validate(); err != nil {
			b.logger.WithError(err).Warn("丢弃非法帧")
			if b.metrics != nil {
				b.metrics.FramesDropped.Inc()
			}
			continue
		}
		if b.metrics != nil {
			b.metrics.FramesRead.Inc()
		}
		b.dispatch(ctx, f)
	}
}

// dispatch 按帧类型分发
func (b *Bridge) dispatch(ctx context.Context, f *Frame) {
	switch f.Type {
	case FrameResponse:
		b.resolve(f.ID, callResult{payload: f.Payload})
	case FrameError:
		if f.ID != 0 {
			b.resolve(f.ID, callResult{err: fmt.Errorf("remote error: %s", f.Message)})
		} else {
			b.logger.Warn("对端报告错误", "message", f.Message)
		}
	case FrameEvent:
		if b.onEvent != nil {
			b.onEvent(f.Action, f.Payload)
		}
	case FrameRequest:
		b.serveRequest(ctx, f)
	case FrameCancel:
		b.inflightMu.Lock()
		cancel, ok := b.inflight[f.ID]
		b.inflightMu.Unlock()
		if ok {
			cancel()
		}
	}
}

// resolve 至多一次地完成在途请求
//
// 持锁删除表项保证应答、超时、断连三方竞争时只有一方胜出，
// 其余路径发现表项不存在即放弃。
func (b *Bridge) resolve(id uint64, res callResult) {
	b.mu.Lock()
	call, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if !ok {
		// 迟到或重复的应答，静默丢弃
		if b.metrics != nil {
			b.metrics.UnmatchedResponses.Inc()
		}
		b.logger.Debug("收到无匹配请求的应答", "id", id)
		return
	}
	call.ch <- res
}

// serveRequest 在独立 goroutine 中执行处理器并回送结果
func (b *Bridge) serveRequest(ctx context.Context, f *Frame) {
	handler, ok := b.handlers[f.Action]
	if !ok {
		b.send(NewError(f.ID, fmt.Sprintf("unknown action %q", f.Action)))
		return
	}

	reqCtx, cancel := context.WithCancel(ctx)
	b.inflightMu.Lock()
	b.inflight[f.ID] = cancel
	b.inflightMu.Unlock()

	go func() {
		defer func() {
			b.inflightMu.Lock()
			delete(b.inflight, f.ID)
			b.inflightMu.Unlock()
			cancel()
		}()

		payload, err := handler(reqCtx, f.Action, f.Payload)
		if reqCtx.Err() != nil {
			// 已被取消，不回送结果
			return
		}
		if err != nil {
			b.send(NewError(f.ID, err.Error()))
			return
		}
		b.send(NewResponse(f.ID, f.Action, payload))
	}()
}

// Request 发送请求并等待应答
//
// 超时或 ctx 取消时向对端发送 cancel 帧并放弃等待；连接断开
// 时以 ErrConnectionLost 失败。
func (b *Bridge) Request(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error) {
	id := b.nextID.Add(1)
	call := &pendingCall{ch: make(chan callResult, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBridgeClosed
	}
	transport := b.transport
	if transport == nil {
		b.mu.Unlock()
		return nil, ErrConnectionLost
	}
	b.pending[id] = call
	b.mu.Unlock()

	start := time.Now()
	f := NewRequest(id, action, payload)
	b.logger.FrameLog("send", string(f.Type), action, len(payload))
	if err := transport.WriteFrame(f); err != nil {
		b.resolve(id, callResult{err: fmt.Errorf("sending request: %w", err)})
	} else if b.metrics != nil {
		b.metrics.FramesWritten.Inc()
	}

	reqCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	select {
	case res := <-call.ch:
		if b.metrics != nil {
			b.metrics.RequestDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
		}
		return res.payload, res.err
	case <-reqCtx.Done():
		// 持锁删除：若应答恰好同时到达且已删表项，则以应答为准
		b.mu.Lock()
		_, stillPending := b.pending[id]
		if stillPending {
			delete(b.pending, id)
		}
		b.mu.Unlock()

		if !stillPending {
			res := <-call.ch
			return res.payload, res.err
		}

		b.send(NewCancel(id))
		if b.metrics != nil {
			b.metrics.RequestTimeouts.Inc()
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("request %q (id %d): %w", action, id, ErrRequestTimeout)
	}
}

// Notify 发送事件帧，不等待应答
func (b *Bridge) Notify(action string, payload json.RawMessage) error {
	f := NewEvent(action, payload)
	b.logger.FrameLog("send", string(f.Type), action, len(payload))
	return b.send(f)
}

func (b *Bridge) send(f *Frame) error {
	b.mu.Lock()
	transport := b.transport
	b.mu.Unlock()
	if transport == nil {
		return ErrConnectionLost
	}
	if err := transport.WriteFrame(f); err != nil {
		return err
	}
	if b.metrics != nil {
		b.metrics.FramesWritten.Inc()
	}
	return nil
}

// failAllPending 以同一错误结束全部在途请求
func (b *Bridge) failAllPending(err error) {
	b.mu.Lock()
	calls := b.pending
	b.pending = make(map[uint64]*pendingCall)
	b.mu.Unlock()

	for _, call := range calls {
		call.ch <- callResult{err: err}
	}
	if len(calls) > 0 {
		b.logger.Warn("连接断开，在途请求全部失败", "count", len(calls))
	}
}

func (b *Bridge) cancelAllInflight() {
	b.inflightMu.Lock()
	cancels := make([]context.CancelFunc, 0, len(b.inflight))
	for _, c := range b.inflight {
		cancels = append(cancels, c)
	}
	b.inflight = make(map[uint64]context.CancelFunc)
	b.inflightMu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// Close 关闭桥接器，结束 Run 并使后续 Request 立即失败
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	transport := b.transport
	b.transport = nil
	b.mu.Unlock()

	close(b.done)
	if transport != nil {
		transport.Close()
	}
	b.failAllPending(ErrBridgeClosed)
	b.cancelAllInflight()
	return nil
}
