package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"context-capture/internal/natmsg"
	"context-capture/pkg/logging"
)

// fakeTransport 进程内帧通道，模拟标准流或网关一侧
type fakeTransport struct {
	in  chan *natmsg.Frame
	out chan *natmsg.Frame

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan *natmsg.Frame, 32),
		out:    make(chan *natmsg.Frame, 32),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) ReadFrame() (*natmsg.Frame, error) {
	select {
	case f := <-t.in:
		return f, nil
	case <-t.closed:
		return nil, io.EOF
	}
}

func (t *fakeTransport) WriteFrame(f *natmsg.Frame) error {
	select {
	case t.out <- f:
		return nil
	case <-t.closed:
		return errors.New("transport closed")
	}
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func testLogger() *logging.Logger {
	return logging.Default("capture-host-test")
}

func collectFrames(t *testing.T, gw *fakeTransport, n int) []*natmsg.Frame {
	t.Helper()
	got := make([]*natmsg.Frame, 0, n)
	for len(got) < n {
		select {
		case f := <-gw.out:
			got = append(got, f)
		case <-time.After(time.Second):
			t.Fatalf("等到 %d 帧后超时，期望 %d 帧", len(got), n)
		}
	}
	return got
}

// 网关断开重连后，标准流读取始终单点，缓冲的帧不丢不乱序
func TestForward_ReconnectKeepsSingleStdioReader(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stdio := newFakeTransport()
	gw1 := newFakeTransport()
	gw2 := newFakeTransport()

	var dialMu sync.Mutex
	dialCount := 0
	gw2Live := make(chan struct{})
	dial := func() (natmsg.Transport, error) {
		dialMu.Lock()
		defer dialMu.Unlock()
		dialCount++
		if dialCount == 1 {
			return gw1, nil
		}
		if dialCount == 2 {
			close(gw2Live)
			return gw2, nil
		}
		return nil, errors.New("no more gateways")
	}

	done := make(chan error, 1)
	go func() {
		done <- forward(ctx, stdio, dial, "test", 10*time.Millisecond, testLogger())
	}()

	// 第一条连接正常转发
	stdio.in <- natmsg.NewEvent("TAB_UPDATED", json.RawMessage(`{"url":"https://a.com"}`))
	first := collectFrames(t, gw1, 1)
	assert.Equal(t, "TAB_UPDATED", first[0].Action)

	// 网关断开触发重连
	gw1.Close()
	select {
	case <-gw2Live:
	case <-time.After(time.Second):
		t.Fatal("重连超时")
	}

	// 重连后写入的帧必须全部完好到达新网关
	want := []string{"GET_METADATA", "GENERATE_ASSETS", "GENERATE_SNAPSHOT", "TAB_ACTIVATED"}
	for i, action := range want {
		stdio.in <- natmsg.NewRequest(uint64(i+1), action, json.RawMessage(`{}`))
	}
	got := collectFrames(t, gw2, len(want))
	for i, f := range got {
		assert.Equal(t, want[i], f.Action)
		assert.Equal(t, uint64(i+1), f.ID)
	}

	// 浏览器关闭标准流后宿主整体退出
	stdio.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("宿主未随标准流关闭退出")
	}
}

// 网关到标准流方向的帧原样写回
func TestForward_GatewayToStdio(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stdio := newFakeTransport()
	gw := newFakeTransport()
	dial := func() (natmsg.Transport, error) { return gw, nil }

	done := make(chan error, 1)
	go func() {
		done <- forward(ctx, stdio, dial, "test", 10*time.Millisecond, testLogger())
	}()

	gw.in <- natmsg.NewResponse(7, "GET_METADATA", json.RawMessage(`{"url":"https://b.com"}`))
	select {
	case f := <-stdio.out:
		require.Equal(t, natmsg.FrameResponse, f.Type)
		assert.Equal(t, uint64(7), f.ID)
	case <-time.After(time.Second):
		t.Fatal("网关帧未写回标准流")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("取消后未退出")
	}
}
