package natmsg

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"context-capture/pkg/logging"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(logging.Default("natmsg-test"), nil, func(pid int, transport Transport) *Bridge {
		return NewBridge(nil, logging.Default("natmsg-test"))
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Shutdown)
	return srv, ts
}

func dialHost(t *testing.T, ts *httptest.Server, pid string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?browser_pid=" + pid
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServer_BridgeFor(t *testing.T) {
	srv, ts := newTestServer(t)

	t.Run("未接入的进程号查不到", func(t *testing.T) {
		_, err := srv.BridgeFor(99)
		assert.Error(t, err)
	})

	t.Run("接入后可查到", func(t *testing.T) {
		dialHost(t, ts, "7")
		require.Eventually(t, func() bool {
			_, err := srv.BridgeFor(7)
			return err == nil
		}, time.Second, 10*time.Millisecond)
	})
}

func TestServer_ReplaceOnReconnect(t *testing.T) {
	srv, ts := newTestServer(t)

	dialHost(t, ts, "42")
	require.Eventually(t, func() bool {
		_, err := srv.BridgeFor(42)
		return err == nil
	}, time.Second, 10*time.Millisecond)
	first, err := srv.BridgeFor(42)
	require.NoError(t, err)

	// 同进程号重连，新桥接器顶替旧表项
	dialHost(t, ts, "42")
	require.Eventually(t, func() bool {
		b, err := srv.BridgeFor(42)
		return err == nil && b != first
	}, time.Second, 10*time.Millisecond)

	// 被顶替连接的延迟清理不得摘掉新桥接器
	time.Sleep(500 * time.Millisecond)
	second, err := srv.BridgeFor(42)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestServer_RejectsMissingPID(t *testing.T) {
	_, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if resp != nil {
		defer resp.Body.Close()
		assert.Equal(t, 400, resp.StatusCode)
	}
}
