package natmsg

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/gorilla/websocket"

	"context-capture/pkg/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// 宿主进程从本机回连，不做来源检查
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HostFunc 新宿主接入时的装配回调，返回该连接的桥接器
type HostFunc func(pid int, transport Transport) *Bridge

// Server 宿主接入网关
//
// 原生消息宿主进程由浏览器拉起后回连本服务，连接按浏览器
// 进程号登记，活动策略据此找到焦点浏览器对应的桥接器。
type Server struct {
	logger  *logging.Logger
	metrics *Metrics
	onHost  HostFunc

	mu      sync.RWMutex
	bridges map[int]*Bridge
}

// NewServer 构造宿主网关
func NewServer(logger *logging.Logger, metrics *Metrics, onHost HostFunc) *Server {
	return &Server{
		logger:  logger,
		metrics: metrics,
		onHost:  onHost,
		bridges: make(map[int]*Bridge),
	}
}

// ServeHTTP 处理宿主的 WebSocket 升级请求
//
// 必须携带 browser_pid 查询参数；同一进程号重复接入时旧连接
// 被替换。
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pidStr := r.URL.Query().Get("browser_pid")
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		http.Error(w, "missing or invalid browser_pid", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Error("WebSocket 升级失败")
		return
	}

	transport := NewWebSocketTransport(conn)
	bridge := s.onHost(pid, transport)

	s.mu.Lock()
	if old, ok := s.bridges[pid]; ok {
		old.Close()
	}
	s.bridges[pid] = bridge
	count := len(s.bridges)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ConnectedHosts.Set(float64(count))
	}
	s.logger.Info("宿主已接入", "browser_pid", pid, "remote", r.RemoteAddr)

	go func() {
		// 升级后的连接已脱离请求生命周期，读循环自行管理
		err := bridge.Serve(context.Background(), transport)
		if err != nil && !errors.Is(err, ErrBridgeClosed) {
			s.logger.WithError(err).Info("宿主连接结束")
		}
		s.release(pid, bridge)
	}()
}

// BridgeFor 查找进程号对应的桥接器
func (s *Server) BridgeFor(pid int) (*Bridge, error) {
	s.mu.RLock()
	bridge, ok := s.bridges[pid]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no host connected for browser pid %d: %w", pid, errdefs.ErrNotFound)
	}
	return bridge, nil
}

// release 注销退出连接自己持有的桥接器
//
// 同进程号重连时新桥接器已顶替表项，被顶替连接的延迟清理只比对
// 自己的实例，不得摘除新注册的桥接器。
func (s *Server) release(pid int, owned *Bridge) {
	s.mu.Lock()
	removed := s.bridges[pid] == owned
	if removed {
		delete(s.bridges, pid)
	}
	count := len(s.bridges)
	s.mu.Unlock()

	owned.Close()
	if removed {
		if s.metrics != nil {
			s.metrics.ConnectedHosts.Set(float64(count))
		}
		s.logger.Info("宿主已离线", "browser_pid", pid)
	}
}

// Remove 注销并关闭进程号对应的连接
func (s *Server) Remove(pid int) {
	s.mu.Lock()
	bridge, ok := s.bridges[pid]
	if ok {
		delete(s.bridges, pid)
	}
	count := len(s.bridges)
	s.mu.Unlock()

	if ok {
		bridge.Close()
		if s.metrics != nil {
			s.metrics.ConnectedHosts.Set(float64(count))
		}
		s.logger.Info("宿主已离线", "browser_pid", pid)
	}
}

// Shutdown 关闭全部宿主连接
func (s *Server) Shutdown() {
	s.mu.Lock()
	bridges := s.bridges
	s.bridges = make(map[int]*Bridge)
	s.mu.Unlock()

	for _, b := range bridges {
		b.Close()
	}
	if s.metrics != nil {
		s.metrics.ConnectedHosts.Set(0)
	}
}
