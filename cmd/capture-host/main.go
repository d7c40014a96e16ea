// Package main 浏览器原生消息宿主入口
//
// 由浏览器按原生消息清单拉起，stdin/stdout 承载协议帧，本进程
// 把帧转发到本机守护进程的 WebSocket 网关。stdout 被协议占用，
// 日志一律走 stderr。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"context-capture/internal/config"
	"context-capture/internal/natmsg"
	"context-capture/pkg/logging"
)

func main() {
	endpoint := flag.String("endpoint", "", "守护进程网关地址，覆盖配置")
	flag.Parse()

	logger := logging.Default("capture-host")

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Error("配置加载失败")
		os.Exit(1)
	}

	// 浏览器是父进程，其进程号是网关侧的路由键
	browserPID := os.Getppid()

	lock, err := acquireLock(browserPID)
	if err != nil {
		logger.WithError(err).Error("同一浏览器已有宿主实例在运行")
		os.Exit(1)
	}
	defer lock.Release()

	addr := cfg.Bridge.ListenAddr
	if *endpoint != "" {
		addr = *endpoint
	}
	wsURL := fmt.Sprintf("ws://%s/ws/host?browser_pid=%d", addr, browserPID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dial := func() (natmsg.Transport, error) {
		return natmsg.DialWebSocket(wsURL)
	}
	err = forward(ctx, natmsg.NewStdioTransport(), dial, wsURL, cfg.Bridge.ReconnectDelay, logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("宿主异常退出")
		os.Exit(1)
	}
}

// forward 在标准流与网关之间双向转发帧
//
// 标准流读取必须单点：唯一的读取 goroutine 在这里启动并贯穿全部
// 重连周期，解出的帧进入通道，每次 pump 只从通道取帧。并发调用
// ReadFrame 会把帧体字节误当长度前缀读出导致流失步。网关断开时
// 按固定间隔重连；标准流关闭（浏览器退出）则整体结束。
func forward(ctx context.Context, stdio natmsg.Transport, dial natmsg.Connector, endpoint string, reconnectDelay time.Duration, logger *logging.Logger) error {
	frames := make(chan *natmsg.Frame, 16)
	stdioDone := make(chan struct{})
	go func() {
		defer close(stdioDone)
		for {
			f, err := stdio.ReadFrame()
			if err != nil {
				var decodeErr *natmsg.DecodeError
				if errors.As(err, &decodeErr) {
					logger.WithError(decodeErr).Warn("丢弃浏览器侧坏帧")
					continue
				}
				if !errors.Is(err, io.EOF) {
					logger.WithError(err).Warn("浏览器侧标准流读取失败")
				}
				// 标准流任何失效都按浏览器退出处理
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stdioDone:
			logger.Info("浏览器已断开，宿主退出")
			return nil
		default:
		}

		gateway, err := dial()
		if err != nil {
			attempt++
			logger.ReconnectLog(endpoint, attempt, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reconnectDelay):
			}
			continue
		}
		attempt = 0
		logger.Info("已连接守护进程网关", "endpoint", endpoint)

		err = pump(ctx, frames, stdioDone, stdio, gateway, logger)
		gateway.Close()
		switch {
		case errors.Is(err, errBrowserClosed):
			logger.Info("浏览器已断开，宿主退出")
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			logger.WithError(err).Warn("网关连接断开，准备重连")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reconnectDelay):
			}
		}
	}
}

// errBrowserClosed 浏览器侧结束转发的专用标记
//
// 网关侧错误可能同样包着 io.EOF，不能用它区分两侧。
var errBrowserClosed = errors.New("browser side closed")

// pump 把标准流帧通道与当前网关连接双向桥接
//
// 返回 errBrowserClosed 表示浏览器侧结束，其余错误表示网关侧
// 失效，调用方据此区分退出与重连。
func pump(ctx context.Context, frames <-chan *natmsg.Frame, stdioDone <-chan struct{}, stdio, gateway natmsg.Transport, logger *logging.Logger) error {
	gatewayErr := make(chan error, 1)
	go func() {
		for {
			f, err := gateway.ReadFrame()
			if err != nil {
				var decodeErr *natmsg.DecodeError
				if errors.As(err, &decodeErr) {
					logger.WithError(decodeErr).Warn("丢弃网关侧坏帧")
					continue
				}
				gatewayErr <- fmt.Errorf("reading from daemon: %w", err)
				return
			}
			logger.FrameLog("to-browser", string(f.Type), f.Action, len(f.Payload))
			if err := stdio.WriteFrame(f); err != nil {
				logger.WithError(err).Warn("浏览器侧标准流写入失败")
				gatewayErr <- errBrowserClosed
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stdioDone:
			return errBrowserClosed
		case err := <-gatewayErr:
			return err
		case f := <-frames:
			logger.FrameLog("to-daemon", string(f.Type), f.Action, len(f.Payload))
			if err := gateway.WriteFrame(f); err != nil {
				return fmt.Errorf("forwarding to daemon: %w", err)
			}
		}
	}
}

// instanceLock 单实例锁文件
type instanceLock struct {
	path string
}

// acquireLock 同一浏览器进程只允许一个宿主实例
//
// 锁文件记录宿主进程号，持有者已死的残留锁视为过期并接管。
func acquireLock(browserPID int) (*instanceLock, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("capture-host-%d.lock", browserPID))
	for range 2 {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d", os.Getpid())
			f.Close()
			return &instanceLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("lock file %s exists and is unreadable", path)
		}
		pid, _ := strconv.Atoi(string(data))
		if pid > 0 && processAlive(pid) {
			return nil, fmt.Errorf("host already running with pid %d", pid)
		}
		// 持有者已死，清掉残留锁再试一次
		os.Remove(path)
	}
	return nil, fmt.Errorf("could not acquire lock %s", path)
}

func (l *instanceLock) Release() {
	os.Remove(l.path)
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
