package natmsg

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/containerd/errdefs"
)

// Transport 帧传输通道抽象
//
// ReadFrame 阻塞直到解出一帧或通道失效；WriteFrame 必须整帧写出。
// 两者可被不同 goroutine 并发调用，但各自不保证内部并发安全，
// 由 Bridge 保证同方向串行。
type Transport interface {
	ReadFrame() (*Frame, error)
	WriteFrame(*Frame) error
	Close() error
}

// Connector 建立一条新的传输通道，重连时被反复调用
type Connector func() (Transport, error)

// streamTransport 基于一对字节流的传输通道
type streamTransport struct {
	r       io.Reader
	w       io.Writer
	closers []io.Closer

	writeMu sync.Mutex
}

// NewStreamTransport 用任意读写流构造传输通道
func NewStreamTransport(r io.Reader, w io.Writer, closers ...io.Closer) Transport {
	return &streamTransport{r: r, w: w, closers: closers}
}

// NewStdioTransport 原生消息宿主侧的标准流通道
//
// stdin 承载入站帧，stdout 承载出站帧，因此宿主进程的所有
// 日志必须走 stderr。
func NewStdioTransport() Transport {
	return &streamTransport{r: os.Stdin, w: os.Stdout}
}

func (t *streamTransport) ReadFrame() (*Frame, error) {
	return ReadFrame(t.r)
}

func (t *streamTransport) WriteFrame(f *Frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return WriteFrame(t.w, f)
}

func (t *streamTransport) Close() error {
	var first error
	for _, c := range t.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// subprocessTransport 拉起子进程并通过其标准流收发帧
type subprocessTransport struct {
	streamTransport
	cmd *exec.Cmd
}

// NewSubprocessTransport 启动 path 指定的宿主子进程
//
// 子进程的 stderr 透传到当前进程，便于统一收集日志。
// 可执行文件缺失时返回包含 errdefs.ErrNotFound 的结构化错误，
// 上层据此决定是否放弃重试。
func NewSubprocessTransport(path string, args ...string) (Transport, error) {
	cmd := exec.Command(path, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("host executable %q: %w", path, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("starting host process %q: %w", path, err)
	}

	return &subprocessTransport{
		streamTransport: streamTransport{
			r:       stdout,
			w:       stdin,
			closers: []io.Closer{stdin, stdout},
		},
		cmd: cmd,
	}, nil
}

func (t *subprocessTransport) Close() error {
	err := t.streamTransport.Close()
	// 等待子进程退出，避免僵尸进程；关闭 stdin 即通知其结束
	if waitErr := t.cmd.Wait(); waitErr != nil && err == nil {
		err = waitErr
	}
	return err
}
