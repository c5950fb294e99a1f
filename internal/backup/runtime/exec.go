package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// ExecRuntime runs commands as local processes. Image is ignored.
type ExecRuntime struct {
	WorkDir string
}

// NewExecRuntime creates a process runtime rooted at workDir.
func NewExecRuntime(workDir string) *ExecRuntime {
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "docflow", "backup")
	}
	return &ExecRuntime{WorkDir: workDir}
}

func (e *ExecRuntime) Name() string { return KindExec }

// Start launches the command in its own process group.
func (e *ExecRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("command is required")
	}

	dir := e.WorkDir
	if opts.Name != "" {
		dir = filepath.Join(e.WorkDir, opts.Name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	out := &syncBuffer{}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	h := &ExecHandle{cmd: cmd, out: out, done: make(chan struct{})}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

// ExecHandle is a running process.
type ExecHandle struct {
	cmd     *exec.Cmd
	out     *syncBuffer
	done    chan struct{}
	waitErr error
}

// Wait returns the exit code. A cancelled ctx kills the process group and
// returns exit code -1 with ctx.Err().
func (h *ExecHandle) Wait(ctx context.Context) (ExitResult, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		_ = h.kill(syscall.SIGKILL)
		<-h.done
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}

	if h.waitErr == nil {
		return ExitResult{ExitCode: 0}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(h.waitErr, &exitErr) {
		return ExitResult{ExitCode: exitErr.ExitCode()}, nil
	}
	return ExitResult{ExitCode: -1, Error: h.waitErr}, h.waitErr
}

// Stop sends SIGTERM and escalates to SIGKILL after five seconds or when ctx ends.
func (h *ExecHandle) Stop(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if err := h.kill(syscall.SIGTERM); err != nil {
		return err
	}
	select {
	case <-h.done:
		return nil
	case <-time.After(5 * time.Second):
	case <-ctx.Done():
	}
	_ = h.kill(syscall.SIGKILL)
	<-h.done
	return nil
}

func (h *ExecHandle) kill(sig syscall.Signal) error {
	if h.cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-h.cmd.Process.Pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func (h *ExecHandle) Logs(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(h.out.Bytes())), nil
}

// syncBuffer is a bytes.Buffer safe for the concurrent stdout/stderr writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}
