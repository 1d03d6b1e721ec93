package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/bootrelay/internal/entrypoint"
)

const (
	maxStderrBytes   = 64 * 1024
	defaultStopGrace = 5 * time.Second
)

// Launcher starts a worker for a resolved entrypoint.
type Launcher interface {
	Launch(ctx context.Context, entry entrypoint.Entry) (Conn, error)
}

// LaunchFunc adapts a function to Launcher.
type LaunchFunc func(ctx context.Context, entry entrypoint.Entry) (Conn, error)

func (f LaunchFunc) Launch(ctx context.Context, entry entrypoint.Entry) (Conn, error) {
	return f(ctx, entry)
}

// ProcessLauncher runs the entrypoint as a child process speaking the
// protocol over its stdin/stdout.
type ProcessLauncher struct {
	StopGrace time.Duration // SIGTERM -> SIGKILL delay
	Env       []string      // appended to the parent environment
	Logger    *slog.Logger
}

func (l *ProcessLauncher) Launch(ctx context.Context, entry entrypoint.Entry) (Conn, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("worker", entry.Name, "executable", entry.Executable)

	// Not CommandContext: the child must outlive the start request.
	cmd := exec.Command(entry.Executable, entry.Args...)
	cmd.Dir = entry.Dir
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("BOOTRELAY_HANDLE=%d", entry.Handle))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	// A plain os.Pipe keeps cmd.Wait from closing our read end under the decoder.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	stderr := &cappedBuffer{limit: maxStderrBytes}
	cmd.Stderr = stderr

	if err := ctx.Err(); err != nil {
		_ = stdin.Close()
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, err
	}

	logger.Debug("spawning worker", "args", entry.Args, "dir", entry.Dir)
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, fmt.Errorf("start process: %w", err)
	}
	_ = stdoutW.Close()

	grace := l.StopGrace
	if grace <= 0 {
		grace = defaultStopGrace
	}

	pc := &processConn{
		cmd:    cmd,
		grace:  grace,
		logger: logger,
		exited: make(chan struct{}),
		stderr: stderr,
	}
	pc.PipeConn = NewPipeConn(stdoutR, stdin, func() error {
		werr := stdin.Close()
		pc.stop()
		_ = stdoutR.Close()
		return werr
	}, logger)

	go pc.wait()
	logger.Info("worker process started", "pid", cmd.Process.Pid)
	return pc, nil
}

type processConn struct {
	*PipeConn

	cmd    *exec.Cmd
	grace  time.Duration
	logger *slog.Logger
	stderr *cappedBuffer

	exited  chan struct{}
	waitErr error
}

func (p *processConn) wait() {
	p.waitErr = p.cmd.Wait()
	close(p.exited)

	var exitErr *exec.ExitError
	switch {
	case p.waitErr == nil:
		p.logger.Info("worker process exited", "stderr", p.stderr.String())
	case errors.As(p.waitErr, &exitErr):
		p.logger.Warn("worker process exited with non-zero status", "exit_code", exitErr.ExitCode(), "stderr", p.stderr.String())
	default:
		p.logger.Error("wait for worker process", "error", p.waitErr)
	}
}

// stop waits for the child to leave after its stdin closed, then escalates
// SIGTERM -> grace -> SIGKILL.
func (p *processConn) stop() {
	select {
	case <-p.exited:
		return
	case <-time.After(p.grace):
	}

	p.logger.Warn("worker did not exit after stdin closed, sending SIGTERM")
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Error("failed to send SIGTERM", "error", err)
	}

	select {
	case <-p.exited:
		p.logger.Info("worker exited after SIGTERM")
	case <-time.After(p.grace):
		p.logger.Warn("worker did not exit after SIGTERM, sending SIGKILL")
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Error("failed to send SIGKILL", "error", err)
		}
		<-p.exited
	}
}

// cappedBuffer keeps the first limit bytes written to it.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - len(b.buf); room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
