// Package process starts and supervises the external programs the capture
// pipeline depends on (ffmpeg captures, ffprobe probes, whisper runs) and keeps
// a per-session table of them so nothing outlives its session.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultStartupGrace = 300 * time.Millisecond
	killGrace           = 2 * time.Second
	stderrTailSize      = 4096
)

// ErrStopTimeout is reported in ExitInfo when a process survived SIGKILL for killGrace.
var ErrStopTimeout = errors.New("process did not exit after kill")

// Key identifies a process by the session that owns it and what it is for,
// e.g. {"s1", "capture-interviewer"}.
type Key struct {
	SessionID string
	Purpose   string
}

func (k Key) String() string {
	return k.SessionID + "/" + k.Purpose
}

// Proc is a handle to a long-lived process started by a Launcher.
type Proc interface {
	Key() Key
	Pid() int
	Done() <-chan struct{}
	Stop(grace time.Duration) ExitInfo
}

type ExitInfo struct {
	Key      Key
	ExitCode int
	Forced   bool
	Err      error
	Duration time.Duration
	// Stderr holds the last bytes the process wrote to stderr.
	Stderr string
}

// Result is the outcome of a bounded Run.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

type Launcher struct {
	mu       sync.Mutex
	sessions map[string]map[*handle]struct{}

	startupGrace time.Duration
	lookPath     func(string) (string, error)
}

type Option func(*Launcher)

// WithStartupGrace sets how long a freshly started process is watched for an early exit.
func WithStartupGrace(d time.Duration) Option {
	return func(l *Launcher) {
		if d >= 0 {
			l.startupGrace = d
		}
	}
}

func NewLauncher(opts ...Option) *Launcher {
	l := &Launcher{
		sessions:     make(map[string]map[*handle]struct{}),
		startupGrace: defaultStartupGrace,
		lookPath:     exec.LookPath,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start launches a long-lived process. It returns only after the process has
// survived the startup grace period; an early exit is reported as a LaunchError
// classified from the process's stderr.
func (l *Launcher) Start(key Key, name string, args ...string) (Proc, error) {
	path, err := l.lookPath(name)
	if err != nil {
		return nil, &LaunchError{Kind: KindNotFound, Command: name, Err: err}
	}

	l.mu.Lock()
	if l.liveLocked(key) {
		l.mu.Unlock()
		return nil, fmt.Errorf("start %s: %w", key, ErrProcessExists)
	}

	cmd := exec.Command(path, args...)
	stderr := &tailBuffer{max: stderrTailSize}
	cmd.Stderr = stderr
	cmd.WaitDelay = killGrace

	if err := cmd.Start(); err != nil {
		l.mu.Unlock()
		return nil, &LaunchError{Kind: KindFailed, Command: name, Err: err}
	}

	h := l.newHandle(key, cmd)
	h.stderr = stderr
	l.trackLocked(h)
	l.mu.Unlock()

	go h.wait()

	timer := time.NewTimer(l.startupGrace)
	defer timer.Stop()

	select {
	case <-h.done:
		tail := stderr.String()
		exitErr := h.waitErr
		if exitErr == nil {
			exitErr = errors.New("exited during startup")
		}
		slog.Warn("process exited during startup", "key", key.String(), "command", name, "err", exitErr)
		return nil, &LaunchError{
			Kind:    classifyStartupFailure(tail),
			Command: name,
			Stderr:  tail,
			Err:     exitErr,
		}
	case <-timer.C:
	}

	slog.Debug("process started", "key", key.String(), "command", name, "pid", cmd.Process.Pid)
	return h, nil
}

// Run executes a short-lived command to completion, capturing its output. The
// process is tracked for its lifetime so StopAll can reap it, and it is killed
// when ctx is done.
func (l *Launcher) Run(ctx context.Context, key Key, name string, args ...string) (Result, error) {
	path, err := l.lookPath(name)
	if err != nil {
		return Result{ExitCode: -1}, &LaunchError{Kind: KindNotFound, Command: name, Err: err}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = killGrace

	l.mu.Lock()
	if err := cmd.Start(); err != nil {
		l.mu.Unlock()
		return Result{ExitCode: -1}, &LaunchError{Kind: KindFailed, Command: name, Err: err}
	}
	h := l.newHandle(key, cmd)
	l.trackLocked(h)
	l.mu.Unlock()

	h.wait()

	result := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode(cmd),
	}
	if h.waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("run %s: %w", name, ctxErr)
		}
		return result, fmt.Errorf("run %s: %w", name, h.waitErr)
	}
	return result, nil
}

// StopAll stops every tracked process of the session in parallel.
func (l *Launcher) StopAll(sessionID string, grace time.Duration) []ExitInfo {
	l.mu.Lock()
	handles := make([]*handle, 0, len(l.sessions[sessionID]))
	for h := range l.sessions[sessionID] {
		handles = append(handles, h)
	}
	l.mu.Unlock()

	infos := make([]ExitInfo, len(handles))
	var g errgroup.Group
	for i, h := range handles {
		g.Go(func() error {
			infos[i] = h.Stop(grace)
			return nil
		})
	}
	_ = g.Wait()

	return infos
}

// Tracked lists the keys of the session's live processes.
func (l *Launcher) Tracked(sessionID string) []Key {
	l.mu.Lock()
	defer l.mu.Unlock()

	var keys []Key
	for h := range l.sessions[sessionID] {
		keys = append(keys, h.key)
	}
	return keys
}

func (l *Launcher) newHandle(key Key, cmd *exec.Cmd) *handle {
	return &handle{
		key:     key,
		cmd:     cmd,
		started: time.Now(),
		done:    make(chan struct{}),
		release: l.untrack,
	}
}

func (l *Launcher) liveLocked(key Key) bool {
	for h := range l.sessions[key.SessionID] {
		if h.key == key && !h.exited() {
			return true
		}
	}
	return false
}

func (l *Launcher) trackLocked(h *handle) {
	set, ok := l.sessions[h.key.SessionID]
	if !ok {
		set = make(map[*handle]struct{})
		l.sessions[h.key.SessionID] = set
	}
	set[h] = struct{}{}
}

func (l *Launcher) untrack(h *handle) {
	l.mu.Lock()
	defer l.mu.Unlock()

	set := l.sessions[h.key.SessionID]
	delete(set, h)
	if len(set) == 0 {
		delete(l.sessions, h.key.SessionID)
	}
}

type handle struct {
	key     Key
	cmd     *exec.Cmd
	stderr  *tailBuffer
	started time.Time
	release func(*handle)

	done    chan struct{}
	waitErr error

	stopOnce sync.Once
	stopped  ExitInfo
}

func (h *handle) Key() Key              { return h.key }
func (h *handle) Done() <-chan struct{} { return h.done }

func (h *handle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *handle) wait() {
	h.waitErr = h.cmd.Wait()
	h.release(h)
	close(h.done)
}

func (h *handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Stop interrupts the process, waits up to grace for it to exit and then
// kills it. It never blocks longer than grace plus killGrace and is safe to
// call more than once.
func (h *handle) Stop(grace time.Duration) ExitInfo {
	h.stopOnce.Do(func() {
		forced := false
		if !h.exited() {
			if err := h.cmd.Process.Signal(os.Interrupt); err != nil && !h.exited() {
				// Interrupt is unsupported on windows.
				_ = h.cmd.Process.Kill()
				forced = true
			}
			if !forced {
				timer := time.NewTimer(grace)
				select {
				case <-h.done:
				case <-timer.C:
					_ = h.cmd.Process.Kill()
					forced = true
				}
				timer.Stop()
			}
		}

		info := ExitInfo{Key: h.key, Forced: forced, ExitCode: -1}
		select {
		case <-h.done:
			info.ExitCode = exitCode(h.cmd)
		case <-time.After(killGrace):
			info.Err = ErrStopTimeout
			h.release(h)
		}
		info.Duration = time.Since(h.started)
		info.Stderr = h.stderrTail()

		slog.Debug("process stopped", "key", h.key.String(), "exit_code", info.ExitCode, "forced", forced)
		h.stopped = info
	})
	return h.stopped
}

func (h *handle) stderrTail() string {
	if h.stderr == nil {
		return ""
	}
	return h.stderr.String()
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// tailBuffer keeps only the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
