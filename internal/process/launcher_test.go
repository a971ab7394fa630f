package process

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process fixtures need /bin/sh")
	}
}

func newTestLauncher() *Launcher {
	return NewLauncher(WithStartupGrace(100 * time.Millisecond))
}

func TestStartMissingExecutable(t *testing.T) {
	l := newTestLauncher()

	_, err := l.Start(Key{SessionID: "s1", Purpose: "capture"}, "definitely-not-a-real-binary-ghostguide")
	if !errors.Is(err, ErrExecutableNotFound) {
		t.Fatalf("expected ErrExecutableNotFound, got %v", err)
	}

	var launchErr *LaunchError
	if !errors.As(err, &launchErr) || launchErr.Kind != KindNotFound {
		t.Fatalf("expected LaunchError with KindNotFound, got %#v", err)
	}
}

func TestStartClassifiesBusyDevice(t *testing.T) {
	skipOnWindows(t)
	l := newTestLauncher()

	_, err := l.Start(Key{SessionID: "s1", Purpose: "capture"}, "sh", "-c", `echo "Device or resource busy" >&2; exit 1`)
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if keys := l.Tracked("s1"); len(keys) != 0 {
		t.Fatalf("expected no tracked processes, got %v", keys)
	}
}

func TestStartEarlyExitIsGenericFailure(t *testing.T) {
	skipOnWindows(t)
	l := newTestLauncher()

	_, err := l.Start(Key{SessionID: "s1", Purpose: "capture"}, "sh", "-c", `echo "unknown option" >&2; exit 2`)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("did not expect device error, got %v", err)
	}

	var launchErr *LaunchError
	if !errors.As(err, &launchErr) || launchErr.Kind != KindFailed {
		t.Fatalf("expected KindFailed, got %#v", err)
	}
	if !strings.Contains(launchErr.Stderr, "unknown option") {
		t.Fatalf("expected stderr tail, got %q", launchErr.Stderr)
	}
}

func TestStopInterruptsGracefully(t *testing.T) {
	skipOnWindows(t)
	l := newTestLauncher()

	proc, err := l.Start(Key{SessionID: "s1", Purpose: "capture"}, "sleep", "30")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if proc.Pid() == 0 {
		t.Fatal("expected pid")
	}

	info := proc.Stop(2 * time.Second)
	if info.Forced {
		t.Fatal("expected graceful stop")
	}
	if info.Err != nil {
		t.Fatalf("unexpected stop error: %v", info.Err)
	}

	select {
	case <-proc.Done():
	default:
		t.Fatal("expected process to be done after Stop")
	}

	if keys := l.Tracked("s1"); len(keys) != 0 {
		t.Fatalf("expected table to be empty, got %v", keys)
	}

	again := proc.Stop(time.Second)
	if again != info {
		t.Fatalf("expected idempotent stop, got %#v then %#v", info, again)
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	skipOnWindows(t)
	l := newTestLauncher()

	proc, err := l.Start(Key{SessionID: "s1", Purpose: "capture"}, "sh", "-c", `trap "" INT TERM; echo "Press [q] to stop" >&2; while true; do sleep 0.05; done`)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	started := time.Now()
	info := proc.Stop(200 * time.Millisecond)
	if !info.Forced {
		t.Fatal("expected forced stop")
	}
	if !strings.Contains(info.Stderr, "Press [q] to stop") {
		t.Fatalf("expected stderr tail in exit info, got %q", info.Stderr)
	}
	if elapsed := time.Since(started); elapsed > 200*time.Millisecond+killGrace+time.Second {
		t.Fatalf("stop took too long: %s", elapsed)
	}
}

func TestStartRejectsDuplicateKey(t *testing.T) {
	skipOnWindows(t)
	l := newTestLauncher()
	key := Key{SessionID: "s1", Purpose: "capture-interviewer"}

	proc, err := l.Start(key, "sleep", "30")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer proc.Stop(time.Second)

	if _, err := l.Start(key, "sleep", "30"); !errors.Is(err, ErrProcessExists) {
		t.Fatalf("expected ErrProcessExists, got %v", err)
	}
}

func TestStopAllTerminatesOnlyThatSession(t *testing.T) {
	skipOnWindows(t)
	l := newTestLauncher()

	for _, key := range []Key{
		{SessionID: "s1", Purpose: "capture-interviewer"},
		{SessionID: "s1", Purpose: "capture-interviewee"},
		{SessionID: "s2", Purpose: "capture-interviewer"},
	} {
		if _, err := l.Start(key, "sleep", "30"); err != nil {
			t.Fatalf("start %s: %v", key, err)
		}
	}
	t.Cleanup(func() { l.StopAll("s2", time.Second) })

	infos := l.StopAll("s1", time.Second)
	if len(infos) != 2 {
		t.Fatalf("expected 2 exit infos, got %d", len(infos))
	}
	if keys := l.Tracked("s1"); len(keys) != 0 {
		t.Fatalf("expected s1 to be empty, got %v", keys)
	}
	if keys := l.Tracked("s2"); len(keys) != 1 {
		t.Fatalf("expected s2 to keep its process, got %v", keys)
	}
}

func TestRunCapturesOutput(t *testing.T) {
	skipOnWindows(t)
	l := newTestLauncher()

	res, err := l.Run(context.Background(), Key{SessionID: "s1", Purpose: "probe"}, "sh", "-c", "echo out; echo err >&2; exit 3")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
	if string(res.Stdout) != "out\n" {
		t.Fatalf("unexpected stdout %q", res.Stdout)
	}
	if string(res.Stderr) != "err\n" {
		t.Fatalf("unexpected stderr %q", res.Stderr)
	}
	if keys := l.Tracked("s1"); len(keys) != 0 {
		t.Fatalf("expected run to be untracked, got %v", keys)
	}
}

func TestRunHonorsContextTimeout(t *testing.T) {
	skipOnWindows(t)
	l := newTestLauncher()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err := l.Run(ctx, Key{SessionID: "s1", Purpose: "probe"}, "sleep", "5")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Fatalf("run was not bounded: %s", elapsed)
	}
}

func TestStopAllReapsInFlightRun(t *testing.T) {
	skipOnWindows(t)
	l := newTestLauncher()

	errCh := make(chan error, 1)
	go func() {
		_, err := l.Run(context.Background(), Key{SessionID: "s1", Purpose: "transcribe"}, "sleep", "30")
		errCh <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(l.Tracked("s1")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("run was never tracked")
		}
		time.Sleep(10 * time.Millisecond)
	}

	l.StopAll("s1", time.Second)

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected interrupted run to fail")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after StopAll")
	}
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	b := &tailBuffer{max: 8}
	_, _ = b.Write([]byte("0123456789"))
	_, _ = b.Write([]byte("ab"))

	if got := b.String(); got != "456789ab" {
		t.Fatalf("expected tail %q, got %q", "456789ab", got)
	}
}
