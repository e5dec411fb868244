package mcpsupervisor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coreruntime/janusd/internal/apptypes"
	"github.com/coreruntime/janusd/pkg/logging"
)

func newTestLogger() logging.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logging.NewLogrusAdapter(l)
}

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake mcp scripts are POSIX shell only")
	}
}

func writeFakeMCPScript(t *testing.T, script string) ServiceConfig {
	t.Helper()
	requireUnix(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-mcp.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return ServiceConfig{Command: path, Transport: TransportStdio, Active: true}
}

func newTestSupervisor() *Supervisor {
	sv := New(newTestLogger(), nil)
	sv.healthProbeInterval = 50 * time.Millisecond
	sv.healthProbeTimeout = 50 * time.Millisecond
	sv.maxRestarts = 3
	sv.restartDelayFn = func(attempt int) time.Duration { return 10 * time.Millisecond }
	return sv
}

// TestActivateNeverConnects covers S7: the subprocess exits during the
// 500ms verification window, so activate returns an error, no monitor is
// spawned, and a second activate call is allowed afterward.
func TestActivateNeverConnects(t *testing.T) {
	cfg := writeFakeMCPScript(t, "exit 1\n")
	sv := newTestSupervisor()

	err := sv.Activate(context.Background(), "bad-service", cfg)
	var appErr *apptypes.Error
	if err == nil {
		t.Fatal("expected an error for a subprocess that exits immediately")
	}
	if asAppError(err, &appErr) && appErr.Kind != apptypes.KindMCPNeverConnected {
		t.Fatalf("got kind %v, want KindMCPNeverConnected", appErr.Kind)
	}

	sv.mu.Lock()
	_, present := sv.services["bad-service"]
	sv.mu.Unlock()
	if present {
		t.Fatal("service must not be registered after a failed verification")
	}

	// A second activate call after the failure must be allowed.
	err2 := sv.Activate(context.Background(), "bad-service", cfg)
	if err2 == nil {
		t.Fatal("expected the second attempt to also fail (same bad command), just not with 'already active'")
	}
	if asAppError(err2, &appErr) && appErr.Kind == apptypes.KindMCPAlreadyActive {
		t.Fatal("a failed activation must not leave the service marked already-active")
	}
}

// TestActivateVerifiedThenRestartLoop covers S6: the subprocess survives
// the verification window, then exits; the monitor detects the quit via a
// failed health probe and enters the backoff restart loop, eventually
// giving up after maxRestarts. The first run of the script outlives the
// 500ms verification window; every later run exits at once, so each
// restart attempt fails verification.
func TestActivateVerifiedThenRestartLoop(t *testing.T) {
	cfg := writeFakeMCPScript(t, "if [ -e \"$0.ran\" ]; then exit 0; fi\ntouch \"$0.ran\"\nsleep 1\nexit 0\n")
	sv := newTestSupervisor()

	var mu sync.Mutex
	var events []Event
	sv.OnEvent(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	if err := sv.Activate(context.Background(), "flaky", cfg); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	sv.mu.Lock()
	_, present := sv.services["flaky"]
	sv.mu.Unlock()
	if !present {
		t.Fatal("service should be registered immediately after a verified activation")
	}

	// Give the monitor time to observe the quit, exhaust maxRestarts (each
	// restart attempt relaunches the script, which now exits at once), and stop.
	deadline := time.After(3 * time.Second)
	for {
		sv.mu.Lock()
		_, stillPresent := sv.services["flaky"]
		sv.mu.Unlock()
		if !stillPresent {
			break
		}
		select {
		case <-deadline:
			t.Fatal("monitor never gave up restarting a permanently-quitting service")
		case <-time.After(20 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	var sawMaxRestarts, sawUpdate bool
	for _, ev := range events {
		if ev.Server != "flaky" {
			continue
		}
		if ev.Type == EventMCPMaxRestartsReached {
			sawMaxRestarts = true
			if ev.MaxRestarts != sv.maxRestarts {
				t.Fatalf("event MaxRestarts = %d, want %d", ev.MaxRestarts, sv.maxRestarts)
			}
		}
		if ev.Type == EventMCPUpdate {
			sawUpdate = true
		}
	}
	if !sawUpdate {
		t.Fatal("expected at least one mcp-update event for the quit service")
	}
	if !sawMaxRestarts {
		t.Fatal("expected an mcp_max_restarts_reached event once the restart loop gave up")
	}
}

func TestDeactivateUnknownServiceIsNoop(t *testing.T) {
	sv := newTestSupervisor()
	if err := sv.Deactivate("never-activated"); err != nil {
		t.Fatalf("Deactivate on unknown service should be a no-op, got %v", err)
	}
}

func TestCancelToolCallUnknownTokenIsNoop(t *testing.T) {
	sv := newTestSupervisor()
	sv.CancelToolCall("no-such-token") // must not panic
}

func asAppError(err error, target **apptypes.Error) bool {
	if ae, ok := err.(*apptypes.Error); ok {
		*target = ae
		return true
	}
	return false
}
