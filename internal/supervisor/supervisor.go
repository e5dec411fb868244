package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/coreruntime/janusd/internal/apptypes"
	"github.com/coreruntime/janusd/pkg/logging"
)

const readyTimeout = 180 * time.Second

// Supervisor spawns and monitors backend subprocesses.
type Supervisor struct {
	log logging.Logger
}

// New creates a Supervisor that logs subprocess output and lifecycle events
// through log.
func New(log logging.Logger) *Supervisor {
	return &Supervisor{log: log}
}

// Load starts a backend subprocess and blocks until it signals readiness,
// exits early, or the 180s readiness timeout elapses.
func (s *Supervisor) Load(ctx context.Context, params LoadParams) (*Session, error) {
	if _, err := os.Stat(params.BackendPath); err != nil {
		return nil, apptypes.New(apptypes.KindBinaryNotFound, fmt.Sprintf("backend binary not found: %s", params.BackendPath))
	}

	args := params.Args
	if params.ExtraArgs != "" {
		extra, err := shellwords.Parse(params.ExtraArgs)
		if err != nil {
			return nil, apptypes.Wrap(apptypes.KindModelLoadFailed, "failed to parse extra backend args", err)
		}
		args = append(append([]string{}, args...), extra...)
	}

	modelPath, ok := findFlagValue(args, "-m")
	if !ok {
		return nil, apptypes.New(apptypes.KindModelLoadFailed, "-m flag missing or has no value")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, apptypes.New(apptypes.KindModelFileNotFound, fmt.Sprintf("model file not found: %s", modelPath))
	}

	args = adjustModelPathArg(args, modelPath)
	if params.DraftModelPath != "" {
		args = append(args, "--model-draft", params.DraftModelPath)
	}
	if params.MMProjPath != "" {
		args = append(args, "--mmproj", params.MMProjPath)
	}

	cmd := exec.Command(params.BackendPath, args...)
	applyEnv(cmd, params.LibraryPath)
	configureProcAttrs(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apptypes.Wrap(apptypes.KindIOError, "failed to open stdout pipe", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, apptypes.Wrap(apptypes.KindIOError, "failed to open stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, apptypes.Wrap(apptypes.KindLlamaCppProcessError, "failed to start backend process", err)
	}

	var (
		stderrBuf strings.Builder
		stderrMu  sync.Mutex
	)

	readyCh := make(chan struct{}, 1)
	exitCh := make(chan error, 1)
	var streamsDone sync.WaitGroup
	streamsDone.Add(2)

	// Readiness is detected on stderr only; stdout lines are logged and
	// otherwise ignored, so a backend that prints its ready line only to
	// stdout times out.
	go func() {
		defer streamsDone.Done()
		scanLines(stdoutPipe, func(line string) {
			s.log.Debugf("[backend stdout] %s", line)
		})
	}()
	go func() {
		defer streamsDone.Done()
		scanLines(stderrPipe, func(line string) {
			s.log.Debugf("[backend stderr] %s", line)
			stderrMu.Lock()
			stderrBuf.WriteString(line)
			stderrBuf.WriteByte('\n')
			stderrMu.Unlock()
			if lineSignalsReady(line) {
				select {
				case readyCh <- struct{}{}:
				default:
				}
			}
		})
	}()

	go func() {
		streamsDone.Wait()
		exitCh <- cmd.Wait()
	}()

	deadline := time.NewTimer(readyTimeout)
	defer deadline.Stop()

	select {
	case <-readyCh:
		modelID := params.ModelID
		if modelID == "" {
			modelID, _ = findFlagValue(args, "-a")
		}
		port, _ := findFlagValue(args, "--port")
		apiKey, _ := findFlagValue(args, "--api-key")
		return &Session{
			PID:       cmd.Process.Pid,
			Port:      parsePortOrZero(port),
			ModelID:   modelID,
			ModelPath: modelPath,
			APIKey:    apiKey,
			cmd:       cmd,
		}, nil

	case <-exitCh:
		stderrMu.Lock()
		blob := stderrBuf.String()
		stderrMu.Unlock()
		return nil, classifyStartupFailure(blob)

	case <-deadline.C:
		_ = cmd.Process.Kill()
		<-exitCh
		stderrMu.Lock()
		blob := stderrBuf.String()
		stderrMu.Unlock()
		return nil, apptypes.New(apptypes.KindModelLoadTimedOut, "backend did not become ready within 180s").WithDetails(blob)

	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-exitCh
		return nil, apptypes.Wrap(apptypes.KindInternalError, "load cancelled", ctx.Err())
	}
}

// Unload terminates the subprocess behind sess. An already-exited or
// unknown PID is treated as success, making the operation idempotent.
func (s *Supervisor) Unload(sess *Session) error {
	if sess == nil || sess.cmd == nil || sess.cmd.Process == nil {
		return nil
	}

	done := make(chan struct{})
	waitResult := make(chan error, 1)
	go func() {
		waitResult <- sess.cmd.Wait()
		close(done)
	}()

	if err := terminateSession(sess, done); err != nil {
		s.log.Warnf("terminating session pid=%d: %v", sess.PID, err)
	}
	<-waitResult
	return nil
}

func scanLines(r io.Reader, onLine func(string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		onLine(sc.Text())
	}
}

func findFlagValue(args []string, flag string) (string, bool) {
	for i, a := range args {
		if a == flag {
			if i+1 < len(args) {
				return args[i+1], true
			}
			return "", false
		}
	}
	return "", false
}

func parsePortOrZero(s string) uint16 {
	p, err := strconv.Atoi(s)
	if err != nil || p < 0 || p > 65535 {
		return 0
	}
	return uint16(p)
}
