// Package supervisor starts and monitors backend inference subprocesses: it
// decides, without prior knowledge of the binary being run, when the
// process has become ready to accept traffic and when it has failed.
package supervisor

import (
	"io"
	"os/exec"
)

// LoadParams describes one subprocess launch request.
type LoadParams struct {
	BackendPath string
	LibraryPath string
	ModelPath   string
	ModelID     string
	Args        []string

	// ExtraArgs is a free-form, shell-quoted argument string (as typed
	// into a single config field or CLI flag) appended to Args after
	// shell-style tokenizing. Lets a user pass arbitrary backend flags
	// ("--ctx-size 8192 --n-gpu-layers 999") without a dedicated struct
	// field per flag.
	ExtraArgs string

	// DraftModelPath and MMProjPath are appended as --model-draft and
	// --mmproj when non-empty, for speculative decoding and multimodal
	// projector support respectively.
	DraftModelPath string
	MMProjPath     string
}

// Session is one running inference subprocess, exclusively owned by the
// registry once Load returns it.
type Session struct {
	PID       int
	Port      uint16
	ModelID   string
	ModelPath string
	APIKey    string

	cmd       *exec.Cmd
	stdoutLog io.Closer
}

// Process returns the *exec.Cmd that started the session's subprocess.
func (s *Session) Process() *exec.Cmd {
	return s.cmd
}

// Device is one entry reported by --list-devices.
type Device struct {
	ID             string
	Name           string
	TotalMemoryMiB uint64
	FreeMemoryMiB  uint64
}
