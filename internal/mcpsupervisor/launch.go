package mcpsupervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/coreruntime/janusd/internal/apptypes"
	"github.com/coreruntime/janusd/pkg/logging"
)

// runtimePaths locates the bundled Node/Python-compatible runners used to
// override npx/uvx, so a configured service doesn't depend on the host
// having Node or Python installed.
type runtimePaths struct {
	BinDir   string
	CacheDir string
}

// rewriteCommand applies the npx->bun and uvx->uv substitutions. It leaves
// command/args untouched when no bundled runner applies.
func rewriteCommand(cfg ServiceConfig, rt runtimePaths) (command string, args []string, extraEnv []string) {
	switch cfg.Command {
	case "npx":
		return rt.BinDir + "/bun", append([]string{"x"}, cfg.Args...), []string{"BUN_INSTALL=" + rt.CacheDir + "/.npx"}
	case "uvx":
		return rt.BinDir + "/uv", append([]string{"tool", "run"}, cfg.Args...), []string{"UV_CACHE_DIR=" + rt.CacheDir + "/.uvx"}
	default:
		return cfg.Command, cfg.Args, nil
	}
}

// launchedProcess is the live state of a stdio-transport subprocess.
type launchedProcess struct {
	cmd       *exec.Cmd
	stderrBuf *syncBuffer
	exitCh    chan error
	rpc       *rpcClient
}

type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *syncBuffer) writeLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.WriteString(line)
	b.buf.WriteByte('\n')
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// launchStdio starts the configured command, piping and logging stderr so
// that a startup failure's first-chunk can be returned in the error.
func launchStdio(log logging.Logger, cfg ServiceConfig, rt runtimePaths) (*launchedProcess, error) {
	command, args, extraEnv := rewriteCommand(cfg, rt)

	cmd := exec.Command(command, args...)
	env := append([]string{}, cmd.Environ()...)
	for k, v := range cfg.Envs {
		env = append(env, k+"="+v)
	}
	env = append(env, extraEnv...)
	cmd.Env = env
	configureStdioAttrs(cmd)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, apptypes.Wrap(apptypes.KindMCPTransportError, "failed to open stderr pipe", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apptypes.Wrap(apptypes.KindMCPTransportError, "failed to open stdout pipe", err)
	}
	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, apptypes.Wrap(apptypes.KindMCPTransportError, "failed to open stdin pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, apptypes.Wrap(apptypes.KindMCPTransportError, "failed to start mcp subprocess", err)
	}

	stderrBuf := &syncBuffer{}
	var streamsDone sync.WaitGroup
	streamsDone.Add(1)
	go func() {
		defer streamsDone.Done()
		scanLines(stderrPipe, func(line string) {
			log.Debugf("[mcp stderr] %s", line)
			stderrBuf.writeLine(line)
		})
	}()

	rpc := newRPCClient(stdinPipe, stdoutPipe, &streamsDone)

	exitCh := make(chan error, 1)
	go func() {
		streamsDone.Wait()
		exitCh <- cmd.Wait()
	}()

	return &launchedProcess{cmd: cmd, stderrBuf: stderrBuf, exitCh: exitCh, rpc: rpc}, nil
}

func scanLines(r io.Reader, onLine func(string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		onLine(sc.Text())
	}
}

// headerTokenRe matches a valid RFC 7230 header field-name (a run of
// tchar characters). Env keys failing this are silently dropped, per spec.
var headerTokenRe = regexp.MustCompile(`^[!#$%&'*+\-.^_` + "`" + `|~0-9A-Za-z]+$`)

// dialHTTP builds the shared client used for HTTP/SSE transports, with
// cfg.Envs projected into default request headers.
func dialHTTP(cfg ServiceConfig) (*http.Client, http.Header, error) {
	if cfg.URL == "" {
		return nil, nil, apptypes.New(apptypes.KindMCPTransportError, "http/sse transport requires a url")
	}
	headers := make(http.Header)
	for k, v := range cfg.Envs {
		if !headerTokenRe.MatchString(k) {
			continue
		}
		headers.Set(k, v)
	}
	for k, v := range cfg.Headers {
		if !headerTokenRe.MatchString(k) {
			continue
		}
		headers.Set(k, v)
	}
	client := &http.Client{Timeout: cfg.timeoutOrDefault()}
	return client, headers, nil
}

// probeHTTP performs a minimal connectivity check against cfg.URL,
// standing in for the transport's connect handshake.
func probeHTTP(ctx context.Context, client *http.Client, headers http.Header, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apptypes.Wrap(apptypes.KindMCPTransportError, "building probe request", err)
	}
	req.Header = headers.Clone()
	resp, err := client.Do(req)
	if err != nil {
		return apptypes.Wrap(apptypes.KindMCPTransportError, fmt.Sprintf("connecting to %s", url), err)
	}
	resp.Body.Close()
	return nil
}

func defaultRuntimePaths() runtimePaths {
	return runtimePaths{BinDir: "/usr/local/bin", CacheDir: "/tmp/janusd-mcp-cache"}
}
