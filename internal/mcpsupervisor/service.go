package mcpsupervisor

import (
	"context"
	"sync"
	"time"

	"github.com/coreruntime/janusd/internal/apptypes"
	"github.com/coreruntime/janusd/pkg/logging"
)

const verificationDelay = 500 * time.Millisecond

// service is the live state of one activated tool-provider.
type service struct {
	name   string
	cfg    ServiceConfig
	client toolClient

	proc *launchedProcess // non-nil for stdio transport only

	mu               sync.Mutex
	hasEverConnected bool
	attempts         int
	monitorCancel    context.CancelFunc
}

// launch starts service per its transport and, for stdio, verifies it is
// still alive after verificationDelay. http/sse are verified by a
// successful connect probe instead.
func launch(ctx context.Context, log logging.Logger, cfg ServiceConfig, rt runtimePaths) (*service, error) {
	switch cfg.Transport {
	case TransportHTTP, TransportSSE:
		client, headers, err := dialHTTP(cfg)
		if err != nil {
			return nil, err
		}
		probeCtx, cancel := context.WithTimeout(ctx, cfg.timeoutOrDefault())
		defer cancel()
		if err := probeHTTP(probeCtx, client, headers, cfg.URL); err != nil {
			return nil, err
		}
		return &service{cfg: cfg, client: newHTTPRPCClient(client, headers, cfg.URL), hasEverConnected: true}, nil

	default: // stdio
		proc, err := launchStdio(log, cfg, rt)
		if err != nil {
			return nil, err
		}

		select {
		case <-proc.exitCh:
			return nil, apptypes.New(apptypes.KindMCPNeverConnected,
				"mcp subprocess exited during verification").WithDetails(proc.stderrBuf.String())
		case <-time.After(verificationDelay):
		}

		return &service{cfg: cfg, client: proc.rpc, proc: proc, hasEverConnected: true}, nil
	}
}

func (s *service) stop() {
	s.mu.Lock()
	if s.monitorCancel != nil {
		s.monitorCancel()
	}
	proc := s.proc
	s.mu.Unlock()

	if proc != nil && proc.cmd.Process != nil {
		_ = proc.cmd.Process.Kill()
		<-proc.exitCh
	}
}
