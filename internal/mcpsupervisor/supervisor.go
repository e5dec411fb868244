package mcpsupervisor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coreruntime/janusd/internal/apptypes"
	"github.com/coreruntime/janusd/pkg/logging"
)

const (
	defaultHealthProbeInterval = 5 * time.Second
	defaultHealthProbeTimeout  = 2 * time.Second
)

// ConfigPersister is the subset of configstore.MCPConfig that Supervisor
// needs to persist each service's active flag.
type ConfigPersister interface {
	SetActive(name string, active bool) error
}

// Supervisor owns the set of activated tool-provider services.
type Supervisor struct {
	log   logging.Logger
	rt    runtimePaths
	store ConfigPersister

	healthProbeInterval time.Duration
	healthProbeTimeout  time.Duration
	maxRestarts         int
	restartDelayFn      func(attempt int) time.Duration

	mu       sync.Mutex
	services map[string]*service

	cancelMu sync.Mutex
	cancels  map[string]chan struct{} // token -> oneshot

	eventMu sync.Mutex
	onEvent func(Event)
}

// OnEvent registers handler to receive out-of-band lifecycle events
// (EventMCPUpdate, EventMCPMaxRestartsReached). Only one handler is kept;
// a later call replaces the previous one. Passing nil disables emission.
func (s *Supervisor) OnEvent(handler func(Event)) {
	s.eventMu.Lock()
	s.onEvent = handler
	s.eventMu.Unlock()
}

func (s *Supervisor) emit(ev Event) {
	s.eventMu.Lock()
	handler := s.onEvent
	s.eventMu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

// New creates a Supervisor. store may be nil, in which case active-flag
// persistence is skipped (useful in tests).
func New(log logging.Logger, store ConfigPersister) *Supervisor {
	return &Supervisor{
		log:                 log,
		rt:                  defaultRuntimePaths(),
		store:               store,
		healthProbeInterval: defaultHealthProbeInterval,
		healthProbeTimeout:  defaultHealthProbeTimeout,
		maxRestarts:         defaultMaxRestarts,
		restartDelayFn:      restartDelay,
		services:            make(map[string]*service),
		cancels:             make(map[string]chan struct{}),
	}
}

// Activate launches name per cfg and, if the first attempt verifies,
// starts its background monitor. A service already present is rejected.
func (s *Supervisor) Activate(ctx context.Context, name string, cfg ServiceConfig) error {
	s.mu.Lock()
	if _, exists := s.services[name]; exists {
		s.mu.Unlock()
		return apptypes.New(apptypes.KindMCPAlreadyActive, "mcp service already active: "+name)
	}
	s.mu.Unlock()

	svc, err := launch(ctx, s.log, cfg, s.rt)
	if err != nil {
		return err
	}
	svc.name = name

	s.mu.Lock()
	s.services[name] = svc
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SetActive(name, true); err != nil {
			s.log.Warnf("persisting active flag for %s: %v", name, err)
		}
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	svc.mu.Lock()
	svc.monitorCancel = cancel
	svc.mu.Unlock()
	go s.monitor(monitorCtx, name, svc)

	return nil
}

// Deactivate removes name from the registry and stops its subprocess or
// connection cleanly.
func (s *Supervisor) Deactivate(name string) error {
	s.mu.Lock()
	svc, exists := s.services[name]
	if exists {
		delete(s.services, name)
	}
	s.mu.Unlock()

	if !exists {
		return nil
	}
	svc.stop()

	if s.store != nil {
		if err := s.store.SetActive(name, false); err != nil {
			s.log.Warnf("persisting active flag for %s: %v", name, err)
		}
	}
	return nil
}

// RestartAll stops every service and re-activates the ones that were
// previously active, per the supplied configs. Never-active entries are
// skipped.
func (s *Supervisor) RestartAll(ctx context.Context, configs map[string]ServiceConfig) {
	s.mu.Lock()
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		_ = s.Deactivate(name)
	}

	// Each service's launch+verification is independent I/O, so reactivate
	// the previously-active set concurrently rather than one at a time.
	var g errgroup.Group
	for name, cfg := range configs {
		if !cfg.Active {
			continue
		}
		name, cfg := name, cfg
		g.Go(func() error {
			if err := s.Activate(ctx, name, cfg); err != nil {
				s.log.Warnf("restart_all: reactivating %s: %v", name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// ListTools queries every registered service and returns the union of
// their tools, annotated with the owning server name. A service that
// times out or errors is skipped with a warning.
func (s *Supervisor) ListTools(ctx context.Context) []Tool {
	s.mu.Lock()
	snapshot := make(map[string]*service, len(s.services))
	for name, svc := range s.services {
		snapshot[name] = svc
	}
	s.mu.Unlock()

	var out []Tool
	for name, svc := range snapshot {
		callCtx, cancel := context.WithTimeout(ctx, svc.cfg.timeoutOrDefault())
		tools, err := svc.client.listTools(callCtx)
		cancel()
		if err != nil {
			s.log.Warnf("list_tools: service %s: %v", name, err)
			continue
		}
		for _, t := range tools {
			t.Server = name
			out = append(out, t)
		}
	}
	return out
}

// CallTool resolves toolName to a service (serverName if given, otherwise
// the first service whose tool list contains it), issues the call, and
// optionally races it against cancellationToken via CancelToolCall.
func (s *Supervisor) CallTool(ctx context.Context, toolName, serverName string, arguments map[string]any, cancellationToken string) (json.RawMessage, error) {
	svc, err := s.resolveService(ctx, toolName, serverName)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, svc.cfg.timeoutOrDefault())
	defer cancel()

	var cancelCh chan struct{}
	if cancellationToken != "" {
		cancelCh = make(chan struct{})
		s.cancelMu.Lock()
		s.cancels[cancellationToken] = cancelCh
		s.cancelMu.Unlock()
		defer func() {
			s.cancelMu.Lock()
			delete(s.cancels, cancellationToken)
			s.cancelMu.Unlock()
		}()
	}

	resultCh := make(chan json.RawMessage, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := svc.client.callTool(callCtx, toolName, arguments)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	select {
	case result := <-resultCh:
		return result, nil
	case err := <-errCh:
		return nil, err
	case <-cancelCh:
		return nil, apptypes.New(apptypes.KindMCPCallCancelled, "tool call cancelled: "+toolName)
	case <-callCtx.Done():
		return nil, apptypes.Wrap(apptypes.KindMCPCallTimedOut, "tool call timed out: "+toolName, callCtx.Err())
	}
}

// CancelToolCall signals the in-flight call registered under token, if any.
func (s *Supervisor) CancelToolCall(token string) {
	s.cancelMu.Lock()
	ch, ok := s.cancels[token]
	if ok {
		delete(s.cancels, token)
	}
	s.cancelMu.Unlock()
	if ok {
		close(ch)
	}
}

func (s *Supervisor) resolveService(ctx context.Context, toolName, serverName string) (*service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if serverName != "" {
		svc, ok := s.services[serverName]
		if !ok {
			return nil, apptypes.New(apptypes.KindMCPToolNotFound, "no such mcp service: "+serverName)
		}
		return svc, nil
	}

	for _, svc := range s.services {
		callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		tools, err := svc.client.listTools(callCtx)
		cancel()
		if err != nil {
			continue
		}
		for _, t := range tools {
			if t.Name == toolName {
				return svc, nil
			}
		}
	}
	return nil, apptypes.New(apptypes.KindMCPToolNotFound, "no service exposes tool: "+toolName)
}

// monitor runs the 5s health-probe / exponential-backoff restart loop for
// one activated service, until ctx is cancelled (on Deactivate) or the
// service is removed externally.
func (s *Supervisor) monitor(ctx context.Context, name string, svc *service) {
	ticker := time.NewTicker(s.healthProbeInterval)
	defer ticker.Stop()

	current := svc
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		still, ok := s.services[name]
		s.mu.Unlock()
		if !ok || still != current {
			s.log.Debugf("mcp service %s %s, stopping monitor", name, reasonVanished)
			s.emit(Event{Type: EventMCPUpdate, Server: name, Reason: reasonVanished})
			return
		}

		probeCtx, cancel := context.WithTimeout(ctx, s.healthProbeTimeout)
		_, err := current.client.listTools(probeCtx)
		cancel()
		if err == nil {
			continue
		}

		s.log.Warnf("mcp service %s quit (%s): %v", name, reasonHealthProbeFailed, err)
		s.emit(Event{Type: EventMCPUpdate, Server: name, Reason: reasonHealthProbeFailed})
		s.mu.Lock()
		delete(s.services, name)
		s.mu.Unlock()

		if !current.hasEverConnected {
			return
		}

		current = s.restartLoop(ctx, name, current)
		if current == nil {
			return
		}
	}
}

// restartLoop re-launches a quit service with exponential backoff until a
// verified relaunch succeeds, max_restarts is exceeded, or ctx is done. It
// returns the newly verified service, or nil if the loop gave up.
func (s *Supervisor) restartLoop(ctx context.Context, name string, last *service) *service {
	attempts := 0
	for {
		attempts++
		if attempts > s.maxRestarts {
			s.log.Errorf("mcp_max_restarts_reached: server=%s max_restarts=%d", name, s.maxRestarts)
			s.emit(Event{Type: EventMCPMaxRestartsReached, Server: name, MaxRestarts: s.maxRestarts})
			return nil
		}

		delay := s.restartDelayFn(attempts)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}

		svc, err := launch(ctx, s.log, last.cfg, s.rt)
		if err != nil {
			s.log.Warnf("mcp service %s restart attempt %d failed: %v", name, attempts, err)
			continue
		}
		svc.name = name

		s.mu.Lock()
		s.services[name] = svc
		s.mu.Unlock()
		return svc
	}
}
