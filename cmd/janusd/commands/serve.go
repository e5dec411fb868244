package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/coreruntime/janusd/internal/applog"
	"github.com/coreruntime/janusd/internal/backendcatalog"
	"github.com/coreruntime/janusd/internal/configstore"
	"github.com/coreruntime/janusd/internal/mcpsupervisor"
	"github.com/coreruntime/janusd/internal/proxy"
	"github.com/coreruntime/janusd/internal/registry"
	"github.com/coreruntime/janusd/internal/supervisor"
	"github.com/coreruntime/janusd/pkg/logging"
)

type serveFlags struct {
	host         string
	port         int
	prefix       string
	apiKey       string
	trustedHosts []string
	proxyTimeout time.Duration
	mcpConfig    string

	// Optional single model to load at startup, mainly useful for
	// exercising the full proxy/session path without a frontend.
	backendPath string
	libraryPath string
	modelPath   string
	modelID     string
	extraArgs   string
}

func newServeCmd() *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reverse proxy and MCP supervisor as a daemon",
		Long: `serve starts the OpenAI-compatible reverse proxy and the MCP tool-provider
supervisor, and runs until interrupted.

No model is loaded by default; pass --backend-path, --model-path, and
--model-id to start one inference session at launch.

Example:
  janusd serve --host 127.0.0.1 --port 0 --trusted-hosts '*'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.host, "host", "127.0.0.1", "Listen host for the reverse proxy")
	f.IntVar(&flags.port, "port", 0, "Listen port for the reverse proxy (0 = OS-assigned)")
	f.StringVar(&flags.prefix, "prefix", "/v1", "Path prefix stripped before routing to a session")
	f.StringVar(&flags.apiKey, "api-key", "", "Bearer/X-Api-Key value required of callers (empty disables auth)")
	f.StringSliceVar(&flags.trustedHosts, "trusted-hosts", []string{"localhost", "127.0.0.1"}, "Allowed Host header patterns; '*' disables the check")
	f.DurationVar(&flags.proxyTimeout, "proxy-timeout", 5*time.Minute, "Upstream request timeout")
	f.StringVar(&flags.mcpConfig, "mcp-config", "", "Path to mcp_config.json (defaults to the user config directory)")

	f.StringVar(&flags.backendPath, "backend-path", "", "Inference backend binary to launch at startup")
	f.StringVar(&flags.libraryPath, "library-path", "", "Extra shared-library directory for the backend process")
	f.StringVar(&flags.modelPath, "model-path", "", "Model file path, passed to the backend as -m")
	f.StringVar(&flags.modelID, "model-id", "", "Model identifier the proxy will route to the started session")
	f.StringVar(&flags.extraArgs, "extra-args", "", "Extra backend CLI arguments as one shell-quoted string, e.g. '--ctx-size 8192 --n-gpu-layers 999'")

	return cmd
}

func runServe(ctx context.Context, flags *serveFlags) error {
	log := applog.New("serve")

	hostCap := backendcatalog.ProbeHostCapability(ctx, log)
	backends, err := backendcatalog.DetermineSupportedBackends(hostCap.OS, hostCap.Arch, backendcatalog.GetSupportedFeatures(hostCap.OS, hostCap.CPUExtensions, hostCap.GPUs))
	if err != nil {
		log.Warnf("determining supported backends: %v", err)
	} else {
		log.Infof("host capability resolved: os=%s arch=%s supported_backends=%v", hostCap.OS, hostCap.Arch, backends)
		logPreferredBackend(log, hostCap, backends, flags.modelPath)
	}

	reg := registry.New()
	proc := supervisor.New(applog.New("supervisor"))

	if flags.backendPath != "" {
		if err := loadStartupModel(ctx, log, proc, reg, flags); err != nil {
			return fmt.Errorf("loading startup model: %w", err)
		}
	}

	trusted := make([]proxy.TrustedHostPattern, len(flags.trustedHosts))
	for i, h := range flags.trustedHosts {
		trusted[i] = proxy.TrustedHostPattern(h)
	}

	proxySrv := proxy.New(proxy.Config{
		Host:         flags.host,
		Port:         flags.port,
		Prefix:       flags.prefix,
		APIKey:       flags.apiKey,
		TrustedHosts: trusted,
		ProxyTimeout: flags.proxyTimeout,
	}, applog.New("proxy"), reg)

	actualPort, err := proxySrv.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting proxy: %w", err)
	}
	log.Infof("reverse proxy listening on %s:%d%s", flags.host, actualPort, flags.prefix)

	mcpCfgPath := flags.mcpConfig
	if mcpCfgPath == "" {
		mcpCfgPath = configstore.GetPath("janusd", "mcp_config.json")
	}
	mcpStore, err := configstore.LoadMCPConfig(mcpCfgPath)
	if err != nil {
		return fmt.Errorf("loading mcp config %s: %w", mcpCfgPath, err)
	}
	mcpSup := mcpsupervisor.New(applog.New("mcp"), mcpStore)
	mcpEventLog := applog.New("mcp-event")
	mcpSup.OnEvent(func(ev mcpsupervisor.Event) {
		mcpEventLog.Infof("event=%s server=%s reason=%s max_restarts=%d", ev.Type, ev.Server, ev.Reason, ev.MaxRestarts)
	})

	services, err := mcpStore.Services()
	if err != nil {
		log.Warnf("reading mcp services from %s: %v", mcpCfgPath, err)
	}
	for name, entry := range services {
		if !entry.Active {
			continue
		}
		cfg := mcpsupervisor.ServiceConfig{
			Command:   entry.Command,
			Args:      entry.Args,
			Envs:      entry.Envs,
			Transport: mcpsupervisor.Transport(entry.Transport),
			URL:       entry.URL,
			Headers:   entry.Headers,
			Timeout:   time.Duration(entry.TimeoutMS) * time.Millisecond,
			Active:    entry.Active,
		}
		if err := mcpSup.Activate(ctx, name, cfg); err != nil {
			log.Warnf("activating mcp service %s at startup: %v", name, err)
		}
	}

	<-ctx.Done()
	log.Infof("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := proxySrv.Stop(stopCtx); err != nil {
		log.Warnf("stopping proxy: %v", err)
	}

	for name := range services {
		_ = mcpSup.Deactivate(name)
	}

	if flags.backendPath != "" {
		for _, sess := range reg.List() {
			if err := proc.Unload(sess); err != nil {
				log.Warnf("unloading session %s: %v", sess.ModelID, err)
			}
		}
	}

	return nil
}

// gpuMemoryOverheadBytes is headroom reserved for context/KV cache on top
// of the raw model file size when judging GPU-rich vs GPU-poor placement.
const gpuMemoryOverheadBytes = 1 << 30

// logPreferredBackend resolves and logs the backend PrioritizeBackends
// would pick for modelPath given the probed GPU memory, purely as a
// startup diagnostic (the actual backend binary still comes from
// --backend-path; this does not gate loadStartupModel).
func logPreferredBackend(log logging.Logger, hostCap backendcatalog.HostCapability, backends []backendcatalog.BackendID, modelPath string) {
	var modelSizeBytes uint64
	if modelPath != "" {
		if fi, err := os.Stat(modelPath); err == nil {
			modelSizeBytes = uint64(fi.Size())
		}
	}

	var totalGPUMemory uint64
	for _, g := range hostCap.GPUs {
		totalGPUMemory += g.MemoryBytes
	}
	hasEnough := backendcatalog.HasEnoughGPUMemory(hostCap.GPUs, modelSizeBytes, gpuMemoryOverheadBytes)

	best, err := backendcatalog.PrioritizeBackends(backends, hasEnough)
	if err != nil {
		log.Warnf("prioritizing backends: %v", err)
		return
	}
	log.Infof("preferred backend: %s (gpu_memory_sufficient=%v, gpu_memory_available=%s)",
		best, hasEnough, backendcatalog.FormatBytes(totalGPUMemory))
}

func loadStartupModel(ctx context.Context, log logging.Logger, proc *supervisor.Supervisor, reg *registry.Registry, flags *serveFlags) error {
	port, err := reg.AllocatePort()
	if err != nil {
		return fmt.Errorf("allocating port: %w", err)
	}

	args := []string{"-m", flags.modelPath, "--port", fmt.Sprintf("%d", port)}
	sess, err := proc.Load(ctx, supervisor.LoadParams{
		BackendPath: flags.backendPath,
		LibraryPath: flags.libraryPath,
		ModelPath:   flags.modelPath,
		ModelID:     flags.modelID,
		Args:        args,
		ExtraArgs:   flags.extraArgs,
	})
	if err != nil {
		return err
	}

	reg.Insert(sess)
	log.Infof("started session pid=%d model=%s port=%d", sess.PID, sess.ModelID, sess.Port)
	return nil
}
