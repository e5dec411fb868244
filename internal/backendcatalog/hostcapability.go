package backendcatalog

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/elastic/go-sysinfo"
	"github.com/jaypipes/ghw"
	archvariant "github.com/tonistiigi/go-archvariant"

	"github.com/coreruntime/janusd/pkg/logging"
)

// ProbeHostCapability builds the HostCapability record for the running
// host. It degrades gracefully: a failed GPU or CPU probe yields an
// empty-but-valid sub-record rather than an error, so that a host with
// exotic or sandboxed hardware still gets a usable (if conservative)
// backend selection instead of a hard failure.
func ProbeHostCapability(_ context.Context, log logging.Logger) HostCapability {
	hc := HostCapability{
		OS:   normalizeOS(runtime.GOOS),
		Arch: normalizeArch(runtime.GOARCH),
	}

	hc.CPUExtensions = probeCPUExtensions(log)
	hc.GPUs = probeGPUs(log)
	return hc
}

func normalizeOS(goos string) string {
	switch goos {
	case "windows":
		return OSWindows
	case "linux":
		return OSLinux
	case "darwin":
		return OSMacOS
	default:
		return goos
	}
}

func normalizeArch(goarch string) string {
	switch goarch {
	case "amd64":
		return ArchX64
	case "arm64":
		return ArchARM64
	default:
		return goarch
	}
}

// probeCPUExtensions uses go-archvariant's x86-64 microarchitecture level
// detection (the same library buildkit uses to pick AVX-tuned artifacts) to
// fill in the AVX/AVX2/AVX512 tier.
func probeCPUExtensions(log logging.Logger) CPUExtensions {
	if runtime.GOARCH != "amd64" {
		return CPUExtensions{}
	}

	variant := archvariant.X86Variant()
	var ext CPUExtensions
	switch variant {
	case "v4":
		ext = CPUExtensions{AVX: true, AVX2: true, AVX512: true}
	case "v3":
		ext = CPUExtensions{AVX: true, AVX2: true}
	case "v2":
		ext = CPUExtensions{AVX: true}
	default:
		log.Debugf("unrecognized x86-64 microarchitecture variant %q, assuming no AVX", variant)
	}
	return ext
}

// probeGPUs uses ghw for hardware-level GPU enumeration, falling back to
// go-sysinfo for bare host liveness when ghw can't resolve a GPU block
// (containers, headless CI). ghw's PCI enumeration only reports the bound
// kernel driver name, not its version, so the driver version itself (what
// the CUDA minor-line gate in GetSupportedFeatures needs) comes from a
// best-effort nvidia-smi probe.
func probeGPUs(log logging.Logger) []GPU {
	gpuInfo, err := ghw.GPU()
	if err != nil {
		log.Warnf("ghw GPU probe failed, falling back to go-sysinfo: %v", err)
		return fallbackGPUsFromSysinfo(log)
	}

	gpus := make([]GPU, 0, len(gpuInfo.GraphicsCards))
	for _, card := range gpuInfo.GraphicsCards {
		if card.DeviceInfo == nil {
			continue
		}
		vendor := strings.ToLower(card.DeviceInfo.Vendor.Name)
		gpu := GPU{
			HasNVIDIA: strings.Contains(vendor, "nvidia"),
			HasVulkan: true, // presence of a GPU device node implies an ICD may expose Vulkan; the driver-version gate below is what actually restricts CUDA.
		}
		if gpu.HasNVIDIA {
			gpu.DriverVersion, gpu.MemoryBytes = probeNVIDIAInfo(log)
		}
		gpus = append(gpus, gpu)
	}
	if len(gpus) == 0 {
		return fallbackGPUsFromSysinfo(log)
	}
	return gpus
}

// probeNVIDIAInfo shells out to nvidia-smi for the fields ghw cannot
// supply: driver version and total VRAM. No library in the retrieved pack
// wraps nvidia-smi or NVML for this (DataDog's nvml collector is a much
// heavier cgo binding tied to its own agent plumbing), so this is an
// intentional stdlib (os/exec) boundary rather than a borrowed dependency.
func probeNVIDIAInfo(log logging.Logger) (driverVersion string, memoryBytes uint64) {
	out, err := exec.Command("nvidia-smi", "--query-gpu=driver_version,memory.total", "--format=csv,noheader,nounits").Output()
	if err != nil {
		log.Debugf("nvidia-smi probe failed: %v", err)
		return "", 0
	}
	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	fields := strings.Split(line, ",")
	if len(fields) != 2 {
		return "", 0
	}
	driverVersion = strings.TrimSpace(fields[0])
	if mib, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 64); err == nil {
		memoryBytes = mib * 1024 * 1024
	}
	return driverVersion, memoryBytes
}

// fallbackGPUsFromSysinfo is reached when ghw finds no PCI GPU block at
// all (common in containers). It uses go-sysinfo only to confirm the host
// probe itself is alive, then retries the nvidia-smi probe directly so a
// container with a passed-through NVIDIA device but no visible PCI
// topology can still report CUDA feature support.
func fallbackGPUsFromSysinfo(log logging.Logger) []GPU {
	if _, err := sysinfo.Host(); err != nil {
		log.Debugf("go-sysinfo host probe failed: %v", err)
		return nil
	}
	driverVersion, memoryBytes := probeNVIDIAInfo(log)
	if driverVersion == "" {
		return nil
	}
	return []GPU{{HasNVIDIA: true, DriverVersion: driverVersion, MemoryBytes: memoryBytes}}
}
