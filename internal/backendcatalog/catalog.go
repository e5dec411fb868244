package backendcatalog

import (
	"strconv"
	"strings"

	"github.com/docker/go-units"
)

// osPrefix returns the canonical ID prefix for an OS name ("win-", "linux-",
// or "" for macOS) and validates the OS is known.
func osPrefix(osName string) (string, error) {
	switch osName {
	case OSWindows:
		return "win-", nil
	case OSLinux:
		return "linux-", nil
	case OSMacOS:
		return "", nil
	default:
		return "", unsupportedSystem(osName, "")
	}
}

func baselineBackend(prefix, arch string) BackendID {
	if arch == ArchARM64 {
		return BackendID(prefix + "arm64")
	}
	return BackendID(prefix + "common_cpus-" + arch)
}

// DetermineSupportedBackends returns the list of backend IDs the given host
// can run, given its OS, architecture, and already-derived Features.
func DetermineSupportedBackends(osName, arch string, features Features) ([]BackendID, error) {
	prefix, err := osPrefix(osName)
	if err != nil {
		return nil, err
	}
	if arch != ArchX64 && arch != ArchARM64 {
		return nil, unsupportedSystem(osName, arch)
	}

	baseline := baselineBackend(prefix, arch)
	if osName == OSMacOS {
		return []BackendID{baseline}, nil
	}

	backends := []BackendID{baseline}
	if features.CUDA11 {
		backends = append(backends, BackendID(prefix+"cuda-11-common_cpus-"+arch))
	}
	if features.CUDA12 {
		backends = append(backends, BackendID(prefix+"cuda-12-common_cpus-"+arch))
	}
	if features.CUDA13 {
		backends = append(backends, BackendID(prefix+"cuda-13-common_cpus-"+arch))
	}
	if features.Vulkan {
		backends = append(backends, BackendID(prefix+"vulkan-common_cpus-"+arch))
	}
	return backends, nil
}

// minDriverVersion is the per-OS minimum driver version satisfying a CUDA
// generation.
var minDriverVersion = map[int]map[string]string{
	11: {OSLinux: "450.80.02", OSWindows: "452.39"},
	12: {OSLinux: "525.60.13", OSWindows: "527.41"},
	13: {OSLinux: "580", OSWindows: "580"},
}

// GetSupportedFeatures derives the CUDA-generation and Vulkan flags a host
// satisfies from its GPU list. Non-Linux/Windows hosts never get CUDA flags.
func GetSupportedFeatures(osName string, _ CPUExtensions, gpus []GPU) Features {
	var f Features
	for _, g := range gpus {
		if g.HasVulkan {
			f.Vulkan = true
		}
		if !g.HasNVIDIA {
			continue
		}
		if osName != OSLinux && osName != OSWindows {
			continue
		}
		if driverSatisfies(osName, 11, g.DriverVersion) {
			f.CUDA11 = true
		}
		if driverSatisfies(osName, 12, g.DriverVersion) {
			f.CUDA12 = true
		}
		if driverSatisfies(osName, 13, g.DriverVersion) {
			f.CUDA13 = true
		}
	}
	return f
}

func driverSatisfies(osName string, generation int, driverVersion string) bool {
	min, ok := minDriverVersion[generation][osName]
	if !ok {
		return false
	}
	return compareVersions(driverVersion, min) >= 0
}

// compareVersions compares two dotted version strings numerically,
// component by component. Missing trailing components are treated as 0.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			return av - bv
		}
	}
	return 0
}

// hasArm64Suffix reports whether id encodes the arm64 architecture.
func hasArm64Suffix(id string) bool {
	return strings.Contains(id, "-arm64")
}

// MapOldBackendToNew migrates a legacy backend identifier to its canonical
// form, matching the most specific acceleration marker first. Unknown
// inputs (including already-canonical ones) are returned unchanged.
func MapOldBackendToNew(old string) string {
	prefix := legacyOSPrefix(old)
	arch := ArchX64
	if hasArm64Suffix(old) {
		arch = ArchARM64
	}

	switch {
	case strings.Contains(old, "cuda-cu12.0"):
		return prefix + "cuda-12-common_cpus-" + arch
	case strings.Contains(old, "cuda-cu11.7"):
		return prefix + "cuda-11-common_cpus-" + arch
	case strings.Contains(old, "vulkan"):
		if old == prefix+"vulkan-common_cpus-"+arch {
			return old
		}
		return prefix + "vulkan-common_cpus-" + arch
	case containsAny(old, "avx512", "avx2", "avx-x64", "noavx-x64"):
		return prefix + "common_cpus-" + arch
	default:
		return old
	}
}

func legacyOSPrefix(old string) string {
	switch {
	case strings.HasPrefix(old, "win-"):
		return "win-"
	case strings.HasPrefix(old, "linux-"):
		return "linux-"
	default:
		return ""
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// priorityGPURich is the backend preference order when the model fits in
// GPU memory: discrete acceleration always wins, Vulkan included.
var priorityGPURich = []string{
	"cuda-13", "cuda-12", "cuda-11", "vulkan", "common_cpus",
	"avx512", "avx2", "avx", "noavx", "arm64", "x64",
}

// priorityGPUPoor is the same order but with Vulkan pushed to the very
// bottom: if the model won't fit in GPU memory, well-tuned CPU kernels beat
// a Vulkan path that would spill to host memory.
var priorityGPUPoor = []string{
	"cuda-13", "cuda-12", "cuda-11", "common_cpus",
	"avx512", "avx2", "avx", "noavx", "arm64", "x64", "vulkan",
}

// PrioritizeBackends picks the best backend out of available according to
// the GPU-rich or GPU-poor priority order. If no category matches, it falls
// back to the first entry of available.
func PrioritizeBackends(available []BackendID, hasEnoughGPUMemory bool) (BackendID, error) {
	if len(available) == 0 {
		return "", errNoBackendsAvailable
	}

	order := priorityGPURich
	if !hasEnoughGPUMemory {
		order = priorityGPUPoor
	}

	for _, category := range order {
		for _, id := range available {
			if categoryMatches(string(id), category) {
				return id, nil
			}
		}
	}
	return available[0], nil
}

func categoryMatches(id, category string) bool {
	switch category {
	case "cuda-13", "cuda-12", "cuda-11", "vulkan", "noavx":
		return strings.Contains(id, category)
	case "common_cpus":
		return strings.Contains(id, "common_cpus") && !strings.Contains(id, "cuda") && !strings.Contains(id, "vulkan")
	case "avx512":
		return strings.Contains(id, "avx512")
	case "avx2":
		return strings.Contains(id, "avx2")
	case "avx":
		return strings.Contains(id, "avx") && !strings.Contains(id, "avx2") && !strings.Contains(id, "avx512") &&
			!strings.Contains(id, "noavx")
	case "arm64":
		return strings.HasSuffix(id, "arm64") && !strings.Contains(id, "common_cpus")
	case "x64":
		return strings.HasSuffix(id, "x64") && !strings.Contains(id, "common_cpus") &&
			!strings.Contains(id, "cuda") && !strings.Contains(id, "vulkan") &&
			!strings.Contains(id, "avx") && !strings.Contains(id, "noavx")
	default:
		return false
	}
}

type errString string

func (e errString) Error() string { return string(e) }

var errNoBackendsAvailable = errString("no backends available")

// parseTrailingVersion strips any non-digit prefix from s, then parses the
// leading run of digit characters that follows as an unsigned integer.
func parseTrailingVersion(s string) (uint64, bool) {
	start := -1
	for i, r := range s {
		if r >= '0' && r <= '9' {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, false
	}
	end := start
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	v, err := strconv.ParseUint(s[start:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// CheckBackendForUpdates compares current's embedded version against every
// entry in catalog, reporting the newest candidate if it is strictly newer.
func CheckBackendForUpdates(current string, catalog []string) (UpdateInfo, error) {
	currentVersion, ok := parseTrailingVersion(current)
	if !ok {
		return UpdateInfo{}, errString("current backend has no parseable version: " + current)
	}

	var best string
	var bestVersion uint64
	for _, candidate := range catalog {
		v, ok := parseTrailingVersion(candidate)
		if !ok {
			continue
		}
		if v > bestVersion {
			bestVersion = v
			best = candidate
		}
	}

	if best == "" || bestVersion <= currentVersion {
		return UpdateInfo{UpdateNeeded: false}, nil
	}
	return UpdateInfo{
		UpdateNeeded:  true,
		NewVersion:    strconv.FormatUint(bestVersion, 10),
		TargetBackend: best,
	}, nil
}

// HasEnoughGPUMemory reports whether the largest available GPU can hold a
// model of the given size, leaving headroom for context/KV cache as
// accounted for by overheadBytes.
func HasEnoughGPUMemory(gpus []GPU, modelSizeBytes, overheadBytes uint64) bool {
	required := modelSizeBytes + overheadBytes
	for _, g := range gpus {
		if g.MemoryBytes >= required {
			return true
		}
	}
	return false
}

// FormatBytes renders a byte count in human-readable units, e.g. for the
// GPU memory figure in serve's preferred-backend log line.
func FormatBytes(n uint64) string {
	return units.BytesSize(float64(n))
}
