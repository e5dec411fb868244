package backendcatalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMapOldBackendToNew(t *testing.T) {
	tests := []struct {
		name string
		old  string
		want string
	}{
		{"windows cuda 12 legacy", "win-avx2-cuda-cu12.0-x64", "win-cuda-12-common_cpus-x64"},
		{"linux cuda 11 legacy", "linux-avx2-cuda-cu11.7-x64", "linux-cuda-11-common_cpus-x64"},
		{"windows vulkan legacy", "win-vulkan-x64", "win-vulkan-common_cpus-x64"},
		{"legacy avx512", "win-avx512-x64", "win-common_cpus-x64"},
		{"legacy avx2", "linux-avx2-x64", "linux-common_cpus-x64"},
		{"legacy avx-x64", "avx-x64", "common_cpus-x64"},
		{"legacy noavx-x64", "win-noavx-x64", "win-common_cpus-x64"},
		{"arm64 legacy avx marker ignored for arch", "win-avx2-cuda-cu12.0-arm64", "win-cuda-12-common_cpus-arm64"},
		{"unknown left unchanged", "some-custom-id", "some-custom-id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapOldBackendToNew(tt.old)
			if got != tt.want {
				t.Errorf("MapOldBackendToNew(%q) = %q, want %q", tt.old, got, tt.want)
			}
		})
	}
}

// TestMapOldBackendToNewIdempotent asserts migration applied to an
// already-canonical ID is a no-op, and applying it twice equals applying
// it once.
func TestMapOldBackendToNewIdempotent(t *testing.T) {
	canonical := []string{
		"win-common_cpus-x64",
		"linux-common_cpus-x64",
		"common_cpus-x64",
		"arm64",
		"win-arm64",
		"win-cuda-11-common_cpus-x64",
		"win-cuda-12-common_cpus-x64",
		"win-cuda-13-common_cpus-x64",
		"linux-cuda-12-common_cpus-x64",
		"win-vulkan-common_cpus-x64",
		"linux-vulkan-common_cpus-x64",
	}
	for _, c := range canonical {
		t.Run(c, func(t *testing.T) {
			once := MapOldBackendToNew(c)
			if once != c {
				t.Errorf("MapOldBackendToNew(%q) = %q, want unchanged", c, once)
			}
			twice := MapOldBackendToNew(once)
			if twice != once {
				t.Errorf("migration not idempotent: once=%q twice=%q", once, twice)
			}
		})
	}
}

func TestDetermineSupportedBackends(t *testing.T) {
	backends, err := DetermineSupportedBackends(OSWindows, ArchX64, Features{CUDA12: true, Vulkan: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []BackendID{"win-common_cpus-x64", "win-cuda-12-common_cpus-x64", "win-vulkan-common_cpus-x64"}
	if len(backends) != len(want) {
		t.Fatalf("got %v, want %v", backends, want)
	}
	for i := range want {
		if backends[i] != want[i] {
			t.Errorf("backends[%d] = %q, want %q", i, backends[i], want[i])
		}
	}

	macBackends, err := DetermineSupportedBackends(OSMacOS, ArchARM64, Features{CUDA12: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(macBackends) != 1 || macBackends[0] != "arm64" {
		t.Errorf("macOS should return only its single arch entry, got %v", macBackends)
	}

	if _, err := DetermineSupportedBackends("plan9", ArchX64, Features{}); err == nil {
		t.Error("expected error for unsupported OS")
	} else if !errors.Is(err, ErrUnsupportedSystem) {
		t.Errorf("expected ErrUnsupportedSystem, got %v", err)
	}
}

func TestGetSupportedFeatures(t *testing.T) {
	gpus := []GPU{
		{HasNVIDIA: true, DriverVersion: "525.60.13"},
		{HasVulkan: true},
	}
	f := GetSupportedFeatures(OSLinux, CPUExtensions{}, gpus)
	if !f.CUDA11 || !f.CUDA12 || f.CUDA13 {
		t.Errorf("unexpected CUDA flags: %+v", f)
	}
	if !f.Vulkan {
		t.Error("expected Vulkan flag set")
	}

	// Non-Linux/Windows hosts never get CUDA flags.
	macFeatures := GetSupportedFeatures(OSMacOS, CPUExtensions{}, gpus)
	if macFeatures.CUDA11 || macFeatures.CUDA12 || macFeatures.CUDA13 {
		t.Errorf("macOS must not derive CUDA flags, got %+v", macFeatures)
	}
}

// TestPrioritizeBackendsDeterministic asserts repeated calls with the same
// inputs always pick the same backend.
func TestPrioritizeBackendsDeterministic(t *testing.T) {
	available := []BackendID{
		"win-common_cpus-x64",
		"win-vulkan-common_cpus-x64",
		"win-cuda-12-common_cpus-x64",
	}

	for i := 0; i < 10; i++ {
		got, err := PrioritizeBackends(available, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "win-cuda-12-common_cpus-x64" {
			t.Errorf("GPU-rich pick = %q, want cuda-12 backend", got)
		}
	}

	gpuPoor := []BackendID{"win-vulkan-common_cpus-x64", "win-common_cpus-x64"}
	got, err := PrioritizeBackends(gpuPoor, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "win-common_cpus-x64" {
		t.Errorf("GPU-poor pick = %q, want common_cpus over vulkan", got)
	}

	if _, err := PrioritizeBackends(nil, true); err == nil {
		t.Error("expected error for empty available list")
	}

	fallback, err := PrioritizeBackends([]BackendID{"totally-unknown-id"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fallback != "totally-unknown-id" {
		t.Errorf("expected fallback to first entry, got %q", fallback)
	}
}

func TestCheckBackendForUpdates(t *testing.T) {
	info, err := CheckBackendForUpdates("build-v120", []string{"build-v118", "build-v125", "build-v100"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !info.UpdateNeeded || info.TargetBackend != "build-v125" {
		t.Errorf("got %+v, want update to build-v125", info)
	}

	noUpdate, err := CheckBackendForUpdates("build-v130", []string{"build-v118", "build-v125"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if noUpdate.UpdateNeeded {
		t.Errorf("expected no update needed, got %+v", noUpdate)
	}
}

func TestMigrateLegacyInstalls(t *testing.T) {
	dir := t.TempDir()
	backendDir := filepath.Join(dir, "backends", "current")
	legacyDir := filepath.Join(dir, "engines", "legacy", "cuda-11")
	if err := os.MkdirAll(legacyDir, 0o755); err != nil {
		t.Fatal(err)
	}
	legacyLib := filepath.Join(legacyDir, "libcudart.so.11.0")
	if err := os.WriteFile(legacyLib, []byte("fake-lib"), 0o644); err != nil {
		t.Fatal(err)
	}

	moved, err := MigrateLegacyInstalls(backendDir, dir, OSLinux, "11")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !moved {
		t.Fatal("expected migration to report moved=true")
	}
	if _, err := os.Stat(filepath.Join(backendDir, "libcudart.so.11.0")); err != nil {
		t.Errorf("expected library at new location: %v", err)
	}

	// Second call: already present at new location, no-op.
	moved, err = MigrateLegacyInstalls(backendDir, dir, OSLinux, "11")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved {
		t.Error("expected no-op when already migrated")
	}

	// Nothing present anywhere: still a success no-op.
	moved, err = MigrateLegacyInstalls(filepath.Join(dir, "other"), dir, OSLinux, "12")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved {
		t.Error("expected no-op when nothing to migrate")
	}
}
