package backendcatalog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// cudaRuntimeLibraryNames maps (os, cudaVersion) to the canonical CUDA
// runtime shared library name that must be present for a backend to run.
var cudaRuntimeLibraryNames = map[string]map[string]string{
	OSWindows: {
		"11": "cudart64_110.dll",
		"12": "cudart64_12.dll",
		"13": "cudart64_13.dll",
	},
	OSLinux: {
		"11": "libcudart.so.11.0",
		"12": "libcudart.so.12",
		"13": "libcudart.so.13",
	},
}

// MigrateLegacyInstalls moves the canonical CUDA runtime library from its
// legacy install location into backendDir, if it is missing there but
// present in the legacy location. It reports true only when a move
// actually happened; a missing library in both locations, or one already
// present in backendDir, is a no-op success.
func MigrateLegacyInstalls(backendDir, janDataDir, osName, cudaVersion string) (bool, error) {
	libName, ok := cudaRuntimeLibraryNames[osName][cudaVersion]
	if !ok {
		return false, nil
	}

	newPath := filepath.Join(backendDir, libName)
	if _, err := os.Stat(newPath); err == nil {
		return false, nil
	}

	legacyPath := filepath.Join(janDataDir, "engines", "legacy", "cuda-"+cudaVersion, libName)
	if _, err := os.Stat(legacyPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking legacy CUDA runtime location: %w", err)
	}

	if err := os.MkdirAll(backendDir, 0o755); err != nil {
		return false, fmt.Errorf("creating backend dir: %w", err)
	}

	if err := os.Rename(legacyPath, newPath); err != nil {
		// Rename fails across filesystem boundaries; fall back to a copy.
		if copyErr := copyFile(legacyPath, newPath); copyErr != nil {
			return false, fmt.Errorf("moving legacy CUDA runtime: rename failed (%v), copy failed (%w)", err, copyErr)
		}
		if err := os.Remove(legacyPath); err != nil {
			return false, fmt.Errorf("removing legacy CUDA runtime after copy: %w", err)
		}
	}

	return true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
