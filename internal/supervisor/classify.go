package supervisor

import (
	"strings"

	"github.com/coreruntime/janusd/internal/apptypes"
)

// outOfMemorySubstrings are matched against a lowercased stderr blob. They
// span llama.cpp's own CUDA OOM message plus the Metal/Vulkan equivalents
// that show up when a backend built against a different GPU stack fails
// the same way.
var outOfMemorySubstrings = []string{
	"out of memory",
	"insufficient memory",
	"erroroutofdevicememory",
	"kiogpucommandbuffercallbackerroroutofmemory",
	"cuda_error_out_of_memory",
}

// classifyStartupFailure turns an accumulated stderr blob from a subprocess
// that exited before signaling readiness into a stable error kind.
func classifyStartupFailure(stderr string) *apptypes.Error {
	lower := strings.ToLower(stderr)

	for _, sub := range outOfMemorySubstrings {
		if strings.Contains(lower, sub) {
			return apptypes.New(apptypes.KindOutOfMemory, "backend process ran out of memory").WithDetails(stderr)
		}
	}
	if strings.Contains(lower, "error loading model architecture") {
		return apptypes.New(apptypes.KindModelArchNotSupported, "model architecture not supported by backend").WithDetails(stderr)
	}
	return apptypes.New(apptypes.KindLlamaCppProcessError, "backend process exited before becoming ready").WithDetails(stderr)
}

// readyPhrases are the case-insensitive stderr substrings that mark a
// backend as having finished loading and bound its listener.
var readyPhrases = []string{
	"server is listening on",
	"starting the main loop",
	"server listening on",
}

func lineSignalsReady(line string) bool {
	lower := strings.ToLower(line)
	for _, phrase := range readyPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
