package supervisor

import (
	"bufio"
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/coreruntime/janusd/internal/apptypes"
	"github.com/coreruntime/janusd/pkg/logging"
)

const listDevicesTimeout = 30 * time.Second

// memoryParenRe matches a parenthesized "N MiB, M MiB free" group anywhere
// in a device line; FindAllStringSubmatchIndex lets callers pick the last
// match, since device names may themselves contain parentheses.
var memoryParenRe = regexp.MustCompile(`\((\d+)\s*MiB,\s*(\d+)\s*MiB free\)`)

// ListDevices spawns backendPath with --list-devices and parses its stdout.
func ListDevices(ctx context.Context, log logging.Logger, backendPath, libraryPath string) ([]Device, error) {
	ctx, cancel := context.WithTimeout(ctx, listDevicesTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, backendPath, "--list-devices")
	applyEnv(cmd, libraryPath)

	out, err := cmd.Output()
	if err != nil {
		return nil, apptypes.Wrap(apptypes.KindDeviceListParseFailed, "", err)
	}

	devices, sawHeader := parseDeviceList(log, string(out))
	if !sawHeader {
		return nil, apptypes.New(apptypes.KindDeviceListParseFailed, `"Available devices:" header not found in output`)
	}
	return devices, nil
}

func parseDeviceList(log logging.Logger, output string) ([]Device, bool) {
	sc := bufio.NewScanner(strings.NewReader(output))
	sawHeader := false
	var devices []Device

	for sc.Scan() {
		line := sc.Text()
		if !sawHeader {
			if strings.HasPrefix(strings.TrimSpace(line), "Available devices:") {
				sawHeader = true
			}
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		dev, ok := parseDeviceLine(line)
		if !ok {
			log.Warnf("skipping malformed --list-devices line: %q", line)
			continue
		}
		devices = append(devices, dev)
	}
	return devices, sawHeader
}

// parseDeviceLine parses "ID: NAME (N MiB, M MiB free)", tolerating
// additional parenthesized groups in NAME by always taking the last match.
func parseDeviceLine(line string) (Device, bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return Device{}, false
	}
	id := strings.TrimSpace(line[:idx])
	rest := line[idx+1:]

	matches := memoryParenRe.FindAllStringSubmatchIndex(rest, -1)
	if len(matches) == 0 {
		return Device{}, false
	}
	last := matches[len(matches)-1]

	total, err := strconv.ParseUint(rest[last[2]:last[3]], 10, 64)
	if err != nil {
		return Device{}, false
	}
	free, err := strconv.ParseUint(rest[last[4]:last[5]], 10, 64)
	if err != nil {
		return Device{}, false
	}

	name := strings.TrimSpace(rest[:last[0]])
	if id == "" || name == "" {
		return Device{}, false
	}

	return Device{ID: id, Name: name, TotalMemoryMiB: total, FreeMemoryMiB: free}, true
}
