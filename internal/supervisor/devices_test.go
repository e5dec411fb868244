package supervisor

import (
	"testing"
)

func TestParseDeviceList(t *testing.T) {
	output := `Loading backend...
Available devices:
  CUDA0: NVIDIA GeForce RTX 4090 (24564 MiB, 23012 MiB free)
  CUDA1: NVIDIA GeForce RTX 3080 (Ti) (10240 MiB, 9800 MiB free)
  malformed line with no colon
done.
`
	devices, sawHeader := parseDeviceList(newTestLogger(), output)
	if !sawHeader {
		t.Fatal("expected header to be found")
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2: %+v", len(devices), devices)
	}
	if devices[0].ID != "CUDA0" || devices[0].TotalMemoryMiB != 24564 || devices[0].FreeMemoryMiB != 23012 {
		t.Errorf("unexpected device 0: %+v", devices[0])
	}
	if devices[1].Name != "NVIDIA GeForce RTX 3080 (Ti)" || devices[1].FreeMemoryMiB != 9800 {
		t.Errorf("unexpected device 1: %+v", devices[1])
	}
}

func TestParseDeviceListNoHeader(t *testing.T) {
	_, sawHeader := parseDeviceList(newTestLogger(), "no devices header here\n")
	if sawHeader {
		t.Error("expected header not found")
	}
}

func TestParseDeviceLine(t *testing.T) {
	dev, ok := parseDeviceLine("  CPU0: Intel i9-13900K (32768 MiB, 20000 MiB free)")
	if !ok {
		t.Fatal("expected line to parse")
	}
	if dev.ID != "CPU0" || dev.Name != "Intel i9-13900K" {
		t.Errorf("unexpected device: %+v", dev)
	}

	if _, ok := parseDeviceLine("garbage"); ok {
		t.Error("expected malformed line to fail")
	}
}
