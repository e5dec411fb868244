package registry

import (
	"os"
	"sync"
	"testing"

	"github.com/coreruntime/janusd/internal/supervisor"
)

func TestInsertRemoveGetByModel(t *testing.T) {
	r := New()
	r.Insert(&supervisor.Session{PID: 111, ModelID: "llama-3-8b", Port: 3100})
	r.Insert(&supervisor.Session{PID: 222, ModelID: "qwen-2.5", Port: 3101})

	sess, ok := r.GetByModel("qwen-2.5")
	if !ok || sess.PID != 222 {
		t.Fatalf("got %+v, ok=%v", sess, ok)
	}

	if _, ok := r.GetByModel("does-not-exist"); ok {
		t.Error("expected no match")
	}

	if len(r.List()) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(r.List()))
	}

	modelIDs := r.ListModelIDs()
	if len(modelIDs) != 2 {
		t.Errorf("expected 2 model ids, got %v", modelIDs)
	}

	r.Remove(111)
	if len(r.List()) != 1 {
		t.Errorf("expected 1 session after remove, got %d", len(r.List()))
	}
}

func TestAllocatePortRangeAndUniqueness(t *testing.T) {
	r := New()
	seen := make(map[uint16]bool)

	for i := 0; i < 20; i++ {
		port, err := r.AllocatePort()
		if err != nil {
			t.Fatalf("AllocatePort: %v", err)
		}
		if port < portRangeLow || port >= portRangeHigh {
			t.Fatalf("port %d out of range [%d, %d)", port, portRangeLow, portRangeHigh)
		}
		if seen[port] {
			t.Fatalf("port %d allocated twice", port)
		}
		seen[port] = true
		r.Insert(&supervisor.Session{PID: 1000 + i, Port: port})
	}
}

func TestAllocatePortConcurrent(t *testing.T) {
	r := New()
	const n = 16
	ports := make([]uint16, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			port, err := r.AllocatePort()
			if err != nil {
				t.Errorf("AllocatePort: %v", err)
				return
			}
			ports[i] = port
			r.Insert(&supervisor.Session{PID: 2000 + i, Port: port})
		}(i)
	}
	wg.Wait()

	seen := make(map[uint16]bool)
	for _, p := range ports {
		if p == 0 {
			continue
		}
		if seen[p] {
			t.Errorf("port %d allocated to more than one concurrent caller", p)
		}
		seen[p] = true
	}
}

func TestGenerateAPIKeyDeterministic(t *testing.T) {
	k1 := GenerateAPIKey("llama-3-8b", "top-secret")
	k2 := GenerateAPIKey("llama-3-8b", "top-secret")
	if k1 != k2 {
		t.Errorf("expected deterministic key, got %q vs %q", k1, k2)
	}
	if k1 == "" {
		t.Error("expected non-empty key")
	}

	k3 := GenerateAPIKey("qwen-2.5", "top-secret")
	if k1 == k3 {
		t.Error("different model IDs should not share a key")
	}
}

func TestLivenessCheck(t *testing.T) {
	r := New()
	self := os.Getpid()
	r.Insert(&supervisor.Session{PID: self, ModelID: "self"})

	if !r.LivenessCheck(self) {
		t.Error("expected own process to be alive")
	}

	const bogusPID = 999999
	r.Insert(&supervisor.Session{PID: bogusPID, ModelID: "ghost"})
	if r.LivenessCheck(bogusPID) {
		t.Error("expected bogus pid to be reported dead")
	}
	if _, ok := r.GetByModel("ghost"); ok {
		t.Error("expected dead session to be evicted from registry")
	}
}
