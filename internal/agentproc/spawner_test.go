package agentproc

import (
	"sort"
	"testing"
)

func TestSpawnUnknownAgentType(t *testing.T) {
	s := NewSpawner(nil, []WorkerSpec{{AgentType: "researcher", Binary: "true"}})
	defer s.StopAll()

	if _, err := s.Spawn("architect"); err == nil {
		t.Fatal("expected error for unknown agent type")
	}
}

func TestSpawnMissingBinary(t *testing.T) {
	s := NewSpawner(nil, []WorkerSpec{{AgentType: "researcher", Binary: "definitely-not-a-real-binary-xyz"}})
	defer s.StopAll()

	if _, err := s.Spawn("researcher"); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestAgentTypes(t *testing.T) {
	s := NewSpawner(nil, []WorkerSpec{
		{AgentType: "researcher", Binary: "true"},
		{AgentType: "architect", Binary: "true"},
	})
	defer s.StopAll()

	types := s.AgentTypes()
	sort.Strings(types)
	want := []string{"architect", "researcher"}
	if len(types) != len(want) {
		t.Fatalf("got %d agent types, want %d", len(types), len(want))
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("agent type %d: got %q, want %q", i, types[i], want[i])
		}
	}
}

func TestStopUnknownWorker(t *testing.T) {
	s := NewSpawner(nil, nil)
	defer s.StopAll()

	if err := s.Stop("no-such-worker"); err == nil {
		t.Fatal("expected error stopping unknown worker")
	}
}
