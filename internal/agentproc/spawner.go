// Package agentproc manages the long-lived CLI worker processes that relay
// pipeline steps hand batons to. Each agent type maps to a worker command;
// workers speak newline-delimited text over stdin/stdout and are bridged
// onto the NATS bus.
package agentproc

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	natspkg "github.com/agentfleet/core/internal/nats"
)

// WorkerSpec describes how to launch a worker for one agent type.
type WorkerSpec struct {
	AgentType string   `yaml:"agent_type" json:"agent_type"`
	Binary    string   `yaml:"binary" json:"binary"`
	Args      []string `yaml:"args" json:"args"`
	WorkDir   string   `yaml:"work_dir" json:"work_dir"`
}

// Worker represents a running agent worker process.
type Worker struct {
	ID        string
	AgentType string
	Binary    string
	Bridge    *Bridge
	Process   *os.Process
	cmd       *exec.Cmd
	StartedAt time.Time
}

// Spawner manages worker CLI processes, one or more per agent type.
type Spawner struct {
	bus     *natspkg.Client
	specs   map[string]WorkerSpec
	workers map[string]*Worker
	onCrash func(agentType, workerID string)
	mu      sync.RWMutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSpawner creates a new worker spawner over the given agent-type specs.
func NewSpawner(bus *natspkg.Client, specs []WorkerSpec) *Spawner {
	byType := make(map[string]WorkerSpec, len(specs))
	for _, spec := range specs {
		byType[spec.AgentType] = spec
	}

	s := &Spawner{
		bus:     bus,
		specs:   byType,
		workers: make(map[string]*Worker),
		stopCh:  make(chan struct{}),
	}

	// Start worker monitor
	s.wg.Add(1)
	go s.monitorWorkers()

	return s
}

// SetCrashHandler registers a callback invoked when a worker exits
// unexpectedly, after the crash has been published. Callers use it to feed
// the runtime's circuit breakers.
func (s *Spawner) SetCrashHandler(fn func(agentType, workerID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCrash = fn
}

// Spawn launches a worker process for the given agent type.
func (s *Spawner) Spawn(agentType string) (*Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spec, ok := s.specs[agentType]
	if !ok {
		return nil, fmt.Errorf("no worker spec for agent type %q", agentType)
	}

	if _, err := exec.LookPath(spec.Binary); err != nil {
		return nil, fmt.Errorf("worker binary %q not found: %w", spec.Binary, err)
	}

	workerID := fmt.Sprintf("%s-%s", agentType, uuid.New().String()[:8])

	cmd := exec.Command(spec.Binary, spec.Args...)
	if spec.WorkDir != "" {
		if _, err := os.Stat(spec.WorkDir); os.IsNotExist(err) {
			return nil, fmt.Errorf("work dir does not exist: %s", spec.WorkDir)
		}
		cmd.Dir = spec.WorkDir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}

	log.Printf("[SPAWNER] Started %s worker (PID: %d) as %s", agentType, cmd.Process.Pid, workerID)

	bridge := NewBridge(workerID, agentType, s.bus, stdin, stdout, stderr)
	if err := bridge.Start(); err != nil {
		cmd.Process.Kill()
		return nil, fmt.Errorf("failed to start bridge: %w", err)
	}

	worker := &Worker{
		ID:        workerID,
		AgentType: agentType,
		Binary:    spec.Binary,
		Bridge:    bridge,
		Process:   cmd.Process,
		cmd:       cmd,
		StartedAt: time.Now(),
	}

	s.workers[workerID] = worker

	return worker, nil
}

// Stop gracefully stops a worker: close stdin, wait, escalate to SIGTERM,
// then SIGKILL.
func (s *Spawner) Stop(workerID string) error {
	s.mu.Lock()
	worker, exists := s.workers[workerID]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("worker %s not found", workerID)
	}
	delete(s.workers, workerID)
	s.mu.Unlock()

	log.Printf("[SPAWNER] Stopping worker %s (PID: %d)", workerID, worker.Process.Pid)

	// Closing stdin signals the worker to finish its current step and exit.
	worker.Bridge.Stop()

	done := make(chan error, 1)
	go func() {
		done <- worker.cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Printf("[SPAWNER] Worker %s exited with error: %v", workerID, err)
		} else {
			log.Printf("[SPAWNER] Worker %s stopped gracefully", workerID)
		}
		return nil

	case <-time.After(5 * time.Second):
		log.Printf("[SPAWNER] Worker %s did not exit on EOF, sending SIGTERM", workerID)
		if err := worker.Process.Signal(syscall.SIGTERM); err != nil {
			log.Printf("[SPAWNER] Failed to send SIGTERM to worker %s: %v", workerID, err)
		}

		select {
		case <-done:
			log.Printf("[SPAWNER] Worker %s stopped after SIGTERM", workerID)
			return nil
		case <-time.After(3 * time.Second):
			log.Printf("[SPAWNER] Worker %s did not respond to SIGTERM, force killing", workerID)
			if err := worker.Process.Kill(); err != nil {
				return fmt.Errorf("failed to kill worker %s: %w", workerID, err)
			}
			<-done // Wait for process to be reaped
			log.Printf("[SPAWNER] Worker %s force killed", workerID)
			return nil
		}
	}
}

// Get retrieves a worker by ID.
func (s *Spawner) Get(workerID string) *Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workers[workerID]
}

// List returns all running workers.
func (s *Spawner) List() []*Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	workers := make([]*Worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	return workers
}

// AgentTypes returns the agent types this spawner can launch.
func (s *Spawner) AgentTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := make([]string, 0, len(s.specs))
	for t := range s.specs {
		types = append(types, t)
	}
	return types
}

// StopAll gracefully stops all running workers.
func (s *Spawner) StopAll() {
	log.Printf("[SPAWNER] Stopping all workers...")

	// Signal monitor to stop
	close(s.stopCh)

	s.mu.RLock()
	workerIDs := make([]string, 0, len(s.workers))
	for id := range s.workers {
		workerIDs = append(workerIDs, id)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range workerIDs {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			if err := s.Stop(workerID); err != nil {
				log.Printf("[SPAWNER] Error stopping worker %s: %v", workerID, err)
			}
		}(id)
	}

	wg.Wait()
	s.wg.Wait()

	log.Printf("[SPAWNER] All workers stopped")
}

// monitorWorkers watches running workers and detects crashed processes.
func (s *Spawner) monitorWorkers() {
	defer s.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return

		case <-ticker.C:
			s.checkWorkers()
		}
	}
}

// checkWorkers checks the health of all running workers.
func (s *Spawner) checkWorkers() {
	s.mu.Lock()
	var crashed []*Worker
	for id, worker := range s.workers {
		if !isProcessRunning(worker.Process) {
			log.Printf("[SPAWNER] Worker %s (PID: %d) has crashed or exited unexpectedly", id, worker.Process.Pid)

			worker.Bridge.Stop()
			delete(s.workers, id)
			crashed = append(crashed, worker)
		}
	}
	onCrash := s.onCrash
	s.mu.Unlock()

	for _, worker := range crashed {
		s.publishCrash(worker)
		if onCrash != nil {
			onCrash(worker.AgentType, worker.ID)
		}
	}
}

// isProcessRunning probes a process with the null signal.
func isProcessRunning(process *os.Process) bool {
	err := process.Signal(syscall.Signal(0))
	return err == nil
}

// publishCrash publishes a crash notification to NATS.
func (s *Spawner) publishCrash(worker *Worker) {
	msg := natspkg.StatusMessage{
		AgentID:     worker.ID,
		AgentType:   worker.AgentType,
		Status:      "crashed",
		CurrentTask: fmt.Sprintf("Worker process crashed (PID: %d, uptime: %s)", worker.Process.Pid, time.Since(worker.StartedAt)),
		Timestamp:   time.Now(),
	}

	subject := fmt.Sprintf(natspkg.SubjectAgentStatus, worker.ID)
	if err := s.bus.PublishJSON(subject, msg); err != nil {
		log.Printf("[SPAWNER] Failed to publish crash notification: %v", err)
	}
}
