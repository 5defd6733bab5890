package agentproc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	natspkg "github.com/agentfleet/core/internal/nats"
)

// Bridge connects a relay agent worker process to NATS messaging. Prompts
// arrive on the worker's command subject and are written to its stdin;
// stdout and stderr lines are published on its output subject. A small line
// protocol lets the worker report progress: lines beginning with "::status "
// set the current task, a bare "::done" marks the worker idle again.
type Bridge struct {
	workerID    string
	agentType   string
	status      string
	currentTask string

	// Process I/O
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	bus       *natspkg.Client
	connected bool
	mu        sync.RWMutex

	// Control
	stopCh chan struct{}
}

// NewBridge creates a bridge between a worker process's pipes and the bus.
func NewBridge(workerID, agentType string, bus *natspkg.Client, stdin io.WriteCloser, stdout, stderr io.ReadCloser) *Bridge {
	return &Bridge{
		workerID:  workerID,
		agentType: agentType,
		bus:       bus,
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
		status:    "starting",
		stopCh:    make(chan struct{}),
	}
}

// Start begins bridging worker I/O to NATS.
func (b *Bridge) Start() error {
	subject := fmt.Sprintf(natspkg.SubjectAgentCommand, b.workerID)
	_, err := b.bus.Subscribe(subject, b.handleCommand)
	if err != nil {
		return fmt.Errorf("failed to subscribe to commands: %w", err)
	}

	go b.pumpStdout()
	go b.pumpStderr()

	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()

	b.publishStatus("idle", "Awaiting baton")

	log.Printf("[BRIDGE] Started for worker %s", b.workerID)
	return nil
}

// Stop terminates the bridge and closes the worker's pipes. Closing stdin
// is the graceful-shutdown signal; the worker exits on EOF.
func (b *Bridge) Stop() {
	select {
	case <-b.stopCh:
		// Already stopped
		return
	default:
		close(b.stopCh)
	}

	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()

	if b.stdin != nil {
		b.stdin.Close()
	}
	if b.stdout != nil {
		b.stdout.Close()
	}
	if b.stderr != nil {
		b.stderr.Close()
	}

	b.publishStatus("disconnected", "Bridge stopped")
	log.Printf("[BRIDGE] Stopped for worker %s", b.workerID)
}

// pumpStdout continuously reads and classifies stdout from the worker.
func (b *Bridge) pumpStdout() {
	scanner := bufio.NewScanner(b.stdout)
	for scanner.Scan() {
		select {
		case <-b.stopCh:
			return
		default:
		}

		line := scanner.Text()
		b.classifyLine(line)
		b.publishOutput("stdout", line)
	}

	if err := scanner.Err(); err != nil {
		log.Printf("[BRIDGE] Stdout scanner error: %v", err)
	}

	// Process ended
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	b.publishStatus("disconnected", "Worker process ended")
}

// pumpStderr continuously reads stderr from the worker.
func (b *Bridge) pumpStderr() {
	scanner := bufio.NewScanner(b.stderr)
	for scanner.Scan() {
		select {
		case <-b.stopCh:
			return
		default:
		}

		line := scanner.Text()
		b.publishOutput("stderr", line)

		if strings.Contains(strings.ToLower(line), "error") {
			b.publishStatus("error", line)
		}
	}

	if err := scanner.Err(); err != nil {
		log.Printf("[BRIDGE] Stderr scanner error: %v", err)
	}
}

// classifyLine interprets the worker line protocol.
func (b *Bridge) classifyLine(line string) {
	trimmed := strings.TrimSpace(line)

	switch {
	case strings.HasPrefix(trimmed, "::status "):
		b.publishStatus("working", strings.TrimPrefix(trimmed, "::status "))

	case trimmed == "::done":
		b.publishStatus("idle", "Awaiting baton")

	case strings.Contains(strings.ToLower(trimmed), "error"):
		b.publishStatus("error", line)
	}
}

// handleCommand processes incoming commands from NATS.
func (b *Bridge) handleCommand(msg *natspkg.Message) {
	var cmd natspkg.CommandMessage

	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		log.Printf("[BRIDGE] Invalid command JSON: %v", err)
		return
	}

	log.Printf("[BRIDGE] Received command: %s for worker %s", cmd.Type, b.workerID)

	switch cmd.Type {
	case "prompt":
		if text, ok := cmd.Payload["text"].(string); ok {
			b.publishStatus("working", "Processing baton")
			fmt.Fprintln(b.stdin, text)
		}

	case "stop":
		b.publishStatus("stopping", "Closing stdin")
		b.stdin.Close()

	default:
		log.Printf("[BRIDGE] Unknown command type: %s", cmd.Type)
	}
}

// publishStatus publishes a status update to NATS.
func (b *Bridge) publishStatus(status, task string) {
	b.mu.Lock()
	b.status = status
	b.currentTask = task
	b.mu.Unlock()

	msg := natspkg.StatusMessage{
		AgentID:     b.workerID,
		AgentType:   b.agentType,
		Status:      status,
		CurrentTask: task,
		Timestamp:   time.Now(),
	}

	subject := fmt.Sprintf(natspkg.SubjectAgentStatus, b.workerID)
	if err := b.bus.PublishJSON(subject, msg); err != nil {
		log.Printf("[BRIDGE] Failed to publish status: %v", err)
	}
}

// publishOutput publishes a raw output line to NATS for logging and
// monitoring.
func (b *Bridge) publishOutput(stream, line string) {
	msg := natspkg.OutputMessage{
		AgentID:   b.workerID,
		Stream:    stream,
		Content:   line,
		Timestamp: time.Now(),
	}

	subject := fmt.Sprintf(natspkg.SubjectAgentOutput, b.workerID)
	b.bus.PublishJSON(subject, msg)
}

// GetStatus returns the current worker status (thread-safe).
func (b *Bridge) GetStatus() (string, string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status, b.currentTask
}

// IsConnected returns true if the bridge is active.
func (b *Bridge) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// SendPrompt writes a baton prompt to the worker via stdin.
func (b *Bridge) SendPrompt(prompt string) error {
	b.publishStatus("working", "Processing baton")

	_, err := fmt.Fprintln(b.stdin, prompt)
	return err
}
