package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/agentfleet/core/internal/agentproc"
	"github.com/agentfleet/core/internal/config"
	"github.com/agentfleet/core/internal/council"
	"github.com/agentfleet/core/internal/memory"
	natspkg "github.com/agentfleet/core/internal/nats"
	"github.com/agentfleet/core/internal/runtime"
)

const curationInterval = 5 * time.Minute

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/fleet.yaml", "Path to configuration file")
	port := flag.Int("port", 0, "Override HTTP port (0 = use config)")
	flag.Parse()

	log.Println("===============================================")
	log.Println("  fleetd - Agent Fleet Runtime Substrate")
	log.Println("===============================================")

	// Load configuration
	var cfg *config.Config
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Printf("[MAIN] Warning: Failed to load config from %s: %v", *configPath, err)
			log.Println("[MAIN] Using default configuration")
			cfg = config.DefaultConfig()
		} else {
			log.Printf("[MAIN] Loaded configuration from %s", *configPath)
			cfg = loaded
		}
	} else {
		log.Println("[MAIN] Config file not found, using defaults")
		cfg = config.DefaultConfig()
	}

	// Override port if specified
	if *port > 0 {
		cfg.Server.HTTPPort = *port
	}

	log.Printf("[MAIN] HTTP port: %d", cfg.Server.HTTPPort)
	log.Printf("[MAIN] NATS port: %d", cfg.Server.NATSPort)
	log.Printf("[MAIN] Memory store: %s", cfg.Memory.DBPath)
	log.Printf("[MAIN] Runtime store: %s", cfg.Runtime.DBPath)
	log.Printf("[MAIN] Council data dir: %s", cfg.Council.DataDir)

	for _, dir := range []string{filepath.Dir(cfg.Memory.DBPath), filepath.Dir(cfg.Runtime.DBPath), cfg.Council.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("[MAIN] Failed to create data directory %s: %v", dir, err)
		}
	}

	// Start embedded NATS server
	natsOpts := &server.Options{
		Port:     cfg.Server.NATSPort,
		HTTPPort: -1, // Disable HTTP monitoring
		NoLog:    true,
		NoSigs:   true,
	}

	natsServer, err := server.NewServer(natsOpts)
	if err != nil {
		log.Fatalf("[MAIN] Failed to create NATS server: %v", err)
	}

	go natsServer.Start()

	if !natsServer.ReadyForConnections(5 * time.Second) {
		log.Fatal("[MAIN] NATS server failed to start in time")
	}
	log.Printf("[MAIN] Embedded NATS server started on port %d", cfg.Server.NATSPort)

	natsURL := fmt.Sprintf("nats://localhost:%d", cfg.Server.NATSPort)
	bus, err := natspkg.NewClient(natsURL, "core")
	if err != nil {
		log.Fatalf("[MAIN] Failed to connect to NATS: %v", err)
	}
	defer bus.Close()

	// Initialize the tiered memory engine
	memDB, err := memory.NewSQLiteMemoryDBWithBus(cfg.Memory.DBPath, bus)
	if err != nil {
		log.Fatalf("[MAIN] Failed to initialize memory store: %v", err)
	}
	defer memDB.Close()

	if cfg.Memory.EmbeddingEndpoint != "" {
		memDB.SetEmbeddingProvider(memory.NewHTTPEmbeddingProvider(cfg.Memory.EmbeddingEndpoint, "text-embedding"))
		log.Printf("[MAIN] Embedding endpoint: %s", cfg.Memory.EmbeddingEndpoint)
	} else {
		memDB.SetEmbeddingProvider(memory.NewFallbackEmbeddingProvider())
		log.Println("[MAIN] No embedding endpoint configured, using deterministic fallback")
	}

	// Initialize the agent runtime
	runtimeDB, err := runtime.NewSQLiteRuntimeDBWithBus(cfg.Runtime.DBPath, bus)
	if err != nil {
		log.Fatalf("[MAIN] Failed to initialize runtime store: %v", err)
	}
	defer runtimeDB.Close()

	// Initialize the deliberation council
	// Environment variables take precedence over the YAML/default values.
	councilCfg := council.LoadConfig()
	if cfg.Council.DataDir != "" && os.Getenv("LLM_COUNCIL_DATA_DIR") == "" {
		councilCfg.DataDir = cfg.Council.DataDir
	}
	if len(cfg.Council.CouncilModels) > 0 && os.Getenv("CLI_COUNCIL_MODELS") == "" {
		councilCfg.CouncilModels = cfg.Council.CouncilModels
	}
	if cfg.Council.ChairmanModel != "" && os.Getenv("CLI_CHAIRMAN_MODEL") == "" {
		councilCfg.ChairmanModel = cfg.Council.ChairmanModel
	}

	factory := council.NewFactory()
	store, err := council.NewStoreWithBus(councilCfg.DataDir, bus)
	if err != nil {
		log.Fatalf("[MAIN] Failed to initialize council store: %v", err)
	}
	defer store.Close()

	available := factory.AvailableProviders(councilCfg.CouncilModels)
	log.Printf("[MAIN] Council providers available: %v (chairman: %s)", available, councilCfg.ChairmanModel)

	log.Println("[MAIN] Memory, runtime, and council services initialized")

	// Create the relay agent worker spawner
	specs := make([]agentproc.WorkerSpec, 0, len(cfg.Runtime.Workers))
	for _, w := range cfg.Runtime.Workers {
		specs = append(specs, agentproc.WorkerSpec{AgentType: w.AgentType, Binary: w.Binary, Args: w.Args, WorkDir: w.WorkDir})
	}
	spawner := agentproc.NewSpawner(bus, specs)

	// Crashed workers count as failures against their agent type's breaker.
	spawner.SetCrashHandler(func(agentType, workerID string) {
		if _, err := runtimeDB.RecordFailure(agentType, "crash", fmt.Sprintf("worker %s exited unexpectedly", workerID)); err != nil {
			log.Printf("[MAIN] Failed to record crash for %s: %v", agentType, err)
		}
	})
	log.Printf("[MAIN] Worker spawner initialized (%d agent types)", len(specs))

	// Log pipeline handoffs and breaker transitions from the bus
	bus.Subscribe(natspkg.SubjectAllPipelineSteps, func(msg *natspkg.Message) {
		var step natspkg.PipelineStepMessage
		if err := json.Unmarshal(msg.Data, &step); err != nil {
			return
		}
		log.Printf("[RUNTIME] Pipeline %s -> %s (step %d, agent %s)", step.PipelineID, step.Status, step.Step, step.Agent)
	})
	bus.Subscribe(natspkg.SubjectAllBreakerStates, func(msg *natspkg.Message) {
		var state natspkg.BreakerStateMessage
		if err := json.Unmarshal(msg.Data, &state); err != nil {
			return
		}
		log.Printf("[RUNTIME] Breaker %s -> %s (failures: %d)", state.AgentID, state.State, state.FailureCount)
	})

	// Periodic memory curation
	curationStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(curationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-curationStop:
				return
			case <-ticker.C:
				result, err := memDB.Curate()
				if err != nil {
					log.Printf("[MEMORY] Curation failed: %v", err)
					continue
				}
				log.Printf("[MEMORY] Curation: expired=%d working->episodic=%d episodic->semantic=%d",
					result.Expired, result.WorkingToEpisodic, result.EpisodicToSemantic)
			}
		}
	}()

	// Set up HTTP server for the status surface
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "workers": len(spawner.List())})
	})

	mux.HandleFunc("/api/memory/status", func(w http.ResponseWriter, r *http.Request) {
		status, err := memDB.Status()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("/api/goals", func(w http.ResponseWriter, r *http.Request) {
		goals, err := runtimeDB.ListGoals(runtime.GoalStatus(r.URL.Query().Get("status")))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, goals)
	})

	mux.HandleFunc("/api/pipelines", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "id parameter required", http.StatusBadRequest)
			return
		}
		pipeline, err := runtimeDB.GetPipeline(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pipeline)
	})

	mux.HandleFunc("/api/council/conversations", func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}
		records, err := store.ListConversations(r.URL.Query().Get("pattern"), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, records)
	})

	mux.HandleFunc("/api/workers", func(w http.ResponseWriter, r *http.Request) {
		type workerView struct {
			ID        string `json:"id"`
			AgentType string `json:"agent_type"`
			Status    string `json:"status"`
			Task      string `json:"task"`
			Uptime    string `json:"uptime"`
		}
		workers := spawner.List()
		views := make([]workerView, 0, len(workers))
		for _, worker := range workers {
			status, task := worker.Bridge.GetStatus()
			views = append(views, workerView{
				ID:        worker.ID,
				AgentType: worker.AgentType,
				Status:    status,
				Task:      task,
				Uptime:    time.Since(worker.StartedAt).Round(time.Second).String(),
			})
		}
		writeJSON(w, http.StatusOK, views)
	})

	mux.HandleFunc("/api/workers/spawn", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		agentType := r.URL.Query().Get("type")
		if agentType == "" {
			http.Error(w, "type parameter required", http.StatusBadRequest)
			return
		}
		worker, err := spawner.Spawn(agentType)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": worker.ID, "agent_type": worker.AgentType})
	})

	mux.HandleFunc("/api/workers/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "id parameter required", http.StatusBadRequest)
			return
		}
		if err := spawner.Stop(id); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "id": id})
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: mux,
	}

	go func() {
		log.Printf("[MAIN] HTTP server starting on port %d", cfg.Server.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[MAIN] HTTP server error: %v", err)
		}
	}()

	log.Println("===============================================")
	log.Println("  fleetd ready!")
	log.Printf("  Health:    http://localhost:%d/health", cfg.Server.HTTPPort)
	log.Printf("  Goals:     http://localhost:%d/api/goals", cfg.Server.HTTPPort)
	log.Printf("  Workers:   http://localhost:%d/api/workers", cfg.Server.HTTPPort)
	log.Println("===============================================")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[MAIN] Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	close(curationStop)

	// Stop all workers first
	spawner.StopAll()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("[MAIN] HTTP server shutdown error: %v", err)
	}

	natsServer.Shutdown()

	log.Println("[MAIN] fleetd shutdown complete")
}

// writeJSON marshals v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[MAIN] Failed to encode response: %v", err)
	}
}

// writeError returns the error in-band as {"error": ...} per the tool
// surface contract.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusOK, map[string]string{"error": err.Error()})
}
