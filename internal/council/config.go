package council

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the council's environment-derived configuration, read once at
// startup and immutable for the process's lifetime.
type Config struct {
	ProviderMode      string
	CouncilModels     []string
	ChairmanModel     string
	ProviderTimeouts  map[string]time.Duration
	MaxRankingRetries int
	ParallelQueries   bool
	DataDir           string
}

// LoadConfig reads the council configuration from the environment, falling
// back to the documented defaults.
func LoadConfig() *Config {
	cfg := &Config{
		ProviderMode:      getenv("PROVIDER_MODE", "cli"),
		CouncilModels:     splitCSV(getenv("CLI_COUNCIL_MODELS", "claude,codex,gemini")),
		ChairmanModel:     getenv("CLI_CHAIRMAN_MODEL", "codex"),
		MaxRankingRetries: getenvInt("MAX_RANKING_RETRIES", 2),
		ParallelQueries:   getenvBool("PARALLEL_QUERIES", true),
		DataDir:           getenv("LLM_COUNCIL_DATA_DIR", defaultDataDir()),
	}

	cfg.ProviderTimeouts = map[string]time.Duration{
		"claude": time.Duration(getenvInt("CLAUDE_TIMEOUT", 120)) * time.Second,
		"codex":  time.Duration(getenvInt("CODEX_TIMEOUT", 120)) * time.Second,
		"gemini": time.Duration(getenvInt("GEMINI_TIMEOUT", 120)) * time.Second,
	}

	return cfg
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".llm-council"
	}
	return home + "/.llm-council"
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return strings.EqualFold(v, "true")
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
