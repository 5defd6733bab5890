package council

import (
	"fmt"
	"os/exec"
	"sync"
)

// providerDescriptors is the table of supported CLI providers.
var providerDescriptors = map[string]ProviderDescriptor{
	"claude": {
		Name:         "claude",
		Command:      "claude",
		ArgsTemplate: []string{"-p", "{prompt}", "--print"},
		EnvOverride:  map[string]string{"ANTHROPIC_API_KEY": ""},
	},
	"codex": {
		Name:         "codex",
		Command:      "codex",
		ArgsTemplate: []string{"{prompt}"},
	},
	"gemini": {
		Name:         "gemini",
		Command:      "gemini",
		ArgsTemplate: []string{"-p", "{prompt}"},
	},
}

// resolvedProvider is a provider descriptor together with its resolved
// binary path, cached so repeated queries avoid re-running exec.LookPath.
type resolvedProvider struct {
	descriptor ProviderDescriptor
	binPath    string
	available  bool
}

// Factory resolves and caches provider handles by name with double-checked
// locking, so repeated queries avoid re-running PATH lookups.
type Factory struct {
	mu       sync.RWMutex
	resolved map[string]*resolvedProvider
}

// NewFactory creates an empty provider factory.
func NewFactory() *Factory {
	return &Factory{
		resolved: make(map[string]*resolvedProvider),
	}
}

func (f *Factory) resolve(name string) (*resolvedProvider, error) {
	f.mu.RLock()
	if p, ok := f.resolved[name]; ok {
		f.mu.RUnlock()
		return p, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.resolved[name]; ok {
		return p, nil
	}

	descriptor, ok := providerDescriptors[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}

	path, err := exec.LookPath(descriptor.Command)
	p := &resolvedProvider{descriptor: descriptor, available: err == nil}
	if err == nil {
		p.binPath = path
	}
	f.resolved[name] = p
	return p, nil
}

// AvailableProviders returns the names of every configured provider whose
// binary is present on PATH, in the order given by names, matching
// get_available_providers(). Names without a descriptor are skipped.
func (f *Factory) AvailableProviders(names []string) []string {
	available := make([]string, 0, len(names))
	for _, name := range names {
		p, err := f.resolve(name)
		if err != nil || !p.available {
			continue
		}
		available = append(available, name)
	}
	return available
}
