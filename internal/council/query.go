package council

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/agentfleet/core/internal/errs"
)

// transformGeminiPrompt strips lines that look like file paths (a line
// whose first non-whitespace character is '/' and which contains a '.'),
// so the gemini CLI does not interpret them as path arguments.
func transformGeminiPrompt(prompt string) string {
	lines := strings.Split(prompt, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "/") && strings.Contains(trimmed, ".") {
			continue
		}
		cleaned = append(cleaned, line)
	}
	return strings.Join(cleaned, "\n")
}

func buildArgs(template []string, prompt string) []string {
	args := make([]string, len(template))
	for i, a := range template {
		args[i] = strings.ReplaceAll(a, "{prompt}", prompt)
	}
	return args
}

// Query runs a single provider query under the given deadline, falling
// back to the provider's configured default when deadline is zero.
func (f *Factory) Query(ctx context.Context, cfg *Config, provider, prompt string, deadline time.Duration) QueryResult {
	p, err := f.resolve(provider)
	if err != nil {
		return QueryResult{Provider: provider, Error: err.Error()}
	}
	if !p.available {
		return QueryResult{Provider: provider, Error: fmt.Sprintf("%s: %s CLI not installed", errs.ErrProviderUnavailable, provider)}
	}

	if provider == "gemini" {
		prompt = transformGeminiPrompt(prompt)
	}

	timeout := deadline
	if timeout <= 0 {
		timeout = cfg.ProviderTimeouts[provider]
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := buildArgs(p.descriptor.ArgsTemplate, prompt)
	cmd := exec.CommandContext(runCtx, p.binPath, args...)
	if len(p.descriptor.EnvOverride) > 0 {
		cmd.Env = mergeEnvOverride(p.descriptor.EnvOverride)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		return QueryResult{Provider: provider, Error: fmt.Sprintf("%s: timeout after %s", errs.ErrProviderTimeout, timeout)}
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		msg := stderr.String()
		if msg == "" {
			if errors.As(runErr, &exitErr) {
				msg = fmt.Sprintf("exit code %d", exitErr.ExitCode())
			} else {
				msg = runErr.Error()
			}
		}
		return QueryResult{Provider: provider, Error: fmt.Sprintf("%s: %s", errs.ErrProviderFailure, msg)}
	}

	content := strings.TrimSpace(stdout.String())
	if content == "" {
		return QueryResult{Provider: provider, Error: fmt.Sprintf("%s: empty output", errs.ErrProviderFailure)}
	}
	return QueryResult{Provider: provider, Content: content}
}

// QueryParallel fans out Query across every named provider concurrently,
// returning results in input order. Individual failures do not cancel
// other in-flight queries.
func (f *Factory) QueryParallel(ctx context.Context, cfg *Config, providers []string, prompt string, deadline time.Duration) []QueryResult {
	results := make([]QueryResult, len(providers))
	if len(providers) == 0 {
		return results
	}

	done := make(chan struct{}, len(providers))
	for i, provider := range providers {
		go func(i int, provider string) {
			results[i] = f.Query(ctx, cfg, provider, prompt, deadline)
			done <- struct{}{}
		}(i, provider)
	}
	for range providers {
		<-done
	}
	return results
}

func mergeEnvOverride(overrides map[string]string) []string {
	base := os.Environ()
	merged := make([]string, 0, len(base)+len(overrides))
	skip := make(map[string]bool, len(overrides))
	for k := range overrides {
		skip[k+"="] = true
	}
	for _, kv := range base {
		drop := false
		for prefix := range skip {
			if strings.HasPrefix(kv, prefix) {
				drop = true
				break
			}
		}
		if !drop {
			merged = append(merged, kv)
		}
	}
	for k, v := range overrides {
		merged = append(merged, fmt.Sprintf("%s=%s", k, v))
	}
	return merged
}
