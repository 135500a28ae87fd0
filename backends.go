package relay

import (
	"log/slog"

	"github.com/halden1427/gorelay/llm"
)

// BuildBackends constructs the enabled backends from the configuration,
// in priority order. Credentials come from the environment, never from
// the config files.
func BuildBackends(cfg *Config, secrets Secrets) []llm.Backend {
	var out []llm.Backend

	for _, name := range cfg.PriorityOrder() {
		b := cfg.Backends[name]

		switch b.Type {
		case BackendTypeGroq:
			var opts []llm.GroqOption
			if secrets.GroqAPIKey != "" {
				opts = append(opts, llm.WithGroqAPIKey(secrets.GroqAPIKey))
			}
			if b.Host != "" {
				opts = append(opts, llm.WithGroqBaseURL(b.Host))
			}
			if len(b.Models) > 0 {
				opts = append(opts, llm.WithGroqModels(b.Models))
			}
			if b.Model != "" {
				opts = append(opts, llm.WithGroqModel(b.Model))
			}
			out = append(out, llm.NewGroq(opts...))

		case BackendTypeOllamaLocal:
			var opts []llm.OllamaOption
			if b.Model != "" {
				opts = append(opts, llm.WithOllamaModel(b.Model))
			}
			out = append(out, llm.NewOllamaLocal(b.Host, opts...))

		case BackendTypeOllamaCloud:
			host := b.Host
			if host == "" {
				host = secrets.OllamaCloudURL
			}
			if host == "" {
				slog.Warn("skipping ollama_cloud backend, no host configured")
				continue
			}
			var opts []llm.OllamaOption
			if secrets.OllamaAPIKey != "" {
				opts = append(opts, llm.WithOllamaAPIKey(secrets.OllamaAPIKey))
			}
			if len(b.Models) > 0 {
				opts = append(opts, llm.WithOllamaModels(b.Models))
			}
			if b.Model != "" {
				opts = append(opts, llm.WithOllamaModel(b.Model))
			}
			out = append(out, llm.NewOllamaCloud(host, opts...))

		default:
			slog.Warn("skipping backend with unknown type", "backend", name, "type", b.Type)
		}
	}

	return out
}
