package provider

import (
	"os"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
)

// ConfigureRegistryFromConfig registers every configured provider and
// routes each declared model to its provider. API keys are read from the
// environment variable named by api_key_env. A provider timeout is the
// default budget of its models; it never caps a call on its own.
//
// The configuration is expected to have passed config.ValidateConfig.
func ConfigureRegistryFromConfig(registry *Registry, cfg *config.Config) {
	models := make(map[string]map[string]core.ModelCapabilities, len(cfg.Providers))
	for _, m := range cfg.Models {
		if models[m.Provider] == nil {
			models[m.Provider] = make(map[string]core.ModelCapabilities)
		}
		timeout := m.Timeout
		if timeout <= 0 {
			if p, ok := cfg.ProviderByName(m.Provider); ok {
				timeout = p.Timeout
			}
		}
		models[m.Provider][m.Name] = core.ModelCapabilities{
			Model:          m.Name,
			Timeout:        timeout,
			MaxInputTokens: m.MaxInputTokens,
			SupportsImages: m.SupportsImages,
			SupportsTemp:   true,
		}
	}

	for _, p := range cfg.Providers {
		apiKey := ""
		if p.APIKeyEnv != "" {
			apiKey = os.Getenv(p.APIKeyEnv)
		}
		registry.Configure(Config{
			Name:         p.Name,
			Type:         p.Type,
			BaseURL:      p.BaseURL,
			APIKey:       apiKey,
			RateLimitRPM: p.RateLimitRPM,
			MaxRetries:   p.MaxRetries,
			Headers:      p.Headers,
			FilesRoot:    cfg.Consensus.FilesRoot,
			Models:       models[p.Name],
		})
	}
}
