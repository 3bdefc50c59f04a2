package provider

import (
	"fmt"
	"strings"

	"tirds/internal/config"
	"tirds/internal/logger"
)

// BuildFromConfig 根据 agents.provider 构造推理后端。
func BuildFromConfig(agents config.AgentsConfig) (ModelProvider, error) {
	switch strings.ToLower(strings.TrimSpace(agents.Provider)) {
	case config.ProviderClaudeCLI:
		logger.Infof("推理后端: %s %s", agents.CLI.Binary, strings.Join(agents.CLI.Args, " "))
		return NewCLIProvider(CLIOptions{
			ID:               config.ProviderClaudeCLI,
			Binary:           agents.CLI.Binary,
			Args:             agents.CLI.Args,
			SystemPromptFlag: agents.CLI.SystemPromptFlag,
			ModelFlag:        agents.CLI.ModelFlag,
		}), nil
	case config.ProviderOpenAI:
		logger.Infof("推理后端: %s", completionsURL(agents.HTTP.APIURL))
		return NewOpenAIProvider(OpenAIOptions{
			ID:      config.ProviderOpenAI,
			BaseURL: agents.HTTP.APIURL,
			APIKey:  agents.HTTP.APIKey,
			Headers: agents.HTTP.Headers,
		}), nil
	}
	return nil, fmt.Errorf("未知推理后端: %q", agents.Provider)
}
