package outputval

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/voocel/litellm"
)

const reviewerSystemPrompt = "You are a strict reviewer of outbound agent messages. Answer with JSON only."

// NewLiteLLMCompletion builds a CompletionFunc backed by litellm for the
// configured provider. The API key is read from the APIKeyEnv variable.
func NewLiteLLMCompletion(cfg LLMConfig) (CompletionFunc, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("outputval: llm model is required")
	}
	key := ""
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("outputval: environment variable %s is empty", cfg.APIKeyEnv)
		}
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}

	var client *litellm.Client
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		if cfg.BaseURL != "" {
			client = litellm.New(litellm.WithOpenAI(key, cfg.BaseURL), litellm.WithDefaults(maxTokens, cfg.Temperature))
		} else {
			client = litellm.New(litellm.WithOpenAI(key), litellm.WithDefaults(maxTokens, cfg.Temperature))
		}
	case "anthropic":
		if cfg.BaseURL != "" {
			client = litellm.New(litellm.WithAnthropic(key, cfg.BaseURL), litellm.WithDefaults(maxTokens, cfg.Temperature))
		} else {
			client = litellm.New(litellm.WithAnthropic(key), litellm.WithDefaults(maxTokens, cfg.Temperature))
		}
	case "gemini":
		if cfg.BaseURL != "" {
			client = litellm.New(litellm.WithGemini(key, cfg.BaseURL), litellm.WithDefaults(maxTokens, cfg.Temperature))
		} else {
			client = litellm.New(litellm.WithGemini(key), litellm.WithDefaults(maxTokens, cfg.Temperature))
		}
	default:
		return nil, fmt.Errorf("outputval: unsupported llm provider %q", cfg.Provider)
	}

	model := cfg.Model
	temperature := cfg.Temperature

	return func(ctx context.Context, prompt string) (string, error) {
		resp, err := client.Complete(ctx, &litellm.Request{
			Model: model,
			Messages: []litellm.Message{
				{Role: "system", Content: reviewerSystemPrompt},
				{Role: "user", Content: prompt},
			},
			MaxTokens:   litellm.IntPtr(maxTokens),
			Temperature: litellm.Float64Ptr(temperature),
		})
		if err != nil {
			return "", fmt.Errorf("litellm completion failed: %w", err)
		}
		return resp.Content, nil
	}, nil
}
