// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llmclient

import (
	"fmt"
	"log/slog"
	"os"
)

// NewFromEnv selects a backend by LLM_BACKEND_TYPE
// (ollama|openai|anthropic|local, default ollama), the same switch
// services/orchestrator/main.go uses to build its globalLLMClient.
func NewFromEnv() (Client, error) {
	backend := os.Getenv("LLM_BACKEND_TYPE")

	switch backend {
	case "openai":
		slog.Info("using OpenAI LLM backend")
		return NewOpenAIClient()
	case "anthropic", "claude":
		slog.Info("using Anthropic LLM backend")
		return NewAnthropicClient()
	case "local":
		slog.Info("using local llama.cpp LLM backend")
		return NewLocalClient()
	case "ollama", "":
		if backend == "" {
			slog.Warn("LLM_BACKEND_TYPE not set, defaulting to ollama")
		}
		slog.Info("using Ollama LLM backend")
		return NewOllamaClient()
	default:
		return nil, fmt.Errorf("llmclient: unknown LLM_BACKEND_TYPE %q", backend)
	}
}
