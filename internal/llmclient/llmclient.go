// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llmclient is the pipeline's boundary to the language model:
// a single Generate call plus a structured-JSON variant the Query
// Generator (C6) and Summariser (C10) use to get back a parseable
// object instead of free text.
package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// GenerationParams mirrors the teacher's llm.GenerationParams exactly;
// pointer fields distinguish "unset" from "zero value".
type GenerationParams struct {
	Temperature *float32
	TopK        *int
	TopP        *float32
	MaxTokens   *int
	Stop        []string
}

// Client is the interface every backend (Ollama, OpenAI, Anthropic,
// local llama.cpp) implements, generalised from the teacher's
// services/llm.LLMClient to add a JSON-mode call.
type Client interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// GenerateJSON requests a response the backend constrains to JSON
	// when it supports that mode (OpenAI's ResponseFormat), and always
	// returns the raw text for the caller to unmarshal. Backends that
	// do not support native JSON mode fall back to a system-prompt
	// instruction appended in the implementation.
	GenerateJSON(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// ErrEmptyCompletion is returned when a backend call succeeds
// transport-wise but yields no usable content.
var ErrEmptyCompletion = fmt.Errorf("llmclient: backend returned no content")

// DecodeJSON decodes raw straight into out with json.Unmarshal and
// wraps any error. It applies no field normalisation; internal/querygen
// and internal/summariser parse and normalise their own keys.
func DecodeJSON(raw string, out any) error {
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("llmclient: decode json: %w", err)
	}
	return nil
}

// ExtractJSON tries a direct parse first, then falls back to pulling
// the first fenced or bare JSON object out of free text, the same
// direct-parse-then-extract-from-fence order
// code_buddy/agent/grounding/structured_output.go's parseResponse
// uses.
func ExtractJSON(response string) string {
	trimmed := strings.TrimSpace(response)
	var probe json.RawMessage
	if json.Unmarshal([]byte(trimmed), &probe) == nil {
		return trimmed
	}

	for _, marker := range []string{"```json\n", "```json\r\n", "```\n", "```\r\n"} {
		startIdx := strings.Index(response, marker)
		if startIdx == -1 {
			continue
		}
		rest := response[startIdx+len(marker):]
		if endIdx := strings.Index(rest, "```"); endIdx != -1 {
			return strings.TrimSpace(rest[:endIdx])
		}
	}

	startIdx := strings.Index(response, "{")
	endIdx := strings.LastIndex(response, "}")
	if startIdx != -1 && endIdx != -1 && endIdx > startIdx {
		return response[startIdx : endIdx+1]
	}
	return ""
}
