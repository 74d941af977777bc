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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// LocalClient adapts services/llm/local_llm.go's llama.cpp /completion
// backend. llama.cpp's server has no native JSON mode, so GenerateJSON
// appends a grammar-free instruction the same way the Anthropic
// adapter does; callers still validate the result with DecodeJSON.
type LocalClient struct {
	httpClient *http.Client
	baseURL    string
}

type localCompletionPayload struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature *float32 `json:"temperature,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type localCompletionResponse struct {
	Content string `json:"content"`
}

func NewLocalClient() (*LocalClient, error) {
	baseURL := os.Getenv("LLM_SERVICE_URL_BASE")
	if baseURL == "" {
		return nil, fmt.Errorf("llmclient: LLM_SERVICE_URL_BASE environment variable not set")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	return &LocalClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
	}, nil
}

func (l *LocalClient) complete(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	payload := localCompletionPayload{Prompt: prompt, NPredict: 512, Stop: []string{"\n\n"}}
	if params.MaxTokens != nil {
		payload.NPredict = *params.MaxTokens
	}
	if params.Temperature != nil {
		payload.Temperature = params.Temperature
	}
	if params.TopK != nil {
		payload.TopK = params.TopK
	}
	if params.TopP != nil {
		payload.TopP = params.TopP
	}
	if len(params.Stop) > 0 {
		payload.Stop = params.Stop
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("llmclient: marshal local completion payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/completion", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("llmclient: build local completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("calling local llama.cpp backend", "url", l.baseURL+"/completion")
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llmclient: local completion request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llmclient: read local completion response: %w", err)
	}
	var parsed localCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("llmclient: parse local completion response: %w", err)
	}
	return parsed.Content, nil
}

func (l *LocalClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return l.complete(ctx, prompt, params)
}

func (l *LocalClient) GenerateJSON(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	wrapped := prompt + "\n\nRespond with a single valid JSON object and nothing else."
	return l.complete(ctx, wrapped, params)
}

var _ Client = (*LocalClient)(nil)
