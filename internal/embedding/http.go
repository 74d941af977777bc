// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// HTTPProvider calls an embedding microservice over HTTP/JSON, the
// same EMBEDDING_SERVICE_URL-driven shape services/orchestrator/main.go
// reads for EMBEDDING_MODEL_NAME. Response shape is tolerated via
// Normalize so any of the common provider conventions work unmodified.
type HTTPProvider struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

func NewHTTPProvider() (*HTTPProvider, error) {
	baseURL := os.Getenv("EMBEDDING_SERVICE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("embedding: EMBEDDING_SERVICE_URL environment variable not set")
	}
	model := os.Getenv("EMBEDDING_MODEL_NAME")
	if model == "" {
		model = "google/embeddinggemma-300m"
	}
	return &HTTPProvider{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
	}, nil
}

func (h *HTTPProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(map[string]any{"model": h.model, "input": texts})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/embed", bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedding: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding: backend returned status %d: %s", resp.StatusCode, string(body))
	}

	vectors, err := Normalize(body)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding: expected %d vectors, got %d", len(texts), len(vectors))
	}
	return vectors, nil
}

var _ Provider = (*HTTPProvider)(nil)
