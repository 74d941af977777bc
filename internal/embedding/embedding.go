// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedding is the pipeline's boundary to the embedding
// provider used by the Schema Embedder (C2), Semantic Mapper (C5), and
// Retriever (C9). Providers are tolerated to return a single vector, a
// list of vectors, or one of several nested wrapper objects; Normalize
// collapses every shape into a plain slice of float32 vectors.
package embedding

import (
	"context"
	"encoding/json"
	"fmt"
)

// Provider embeds one or more texts into float32 vectors.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Normalize accepts the raw decoded JSON body of an embedding response
// and returns a sequence of float32 vectors regardless of which shape
// the provider used: a bare vector (`[0.1, 0.2, ...]`), a list of
// vectors (`[[0.1, ...], [0.2, ...]]`), or one of the common wrapper
// objects (`{"embedding": [...]}`, `{"embeddings": [[...]]}`,
// `{"data": [{"embedding": [...]}]}`).
func Normalize(raw []byte) ([][]float32, error) {
	var asVector []float32
	if err := json.Unmarshal(raw, &asVector); err == nil && len(asVector) > 0 {
		return [][]float32{asVector}, nil
	}

	var asVectorList [][]float32
	if err := json.Unmarshal(raw, &asVectorList); err == nil && len(asVectorList) > 0 {
		return asVectorList, nil
	}

	var wrapper struct {
		Embedding  []float32   `json:"embedding"`
		Embeddings [][]float32 `json:"embeddings"`
		Data       []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil {
		if len(wrapper.Embedding) > 0 {
			return [][]float32{wrapper.Embedding}, nil
		}
		if len(wrapper.Embeddings) > 0 {
			return wrapper.Embeddings, nil
		}
		if len(wrapper.Data) > 0 {
			vectors := make([][]float32, 0, len(wrapper.Data))
			for _, d := range wrapper.Data {
				vectors = append(vectors, d.Embedding)
			}
			return vectors, nil
		}
	}

	return nil, fmt.Errorf("embedding: unrecognized response shape")
}
