// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retriever

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/paladugusuresh/Graphrag/internal/types"
)

// ChunkIndex is the vector-KNN boundary C9 queries, kept separate from
// graphstore.Store because chunk vectors live in the vector database
// exactly the way conversation/search.go's WeaviateConversationSearcher
// queried its own class, never in the property graph.
type ChunkIndex interface {
	// Query returns chunks ordered by descending similarity, filtered
	// to similarity >= threshold, capped at topK.
	Query(ctx context.Context, vector []float32, topK int, threshold float64) ([]types.RetrievedChunk, error)
	// ParentIDs returns the parent/child hierarchy ids for chunkID, up
	// to maxDepth hops, for the bounded hierarchy walk.
	ParentIDs(ctx context.Context, chunkID string, maxDepth int) ([]string, error)
}

type chunkGraphQLResponse struct {
	Get struct {
		Chunk []struct {
			ChunkID     string  `json:"chunk_id"`
			Text        string  `json:"text"`
			SourceDocID string  `json:"source_doc_id"`
			ParentID    string  `json:"parent_id"`
			Additional  struct {
				Certainty float64 `json:"certainty"`
			} `json:"_additional"`
		} `json:"Chunk"`
	} `json:"Get"`
}

// WeaviateChunkIndex is the production ChunkIndex, grounded on
// conversation/search.go's embed→NearVectorArgBuilder→GraphQL Get→
// ParseGraphQLResponse[T] pipeline and
// datatypes/weaviate_query.go's ParseGraphQLResponse generic parser.
type WeaviateChunkIndex struct {
	client    *weaviate.Client
	className string
}

func NewWeaviateChunkIndex(client *weaviate.Client) *WeaviateChunkIndex {
	return &WeaviateChunkIndex{client: client, className: "Chunk"}
}

func (w *WeaviateChunkIndex) Query(ctx context.Context, vector []float32, topK int, threshold float64) ([]types.RetrievedChunk, error) {
	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	if threshold > 0 {
		nearVector = nearVector.WithCertainty(float32(threshold))
	}

	resp, err := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(
			graphql.Field{Name: "chunk_id"},
			graphql.Field{Name: "text"},
			graphql.Field{Name: "source_doc_id"},
			graphql.Field{Name: "parent_id"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
		).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("retriever: chunk vector query: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("retriever: chunk vector query returned GraphQL errors: %v", resp.Errors)
	}

	parsed, err := parseChunkResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("retriever: parse chunk response: %w", err)
	}

	var chunks []types.RetrievedChunk
	for _, c := range parsed.Get.Chunk {
		if c.Additional.Certainty < threshold {
			continue
		}
		chunks = append(chunks, types.RetrievedChunk{
			ChunkID:     c.ChunkID,
			Text:        c.Text,
			SourceDocID: c.SourceDocID,
			Similarity:  c.Additional.Certainty,
		})
	}
	return chunks, nil
}

func (w *WeaviateChunkIndex) ParentIDs(ctx context.Context, chunkID string, maxDepth int) ([]string, error) {
	var ids []string
	current := chunkID
	for depth := 0; depth < maxDepth; depth++ {
		resp, err := w.client.GraphQL().Get().
			WithClassName(w.className).
			WithFields(graphql.Field{Name: "parent_id"}).
			WithWhere(filterByChunkID(current)).
			WithLimit(1).
			Do(ctx)
		if err != nil || len(resp.Errors) > 0 {
			break
		}
		parsed, err := parseChunkResponse(resp)
		if err != nil || len(parsed.Get.Chunk) == 0 || parsed.Get.Chunk[0].ParentID == "" {
			break
		}
		parentID := parsed.Get.Chunk[0].ParentID
		ids = append(ids, parentID)
		current = parentID
	}
	return ids, nil
}
