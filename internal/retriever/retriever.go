// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retriever is the Retriever/Augmentor (C9): embeds the
// question, runs a vector-KNN query against the chunk index, follows
// a bounded parent/child hierarchy per hit, and traverses one hop out
// of each executor anchor node for label+id context. It fails open to
// empty context whenever the chunk index is missing or empty, the
// same graceful-degradation posture conversation/search.go's
// GetHybridContext uses when one half of a hybrid query fails.
package retriever

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paladugusuresh/Graphrag/internal/embedding"
	"github.com/paladugusuresh/Graphrag/internal/graphstore"
	"github.com/paladugusuresh/Graphrag/internal/types"
)

// AnchorContext is one hop of label+id context around an executor
// result's anchor node, collected without properties per spec §4.9.
type AnchorContext struct {
	NodeID string
	Labels []string
}

type Retriever struct {
	provider   embedding.Provider
	chunkIndex ChunkIndex
	store      graphstore.Store
}

func New(provider embedding.Provider, chunkIndex ChunkIndex, store graphstore.Store) *Retriever {
	return &Retriever{provider: provider, chunkIndex: chunkIndex, store: store}
}

// Augment implements the full C9 contract.
func (r *Retriever) Augment(ctx context.Context, question string, anchors []string, k int, similarityThreshold float64, maxTraversalDepth int) ([]types.RetrievedChunk, []AnchorContext, error) {
	chunks, err := r.retrieveChunks(ctx, question, k, similarityThreshold, maxTraversalDepth)
	if err != nil {
		slog.Warn("retriever: chunk retrieval failed, returning empty context", "error", err)
		chunks = nil
	}

	var extra []AnchorContext
	for _, anchor := range anchors {
		hops, err := r.expandAnchor(ctx, anchor)
		if err != nil {
			slog.Warn("retriever: anchor expansion failed, skipping", "anchor", anchor, "error", err)
			continue
		}
		extra = append(extra, hops...)
	}

	return chunks, extra, nil
}

func (r *Retriever) retrieveChunks(ctx context.Context, question string, k int, threshold float64, maxTraversalDepth int) ([]types.RetrievedChunk, error) {
	if r.chunkIndex == nil {
		return nil, nil
	}

	vectors, err := r.provider.Embed(ctx, []string{question})
	if err != nil || len(vectors) == 0 {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	hits, err := r.chunkIndex.Query(ctx, vectors[0], k, threshold)
	if err != nil {
		return nil, fmt.Errorf("chunk vector query: %w", err)
	}

	for i := range hits {
		parents, err := r.chunkIndex.ParentIDs(ctx, hits[i].ChunkID, maxTraversalDepth)
		if err != nil {
			slog.Warn("retriever: parent hierarchy walk failed, chunk kept without ancestry", "chunk_id", hits[i].ChunkID, "error", err)
			continue
		}
		hits[i].ParentIDs = parents
	}

	return hits, nil
}

// expandAnchor traverses one hop outward from anchorID and collects
// label+id pairs, no properties, per spec §4.9 point 4.
func (r *Retriever) expandAnchor(ctx context.Context, anchorID string) ([]AnchorContext, error) {
	rows, err := r.store.Query(ctx, `
MATCH (a)-[]-(n)
WHERE elementId(a) = $anchor_id
RETURN elementId(n) AS node_id, labels(n) AS labels
LIMIT 25`, map[string]any{"anchor_id": anchorID})
	if err != nil {
		return nil, err
	}

	var out []AnchorContext
	for _, row := range rows {
		values := map[string]any{}
		for i, col := range row.Columns {
			if i < len(row.Values) {
				values[col] = row.Values[i]
			}
		}
		id, _ := values["node_id"].(string)
		labelsAny, _ := values["labels"].([]any)
		var labels []string
		for _, l := range labelsAny {
			if s, ok := l.(string); ok {
				labels = append(labels, s)
			}
		}
		out = append(out, AnchorContext{NodeID: id, Labels: labels})
	}
	return out, nil
}
