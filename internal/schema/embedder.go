// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/paladugusuresh/Graphrag/internal/embedding"
	"github.com/paladugusuresh/Graphrag/internal/graphstore"
	"github.com/paladugusuresh/Graphrag/internal/types"
)

// Embedder (C2) vectorises every schema term — label, relationship, or
// property, plus its synonyms — and keeps them queryable by the
// Semantic Mapper (C5). It mirrors
// services/orchestrator/datatypes/weaviate_schemas.go's
// check-then-create idiom: recreate the index only when the embedding
// dimension actually changes, never on every boot.
type Embedder struct {
	provider   embedding.Provider
	store      graphstore.Store
	indexName  string
	label      string
	property   string
	dimensions int

	mu    sync.RWMutex
	terms []types.SchemaTerm
}

func NewEmbedder(provider embedding.Provider, store graphstore.Store) *Embedder {
	return &Embedder{
		provider:  provider,
		store:     store,
		indexName: "schema_term_vector_index",
		label:     "SchemaTerm",
		property:  "embedding",
	}
}

// Rebuild embeds every term in allow together with any synonyms the
// caller supplies, and ensures the backing vector index exists at the
// observed embedding dimension, recreating it if the dimension
// changed since the last build.
func (e *Embedder) Rebuild(ctx context.Context, allow *types.AllowList, synonyms map[string][]string) error {
	terms := collectTerms(allow, synonyms)
	if len(terms) == 0 {
		return nil
	}

	texts := make([]string, len(terms))
	for i, t := range terms {
		texts[i] = termText(t)
	}

	vectors, err := e.provider.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("schema: embed terms: %w", err)
	}
	if len(vectors) != len(terms) {
		return fmt.Errorf("schema: embedder returned %d vectors for %d terms", len(vectors), len(terms))
	}

	dims := len(vectors[0])
	for i := range terms {
		terms[i].Embedding = vectors[i]
	}

	e.mu.Lock()
	changedDims := e.dimensions != 0 && e.dimensions != dims
	e.dimensions = dims
	e.terms = terms
	e.mu.Unlock()

	if changedDims {
		slog.Warn("schema: embedding dimension changed, dropping and recreating vector index",
			"index", e.indexName, "dimensions", dims)
		if err := e.store.DropVectorIndex(ctx, e.indexName); err != nil {
			return fmt.Errorf("schema: drop stale vector index: %w", err)
		}
	}
	if err := e.store.EnsureVectorIndex(ctx, e.indexName, e.label, e.property, dims); err != nil {
		return fmt.Errorf("schema: ensure vector index: %w", err)
	}

	slog.Info("schema: rebuilt term embeddings", "count", len(terms), "dimensions", dims)
	return nil
}

// Terms returns the current vectorised term set, for the Semantic
// Mapper's in-process nearest-neighbor search.
func (e *Embedder) Terms() []types.SchemaTerm {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.SchemaTerm, len(e.terms))
	copy(out, e.terms)
	return out
}

func collectTerms(allow *types.AllowList, synonyms map[string][]string) []types.SchemaTerm {
	var terms []types.SchemaTerm
	for label := range allow.Labels {
		terms = append(terms, types.SchemaTerm{Term: label, Kind: types.KindLabel, CanonicalID: label, Synonyms: synonyms[label]})
	}
	for rel := range allow.Relationships {
		terms = append(terms, types.SchemaTerm{Term: rel, Kind: types.KindRelationship, CanonicalID: rel, Synonyms: synonyms[rel]})
	}
	for label, props := range allow.Properties {
		for prop := range props {
			id := label + "." + prop
			terms = append(terms, types.SchemaTerm{Term: prop, Kind: types.KindProperty, CanonicalID: id, Synonyms: synonyms[id]})
		}
	}
	return terms
}

func termText(t types.SchemaTerm) string {
	if len(t.Synonyms) == 0 {
		return t.Term
	}
	text := t.Term
	for _, s := range t.Synonyms {
		text += " " + s
	}
	return text
}
