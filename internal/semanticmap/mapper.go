// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package semanticmap is the Semantic Mapper (C5): it turns a free-text
// user term into an ordered list of schema-id/score pairs, backed by
// C2's in-process term embeddings with a graceful-degradation fallback
// when the embedder is unreachable — the same embed-then-filter,
// fall-back-to-substring-match shape conversation/search.go's
// SearchRelevant uses for hybrid retrieval.
package semanticmap

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/paladugusuresh/Graphrag/internal/embedding"
	"github.com/paladugusuresh/Graphrag/internal/types"
)

// TermSource supplies the current vectorised schema terms, satisfied
// by *schema.Embedder without this package importing it directly.
type TermSource interface {
	Terms() []types.SchemaTerm
}

type Mapper struct {
	provider embedding.Provider
	terms    TermSource
}

func New(provider embedding.Provider, terms TermSource) *Mapper {
	return &Mapper{provider: provider, terms: terms}
}

// Map returns up to k schema-id/score pairs for userTerm filtered by
// kind, highest score first, ties broken by lexicographic canonical id.
func (m *Mapper) Map(ctx context.Context, userTerm string, kind types.SchemaTermKind, k int) ([]types.EntityMapping, error) {
	vectors, err := m.provider.Embed(ctx, []string{userTerm})
	if err != nil || len(vectors) == 0 {
		return m.substringFallback(userTerm, kind, k), nil
	}

	query := vectors[0]
	var scored []types.EntityMapping
	for _, term := range m.terms.Terms() {
		if term.Kind != kind {
			continue
		}
		score := cosineSimilarity(query, term.Embedding)
		scored = append(scored, types.EntityMapping{UserTerm: userTerm, SchemaID: term.CanonicalID, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].SchemaID < scored[j].SchemaID
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// substringFallback is used when the embedder is unavailable: a
// case-insensitive substring match over each term and its synonyms,
// returning a flat score of 0.5 for any hit, per spec §4.5.
func (m *Mapper) substringFallback(userTerm string, kind types.SchemaTermKind, k int) []types.EntityMapping {
	needle := strings.ToLower(userTerm)
	var hits []types.EntityMapping
	for _, term := range m.terms.Terms() {
		if term.Kind != kind {
			continue
		}
		if strings.Contains(strings.ToLower(term.Term), needle) {
			hits = append(hits, types.EntityMapping{UserTerm: userTerm, SchemaID: term.CanonicalID, Score: 0.5})
			continue
		}
		for _, syn := range term.Synonyms {
			if strings.Contains(strings.ToLower(syn), needle) {
				hits = append(hits, types.EntityMapping{UserTerm: userTerm, SchemaID: term.CanonicalID, Score: 0.5})
				break
			}
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].SchemaID < hits[j].SchemaID })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Rescale from cosine similarity's natural [-1,1] range to [0,1] so
	// the score is comparable to SemanticMapThreshold and
	// RetrieverSimilarityThreshold, which are both specified on [0,1].
	return (cos + 1) / 2
}

// ErrNoMatch is returned by callers that require at least one mapping
// above the configured threshold and got none.
var ErrNoMatch = fmt.Errorf("semanticmap: no mapping met the score threshold")
