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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paladugusuresh/Graphrag/internal/types"
)

type fakeEmbeddingProvider struct {
	dims int
	err  error
}

func (f *fakeEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = make([]float32, f.dims)
	}
	return vectors, nil
}

func allowListFixture() *types.AllowList {
	return &types.AllowList{
		Labels:        map[string]struct{}{"Student": {}},
		Relationships: map[string]struct{}{"HAS_GOAL": {}},
		Properties:    map[string]map[string]struct{}{"Student": {"full_name": {}}},
	}
}

func TestRebuildEmbedsEveryTermKind(t *testing.T) {
	provider := &fakeEmbeddingProvider{dims: 4}
	store := &fakeStore{}
	e := NewEmbedder(provider, store)

	err := e.Rebuild(context.Background(), allowListFixture(), nil)

	require.NoError(t, err)
	terms := e.Terms()
	assert.Len(t, terms, 3)
	kinds := map[types.SchemaTermKind]bool{}
	for _, term := range terms {
		kinds[term.Kind] = true
		assert.Len(t, term.Embedding, 4)
	}
	assert.True(t, kinds[types.KindLabel])
	assert.True(t, kinds[types.KindRelationship])
	assert.True(t, kinds[types.KindProperty])
}

func TestRebuildIsNoopOnEmptyAllowList(t *testing.T) {
	provider := &fakeEmbeddingProvider{dims: 4}
	store := &fakeStore{}
	e := NewEmbedder(provider, store)

	err := e.Rebuild(context.Background(), &types.AllowList{}, nil)

	require.NoError(t, err)
	assert.Empty(t, e.Terms())
}

func TestRebuildPropagatesEmbedFailure(t *testing.T) {
	provider := &fakeEmbeddingProvider{err: errors.New("embedder down")}
	store := &fakeStore{}
	e := NewEmbedder(provider, store)

	err := e.Rebuild(context.Background(), allowListFixture(), nil)

	assert.Error(t, err)
}

func TestRebuildPropagatesEnsureVectorIndexFailure(t *testing.T) {
	provider := &fakeEmbeddingProvider{dims: 4}
	store := &fakeStore{ensureErr: errors.New("index creation failed")}
	e := NewEmbedder(provider, store)

	err := e.Rebuild(context.Background(), allowListFixture(), nil)

	assert.Error(t, err)
}

func TestRebuildDropsStaleIndexOnDimensionChange(t *testing.T) {
	store := &fakeStore{}
	e := NewEmbedder(&fakeEmbeddingProvider{dims: 4}, store)
	require.NoError(t, e.Rebuild(context.Background(), allowListFixture(), nil))
	assert.Zero(t, store.dropCalls, "first build has no prior dimension, so nothing to drop")

	e.provider = &fakeEmbeddingProvider{dims: 8}
	require.NoError(t, e.Rebuild(context.Background(), allowListFixture(), nil))

	assert.Equal(t, 1, store.dropCalls)
}

func TestRebuildDoesNotDropIndexWhenDimensionIsUnchanged(t *testing.T) {
	store := &fakeStore{}
	e := NewEmbedder(&fakeEmbeddingProvider{dims: 4}, store)
	require.NoError(t, e.Rebuild(context.Background(), allowListFixture(), nil))

	require.NoError(t, e.Rebuild(context.Background(), allowListFixture(), nil))

	assert.Zero(t, store.dropCalls)
}

func TestRebuildPropagatesDropVectorIndexFailure(t *testing.T) {
	store := &fakeStore{}
	e := NewEmbedder(&fakeEmbeddingProvider{dims: 4}, store)
	require.NoError(t, e.Rebuild(context.Background(), allowListFixture(), nil))

	e.provider = &fakeEmbeddingProvider{dims: 8}
	store.dropErr = errors.New("drop index failed")

	err := e.Rebuild(context.Background(), allowListFixture(), nil)

	assert.Error(t, err)
}

func TestRebuildIncludesSynonymsInEmbeddedText(t *testing.T) {
	assert.Equal(t, "Student pupil learner", termText(types.SchemaTerm{Term: "Student", Synonyms: []string{"pupil", "learner"}}))
	assert.Equal(t, "Student", termText(types.SchemaTerm{Term: "Student"}))
}

func TestTermsReturnsACopyNotTheInternalSlice(t *testing.T) {
	provider := &fakeEmbeddingProvider{dims: 4}
	store := &fakeStore{}
	e := NewEmbedder(provider, store)
	require.NoError(t, e.Rebuild(context.Background(), allowListFixture(), nil))

	terms := e.Terms()
	terms[0].Term = "mutated"

	assert.NotEqual(t, "mutated", e.Terms()[0].Term)
}
