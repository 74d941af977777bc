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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paladugusuresh/Graphrag/internal/graphstore"
	"github.com/paladugusuresh/Graphrag/internal/types"
)

type fakeProvider struct {
	vectors [][]float32
	err     error
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors, nil
}

type fakeChunkIndex struct {
	hits       []types.RetrievedChunk
	queryErr   error
	parentErr  error
	parentsFor map[string][]string
}

func (f *fakeChunkIndex) Query(ctx context.Context, vector []float32, topK int, threshold float64) ([]types.RetrievedChunk, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.hits, nil
}

func (f *fakeChunkIndex) ParentIDs(ctx context.Context, chunkID string, maxDepth int) ([]string, error) {
	if f.parentErr != nil {
		return nil, f.parentErr
	}
	return f.parentsFor[chunkID], nil
}

type fakeStore struct {
	rows []types.ResultRow
	err  error
}

func (f *fakeStore) Query(ctx context.Context, cypher string, params map[string]any) ([]types.ResultRow, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func (f *fakeStore) IntrospectSchema(ctx context.Context) (graphstore.SchemaSnapshot, error) {
	return graphstore.SchemaSnapshot{}, nil
}

func (f *fakeStore) EnsureVectorIndex(ctx context.Context, name, label, property string, dimensions int) error {
	return nil
}

func (f *fakeStore) DropVectorIndex(ctx context.Context, name string) error { return nil }

func (f *fakeStore) Close(ctx context.Context) error { return nil }

func TestAugmentFetchesChunksAndParentHierarchy(t *testing.T) {
	provider := &fakeProvider{vectors: [][]float32{{1, 0}}}
	index := &fakeChunkIndex{
		hits:       []types.RetrievedChunk{{ChunkID: "c1", Text: "hello"}},
		parentsFor: map[string][]string{"c1": {"doc-1"}},
	}
	store := &fakeStore{}
	r := New(provider, index, store)

	chunks, anchors, err := r.Augment(context.Background(), "question", nil, 5, 0.7, 2)

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, []string{"doc-1"}, chunks[0].ParentIDs)
	assert.Empty(t, anchors)
}

func TestAugmentFailsOpenWhenChunkIndexIsNil(t *testing.T) {
	provider := &fakeProvider{vectors: [][]float32{{1, 0}}}
	store := &fakeStore{}
	r := New(provider, nil, store)

	chunks, _, err := r.Augment(context.Background(), "question", nil, 5, 0.7, 2)

	require.NoError(t, err)
	assert.Nil(t, chunks)
}

func TestAugmentFailsOpenWhenEmbeddingFails(t *testing.T) {
	provider := &fakeProvider{err: errors.New("embedder down")}
	index := &fakeChunkIndex{hits: []types.RetrievedChunk{{ChunkID: "c1"}}}
	store := &fakeStore{}
	r := New(provider, index, store)

	chunks, _, err := r.Augment(context.Background(), "question", nil, 5, 0.7, 2)

	require.NoError(t, err, "embedding failure must degrade to empty context, not an error")
	assert.Nil(t, chunks)
}

func TestAugmentKeepsChunkWithoutAncestryWhenParentWalkFails(t *testing.T) {
	provider := &fakeProvider{vectors: [][]float32{{1, 0}}}
	index := &fakeChunkIndex{
		hits:      []types.RetrievedChunk{{ChunkID: "c1", Text: "hello"}},
		parentErr: errors.New("parent walk failed"),
	}
	store := &fakeStore{}
	r := New(provider, index, store)

	chunks, _, err := r.Augment(context.Background(), "question", nil, 5, 0.7, 2)

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].ParentIDs)
}

func TestAugmentExpandsAnchorsOneHop(t *testing.T) {
	provider := &fakeProvider{vectors: [][]float32{{1, 0}}}
	store := &fakeStore{rows: []types.ResultRow{
		{Columns: []string{"node_id", "labels"}, Values: []any{"n1", []any{"Student"}}},
	}}
	r := New(provider, nil, store)

	_, anchors, err := r.Augment(context.Background(), "q", []string{"anchor-1"}, 5, 0.7, 2)

	require.NoError(t, err)
	require.Len(t, anchors, 1)
	assert.Equal(t, "n1", anchors[0].NodeID)
	assert.Equal(t, []string{"Student"}, anchors[0].Labels)
}

func TestAugmentSkipsAnchorWhenExpansionFails(t *testing.T) {
	provider := &fakeProvider{vectors: [][]float32{{1, 0}}}
	store := &fakeStore{err: errors.New("store unreachable")}
	r := New(provider, nil, store)

	_, anchors, err := r.Augment(context.Background(), "q", []string{"anchor-1"}, 5, 0.7, 2)

	require.NoError(t, err)
	assert.Empty(t, anchors)
}
