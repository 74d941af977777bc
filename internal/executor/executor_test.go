// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paladugusuresh/Graphrag/internal/graphstore"
	"github.com/paladugusuresh/Graphrag/internal/pipeline"
	"github.com/paladugusuresh/Graphrag/internal/policy"
	"github.com/paladugusuresh/Graphrag/internal/types"
)

type fakeStore struct {
	rows []types.ResultRow
	err  error
	// capturedParams records the last params map the executor handed
	// down, to prove "timeout" never leaks into it.
	capturedParams map[string]any
}

func (f *fakeStore) Query(ctx context.Context, cypher string, params map[string]any) ([]types.ResultRow, error) {
	f.capturedParams = params
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

func rowsOf(n int) []types.ResultRow {
	rows := make([]types.ResultRow, n)
	for i := range rows {
		rows[i] = types.ResultRow{Columns: []string{"n"}, Values: []any{i}}
	}
	return rows
}

func TestExecuteReturnsRowsOnSuccess(t *testing.T) {
	store := &fakeStore{rows: rowsOf(3)}
	e := New(store)
	candidate := types.CypherCandidate{Text: "MATCH (n) RETURN n LIMIT $limit", Params: map[string]any{"limit": 25}}

	result, err := e.Execute(context.Background(), candidate, policy.Default())

	require.NoError(t, err)
	assert.Len(t, result.Rows, 3)
	assert.False(t, result.Truncated)
}

func TestExecuteTruncatesRowsExceedingMaxResults(t *testing.T) {
	store := &fakeStore{rows: rowsOf(30)}
	e := New(store)
	pol := policy.Default()
	pol.MaxCypherResults = 10

	result, err := e.Execute(context.Background(), types.CypherCandidate{Params: map[string]any{}}, pol)

	require.NoError(t, err)
	assert.Len(t, result.Rows, 10)
	assert.True(t, result.Truncated)
}

func TestExecuteRejectsLeakedTimeoutParam(t *testing.T) {
	store := &fakeStore{}
	e := New(store)
	candidate := types.CypherCandidate{Params: map[string]any{"timeout": "30s"}}

	_, err := e.Execute(context.Background(), candidate, policy.Default())

	require.Error(t, err)
	var pipelineErr *pipeline.Error
	require.ErrorAs(t, err, &pipelineErr)
	assert.Equal(t, pipeline.ReasonWriteBlocked, pipelineErr.Reason)
	assert.Nil(t, store.capturedParams, "the store must never be called when timeout leaks")
}

func TestExecuteMapsDeadlineExceededToQueryTimeout(t *testing.T) {
	store := &fakeStore{err: context.DeadlineExceeded}
	e := New(store)

	_, err := e.Execute(context.Background(), types.CypherCandidate{Params: map[string]any{}}, policy.Default())

	require.Error(t, err)
	var pipelineErr *pipeline.Error
	require.ErrorAs(t, err, &pipelineErr)
	assert.Equal(t, pipeline.ReasonQueryTimeout, pipelineErr.Reason)
}

func TestExecuteMapsWriteNotPermittedToWriteBlocked(t *testing.T) {
	store := &fakeStore{err: graphstore.ErrWriteNotPermitted}
	e := New(store)

	_, err := e.Execute(context.Background(), types.CypherCandidate{Params: map[string]any{}}, policy.Default())

	require.Error(t, err)
	var pipelineErr *pipeline.Error
	require.ErrorAs(t, err, &pipelineErr)
	assert.Equal(t, pipeline.ReasonWriteBlocked, pipelineErr.Reason)
}

func TestExecuteMapsUnknownErrorToUpstreamUnavailable(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	e := New(store)

	_, err := e.Execute(context.Background(), types.CypherCandidate{Params: map[string]any{}}, policy.Default())

	require.Error(t, err)
	var pipelineErr *pipeline.Error
	require.ErrorAs(t, err, &pipelineErr)
	assert.Equal(t, pipeline.ReasonUpstreamUnavailable, pipelineErr.Reason)
}

func TestExecuteBoundsContextWithPolicyTimeout(t *testing.T) {
	store := &fakeStoreCapturingDeadline{}
	e := New(store)
	pol := policy.Default()
	pol.Timeout = 5 * time.Second

	_, err := e.Execute(context.Background(), types.CypherCandidate{Params: map[string]any{}}, pol)

	require.NoError(t, err)
	require.True(t, store.hadDeadline)
	assert.WithinDuration(t, time.Now().Add(pol.Timeout), store.deadline, 1*time.Second)
}

type fakeStoreCapturingDeadline struct {
	hadDeadline bool
	deadline    time.Time
}

func (f *fakeStoreCapturingDeadline) Query(ctx context.Context, cypher string, params map[string]any) ([]types.ResultRow, error) {
	f.deadline, f.hadDeadline = ctx.Deadline()
	return nil, nil
}

func (f *fakeStoreCapturingDeadline) IntrospectSchema(ctx context.Context) (graphstore.SchemaSnapshot, error) {
	return graphstore.SchemaSnapshot{}, nil
}

func (f *fakeStoreCapturingDeadline) EnsureVectorIndex(ctx context.Context, name, label, property string, dimensions int) error {
	return nil
}

func (f *fakeStoreCapturingDeadline) DropVectorIndex(ctx context.Context, name string) error {
	return nil
}

func (f *fakeStoreCapturingDeadline) Close(ctx context.Context) error { return nil }
