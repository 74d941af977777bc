// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package querygen

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paladugusuresh/Graphrag/internal/llmclient"
	"github.com/paladugusuresh/Graphrag/internal/pipeline"
	"github.com/paladugusuresh/Graphrag/internal/types"
)

type fakeLLM struct {
	responses []fakeResponse
	calls     int
}

type fakeResponse struct {
	text string
	err  error
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, params llmclient.GenerationParams) (string, error) {
	return f.GenerateJSON(ctx, prompt, params)
}

func (f *fakeLLM) GenerateJSON(ctx context.Context, prompt string, params llmclient.GenerationParams) (string, error) {
	if f.calls >= len(f.responses) {
		return "", errors.New("fakeLLM: exhausted scripted responses")
	}
	r := f.responses[f.calls]
	f.calls++
	return r.text, r.err
}

func TestGenerateUsesTemplateFastPathForKnownIntent(t *testing.T) {
	g := New(&fakeLLM{})
	plan := types.QueryPlan{Intent: "goals_for_student", Params: map[string]any{"student_name": "Jane Doe", "limit": 20}}

	candidate, err := g.Generate(context.Background(), plan, nil)

	require.NoError(t, err)
	assert.Equal(t, types.SourceTemplate, candidate.Source)
	assert.Equal(t, "Jane Doe", candidate.Params["student"])
	assert.Equal(t, 20, candidate.Params["limit"])
}

func TestGenerateTemplateFailsWhenRequiredParamMissing(t *testing.T) {
	g := New(&fakeLLM{})
	plan := types.QueryPlan{Intent: "goals_for_student", Params: map[string]any{}}

	_, err := g.Generate(context.Background(), plan, nil)

	require.Error(t, err)
	var pipelineErr *pipeline.Error
	require.ErrorAs(t, err, &pipelineErr)
	assert.Equal(t, pipeline.ReasonTemplateParamMissing, pipelineErr.Reason)
}

func TestGenerateFallsBackToLLMForUnknownIntent(t *testing.T) {
	llm := &fakeLLM{responses: []fakeResponse{
		{text: `{"cypher": "MATCH (n) RETURN n LIMIT $limit", "params": {"limit": 10}}`},
	}}
	g := New(llm)
	plan := types.QueryPlan{Intent: "general_rag_query", Question: "what nodes exist?"}

	candidate, err := g.Generate(context.Background(), plan, nil)

	require.NoError(t, err)
	assert.Equal(t, types.SourceLLM, candidate.Source)
	assert.Contains(t, candidate.Text, "MATCH")
	assert.Equal(t, 1, llm.calls)
}

func TestParseAndNormalisePrefersCypherOverQuery(t *testing.T) {
	candidate, violation := parseAndNormalise(`{"cypher": "A", "query": "B", "params": {}}`)

	assert.Empty(t, violation)
	assert.Equal(t, "A", candidate.Text)
}

func TestParseAndNormaliseFallsBackToLegacyQueryKey(t *testing.T) {
	candidate, violation := parseAndNormalise(`{"query": "MATCH (n) RETURN n", "parameters": {"k": "v"}}`)

	assert.Empty(t, violation)
	assert.Equal(t, "MATCH (n) RETURN n", candidate.Text)
	assert.Equal(t, "v", candidate.Params["k"])
}

func TestParseAndNormaliseRejectsMissingCypherKey(t *testing.T) {
	_, violation := parseAndNormalise(`{"params": {}}`)

	assert.Contains(t, violation, `"cypher"`)
}

func TestParseAndNormaliseRejectsEmptyCypherText(t *testing.T) {
	_, violation := parseAndNormalise(`{"cypher": "   "}`)

	assert.Contains(t, violation, "empty")
}

func TestGenerateRetriesOnMalformedLLMResponse(t *testing.T) {
	llm := &fakeLLM{responses: []fakeResponse{
		{text: "not json at all"},
		{text: `{"cypher": "MATCH (n) RETURN n", "params": {}}`},
	}}
	g := New(llm)
	plan := types.QueryPlan{Intent: "general_rag_query", Question: "q"}

	candidate, err := g.Generate(context.Background(), plan, nil)

	require.NoError(t, err)
	assert.Equal(t, "MATCH (n) RETURN n", candidate.Text)
	assert.Equal(t, 2, llm.calls)
}

func TestGenerateExhaustsAttemptsAndReturnsPipelineError(t *testing.T) {
	llm := &fakeLLM{responses: []fakeResponse{
		{err: errors.New("boom 1")},
		{err: errors.New("boom 2")},
		{err: errors.New("boom 3")},
	}}
	g := New(llm)
	plan := types.QueryPlan{Intent: "general_rag_query", Question: "q"}

	_, err := g.Generate(context.Background(), plan, nil)

	require.Error(t, err)
	var pipelineErr *pipeline.Error
	require.ErrorAs(t, err, &pipelineErr)
	assert.Equal(t, pipeline.ReasonLLMStructuredFailure, pipelineErr.Reason)
	assert.Equal(t, maxLLMAttempts, llm.calls)
}

func TestSchemaHintHandlesNilAllowList(t *testing.T) {
	hint := schemaHint(nil)
	assert.Equal(t, hintSet{}, hint)
}

func TestSchemaHintSortsLabelsRelationshipsAndProperties(t *testing.T) {
	allow := &types.AllowList{
		Labels:        map[string]struct{}{"Zebra": {}, "Apple": {}},
		Relationships: map[string]struct{}{"KNOWS": {}},
		Properties:    map[string]map[string]struct{}{"Apple": {"color": {}}},
	}

	hint := schemaHint(allow)

	assert.Equal(t, "Apple,Zebra", hint.labels)
	assert.Equal(t, "KNOWS", hint.relationships)
	assert.Equal(t, "Apple.color", hint.properties)
}

func TestBoundHintShrinksLargestFieldFirst(t *testing.T) {
	hint := hintSet{
		properties: strings.Repeat("Label.prop,", 500),
		labels:     "A,B",
	}

	bounded := boundHint(hint, 10)

	assert.Less(t, len(bounded.properties), len(hint.properties))
	assert.Equal(t, "A,B", bounded.labels, "the smaller field should be left untouched while properties shrinks")
}

func TestTruncateFieldDropsLastQuarterOfFields(t *testing.T) {
	assert.Equal(t, "a,b,c", truncateField("a,b,c,d"))
	assert.Equal(t, "", truncateField(""))
	assert.Equal(t, "", truncateField("solo"))
}
