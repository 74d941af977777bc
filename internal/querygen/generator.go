// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package querygen is the Query Generator (C6): a template fast-path
// followed by an LLM fallback that must produce exactly
// {cypher, params}, validated and retried the way
// code_buddy/agent/grounding/structured_output.go retries a malformed
// structured response, with a machine-readable diff appended each
// time instead of a bare "try again".
package querygen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tmc/langchaingo/prompts"

	"github.com/paladugusuresh/Graphrag/internal/llmclient"
	"github.com/paladugusuresh/Graphrag/internal/pipeline"
	"github.com/paladugusuresh/Graphrag/internal/types"
)

const maxLLMAttempts = 3 // one initial call + two retries

// maxSchemaHintTokens bounds how much of the allow-list we inline into
// the prompt, measured with the same cl100k_base encoding go-openai
// uses, so a large schema never silently blows the model's context.
const maxSchemaHintTokens = 800

var llmPrompt = prompts.NewPromptTemplate(
	`You translate a natural-language question into a single Cypher query.

Question: {{.question}}
Intent: {{.intent}}
Allow-list hint: labels={{.labels}} relationships={{.relationships}} properties={{.properties}}

Respond with a single JSON object with exactly two keys: "cypher" (string) and "params" (object).
Every literal that comes from the question must be a named parameter, never inlined text.{{.feedback}}`,
	[]string{"question", "intent", "labels", "relationships", "properties", "feedback"},
)

type llmOutput struct {
	Cypher string         `json:"cypher"`
	Query  string         `json:"query"`
	Params map[string]any `json:"params"`
	// The legacy "parameters" key is normalised into Params by
	// parseAndNormalise.
}

type Generator struct {
	llm llmclient.Client
}

func New(llm llmclient.Client) *Generator {
	return &Generator{llm: llm}
}

// Generate implements the two-path contract: template fast-path first,
// LLM path with field normalisation and bounded retry second.
func (g *Generator) Generate(ctx context.Context, plan types.QueryPlan, allow *types.AllowList) (types.CypherCandidate, error) {
	if tmpl, ok := Registry[plan.Intent]; ok {
		return g.fromTemplate(tmpl, plan)
	}
	return g.fromLLM(ctx, plan, allow)
}

func (g *Generator) fromTemplate(tmpl Template, plan types.QueryPlan) (types.CypherCandidate, error) {
	params := map[string]any{}
	for _, required := range tmpl.requiredParams() {
		canonical := required
		for c, legacy := range tmpl.CanonicalToLegacy {
			if legacy == required {
				canonical = c
				break
			}
		}
		value, ok := plan.Params[canonical]
		if !ok {
			return types.CypherCandidate{}, pipeline.NewError("querygen", pipeline.ReasonTemplateParamMissing,
				fmt.Sprintf("template %q requires $%s (canonical %q) but plan has no such parameter", tmpl.Intent, required, canonical), nil)
		}
		params[required] = value
	}
	return types.CypherCandidate{Text: tmpl.Text, Params: params, Source: types.SourceTemplate}, nil
}

func (g *Generator) fromLLM(ctx context.Context, plan types.QueryPlan, allow *types.AllowList) (types.CypherCandidate, error) {
	hint := schemaHint(allow)
	hint = boundHint(hint, maxSchemaHintTokens)
	var feedback string
	var lastErr error

	for attempt := 0; attempt < maxLLMAttempts; attempt++ {
		prompt, err := llmPrompt.Format(map[string]any{
			"question":      plan.Question,
			"intent":        plan.Intent,
			"labels":        hint.labels,
			"relationships": hint.relationships,
			"properties":    hint.properties,
			"feedback":      feedback,
		})
		if err != nil {
			return types.CypherCandidate{}, pipeline.NewError("querygen", pipeline.ReasonLLMStructuredFailure,
				"failed to render the generation prompt template", err)
		}

		zero := float32(0)
		raw, err := g.llm.GenerateJSON(ctx, prompt, llmclient.GenerationParams{Temperature: &zero})
		if err != nil {
			lastErr = err
			feedback = fmt.Sprintf("\n\nPrevious attempt failed with a transport error: %v. Try again.", err)
			continue
		}

		candidate, violation := parseAndNormalise(raw)
		if violation != "" {
			lastErr = errors.New(violation)
			feedback = fmt.Sprintf("\n\nPrevious attempt was rejected: %s. Fix exactly this and resend the full JSON object.", violation)
			continue
		}
		candidate.Source = types.SourceLLM
		return candidate, nil
	}

	return types.CypherCandidate{}, pipeline.NewError("querygen", pipeline.ReasonLLMStructuredFailure,
		"generator could not produce a valid {cypher,params} object after 3 attempts", lastErr)
}

// parseAndNormalise extracts JSON from the raw LLM text, applies the
// query→cypher / parameters→params field normalisation (idempotent:
// inputs already using cypher/params pass through unchanged), and
// returns a violation description when the result is unusable.
func parseAndNormalise(raw string) (types.CypherCandidate, string) {
	cleaned := llmclient.ExtractJSON(raw)
	if cleaned == "" {
		return types.CypherCandidate{}, "response contained no JSON object"
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &generic); err != nil {
		return types.CypherCandidate{}, fmt.Sprintf("response is not a JSON object: %v", err)
	}

	// prefer cypher, drop query (Open Question decision)
	cypherRaw, hasCypher := generic["cypher"]
	queryRaw, hasQuery := generic["query"]
	if !hasCypher && hasQuery {
		cypherRaw = queryRaw
		hasCypher = true
	}
	if !hasCypher {
		return types.CypherCandidate{}, `missing required key "cypher"`
	}
	var cypherText string
	if err := json.Unmarshal(cypherRaw, &cypherText); err != nil {
		return types.CypherCandidate{}, `"cypher" must be a string`
	}

	paramsRaw, hasParams := generic["params"]
	if !hasParams {
		paramsRaw, hasParams = generic["parameters"]
	}
	params := map[string]any{}
	if hasParams {
		if err := json.Unmarshal(paramsRaw, &params); err != nil {
			return types.CypherCandidate{}, `"params" must be an object`
		}
	}

	if strings.TrimSpace(cypherText) == "" {
		return types.CypherCandidate{}, "cypher text is empty"
	}

	return types.CypherCandidate{Text: cypherText, Params: params}, ""
}

type hintSet struct {
	labels        string
	relationships string
	properties    string
}

func schemaHint(allow *types.AllowList) hintSet {
	if allow == nil {
		return hintSet{}
	}
	labels := sortedKeys(allow.Labels)
	rels := sortedKeys(allow.Relationships)
	var props []string
	for label, set := range allow.Properties {
		for p := range set {
			props = append(props, label+"."+p)
		}
	}
	sort.Strings(props)
	return hintSet{
		labels:        strings.Join(labels, ","),
		relationships: strings.Join(rels, ","),
		properties:    strings.Join(props, ","),
	}
}

// boundHint truncates each hint field, longest first, until the whole
// hint fits within maxTokens of the cl100k_base encoding. Properties
// are usually the largest field, so they shrink first.
func boundHint(hint hintSet, maxTokens int) hintSet {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return hint
	}

	total := func(h hintSet) int {
		return len(enc.Encode(h.labels+h.relationships+h.properties, nil, nil))
	}
	for total(hint) > maxTokens {
		switch {
		case len(hint.properties) >= len(hint.labels) && len(hint.properties) >= len(hint.relationships):
			hint.properties = truncateField(hint.properties)
		case len(hint.relationships) >= len(hint.labels):
			hint.relationships = truncateField(hint.relationships)
		default:
			hint.labels = truncateField(hint.labels)
		}
		if hint.labels == "" && hint.relationships == "" && hint.properties == "" {
			break
		}
	}
	return hint
}

func truncateField(s string) string {
	if s == "" {
		return ""
	}
	fields := strings.Split(s, ",")
	drop := len(fields) / 4
	if drop < 1 {
		drop = 1
	}
	if drop >= len(fields) {
		return ""
	}
	return strings.Join(fields[:len(fields)-drop], ",")
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
