// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package summariser is the Summariser (C10): a structured
// {summary, citations} LLM call with the same field-normalisation and
// retry policy as internal/querygen, followed by citation
// verification grounded on
// code_buddy/agent/grounding/citation_checker.go's
// extract-then-cross-reference pattern, retargeted from `[file:line]`
// tokens to `[chunk_id]` tokens.
package summariser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/paladugusuresh/Graphrag/internal/llmclient"
	"github.com/paladugusuresh/Graphrag/internal/pipeline"
	"github.com/paladugusuresh/Graphrag/internal/types"
)

const maxAttempts = 3

var citationPattern = regexp.MustCompile(`\[([A-Za-z0-9_\-]+)\]`)

const summaryPrompt = `Answer the question using only the rows and chunks below. Cite every
fact you draw from a chunk with its [chunk_id] inline in the summary.

Question: %s

Rows:
%s

Chunks:
%s

Respond with a single JSON object with exactly two keys: "summary" (string) and
"citations" (array of chunk_id strings used).`

type Summariser struct {
	llm llmclient.Client
}

func New(llm llmclient.Client) *Summariser {
	return &Summariser{llm: llm}
}

// Summarise implements the full C10 contract, including citation
// verification. CITATION_UNVERIFIED is recorded but never fatal: the
// summary is always returned.
func (s *Summariser) Summarise(ctx context.Context, question string, rows []types.ResultRow, chunks []types.RetrievedChunk) (types.SummaryResult, error) {
	prompt := fmt.Sprintf(summaryPrompt, question, renderRows(rows), renderChunks(chunks))

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		raw, err := s.llm.GenerateJSON(ctx, prompt, llmclient.GenerationParams{})
		if err != nil {
			lastErr = err
			prompt += fmt.Sprintf("\n\nPrevious attempt failed: %v. Try again.", err)
			continue
		}

		summaryText, citations, violation := parseAndNormalise(raw)
		if violation != "" {
			lastErr = errors.New(violation)
			prompt += fmt.Sprintf("\n\nPrevious attempt was rejected: %s. Resend the full JSON object.", violation)
			continue
		}

		verification := verify(summaryText, citations, chunks)
		if verification.Status == "failed" {
			slog.Warn("summariser: unverified citations", "reason", pipeline.ReasonCitationUnverified,
				"unknown_citations", verification.UnknownCitations)
		}

		return types.SummaryResult{SummaryText: summaryText, Citations: citations, Verification: verification}, nil
	}

	return types.SummaryResult{}, pipeline.NewError("summariser", pipeline.ReasonLLMStructuredFailure,
		"summariser could not produce a valid {summary,citations} object after 3 attempts", lastErr)
}

func parseAndNormalise(raw string) (string, []string, string) {
	cleaned := llmclient.ExtractJSON(raw)
	if cleaned == "" {
		return "", nil, "response contained no JSON object"
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &generic); err != nil {
		return "", nil, fmt.Sprintf("response is not a JSON object: %v", err)
	}

	summaryRaw, ok := generic["summary"]
	if !ok {
		return "", nil, `missing required key "summary"`
	}
	var summaryText string
	if err := json.Unmarshal(summaryRaw, &summaryText); err != nil {
		return "", nil, `"summary" must be a string`
	}

	var citations []string
	if citationsRaw, ok := generic["citations"]; ok {
		if err := json.Unmarshal(citationsRaw, &citations); err != nil {
			return "", nil, `"citations" must be an array of strings`
		}
	}

	return summaryText, citations, ""
}

// verify extracts every [chunk_id] token from the summary and the
// citations list and cross-checks it against the chunks actually
// shown to the model.
func verify(summaryText string, citations []string, chunks []types.RetrievedChunk) types.Verification {
	known := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		known[c.ChunkID] = struct{}{}
	}

	cited := map[string]struct{}{}
	for _, m := range citationPattern.FindAllStringSubmatch(summaryText, -1) {
		cited[m[1]] = struct{}{}
	}
	for _, c := range citations {
		cited[c] = struct{}{}
	}

	var unknown []string
	for id := range cited {
		if _, ok := known[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	sort.Strings(unknown)

	if len(unknown) > 0 {
		return types.Verification{Status: "failed", UnknownCitations: unknown}
	}
	return types.Verification{Status: "passed"}
}

func renderRows(rows []types.ResultRow) string {
	if len(rows) == 0 {
		return "(no rows)"
	}
	var b strings.Builder
	for _, row := range rows {
		for i, col := range row.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			var val any
			if i < len(row.Values) {
				val = row.Values[i]
			}
			fmt.Fprintf(&b, "%s=%v", col, val)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderChunks(chunks []types.RetrievedChunk) string {
	if len(chunks) == 0 {
		return "(no chunks)"
	}
	var b strings.Builder
	for _, c := range chunks {
		fmt.Fprintf(&b, "[%s] %s\n", c.ChunkID, c.Text)
	}
	return b.String()
}
