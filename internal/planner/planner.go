// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner is the Planner (C4): intent detection, LLM-backed
// entity extraction against a fixed schema, semantic mapping of the
// extracted names, and canonical parameter population.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/paladugusuresh/Graphrag/internal/llmclient"
	"github.com/paladugusuresh/Graphrag/internal/semanticmap"
	"github.com/paladugusuresh/Graphrag/internal/types"
)

// intentRule is one entry in the fixed keyword-pattern table.
type intentRule struct {
	intent string
	match  func(question string) bool
}

var goalWordPattern = regexp.MustCompile(`(?i)\bgoal`)
var properNamePattern = regexp.MustCompile(`\b[A-Z][a-z]+\s+[A-Z][a-z]+\b`)

var intentTable = []intentRule{
	{
		intent: "goals_for_student",
		match: func(q string) bool {
			return goalWordPattern.MatchString(q) && properNamePattern.MatchString(q)
		},
	},
}

const defaultLimit = 20

// honorifics are stripped before name normalisation; title case is
// preserved on what remains.
var honorifics = []string{"Mr.", "Mrs.", "Ms.", "Dr.", "Prof."}

// extraction is the fixed schema the LLM must return for entity
// extraction, per spec §4.4.
type extraction struct {
	Names      []string `json:"names"`
	DateRanges []struct {
		From string `json:"from"`
		To   string `json:"to"`
	} `json:"date_ranges"`
	Topics []string `json:"topics"`
}

const extractionPrompt = `Extract named entities from the question below.
Return a single JSON object with exactly these keys: "names" (array of person names),
"date_ranges" (array of {"from":"YYYY-MM-DD","to":"YYYY-MM-DD"}), "topics" (array of strings).
Do not include any other keys or commentary.

Question: %s`

type Planner struct {
	llm    llmclient.Client
	mapper *semanticmap.Mapper
}

func New(llm llmclient.Client, mapper *semanticmap.Mapper) *Planner {
	return &Planner{llm: llm, mapper: mapper}
}

// Plan implements the full C4 contract: intent detection, entity
// extraction with one retry (two attempts), semantic mapping (discarding
// scores below 0.7), and canonical parameter population.
func (p *Planner) Plan(ctx context.Context, question string) (types.QueryPlan, error) {
	intent := detectIntent(question)

	ext, err := p.extractEntities(ctx, question)
	if err != nil {
		slog.Warn("planner: entity extraction failed after retries, falling back to general_rag_query", "error", err)
		return types.QueryPlan{
			Intent:       "general_rag_query",
			AnchorEntity: "",
			Params:       map[string]any{},
			Confidence:   0,
			Question:     question,
		}, nil
	}

	var mappings []types.EntityMapping
	anchor := ""
	params := map[string]any{"limit": defaultLimit}

	for i, name := range ext.Names {
		clean := normaliseName(name)
		candidates, err := p.mapper.Map(ctx, clean, types.KindLabel, 5)
		if err != nil {
			continue
		}
		for _, c := range candidates {
			if c.Score < 0.7 {
				continue
			}
			mappings = append(mappings, c)
			if i == 0 && anchor == "" {
				anchor = clean
				params["student_name"] = clean
			}
			break
		}
	}

	if len(ext.DateRanges) > 0 {
		params["from"] = ext.DateRanges[0].From
		params["to"] = ext.DateRanges[0].To
	}

	confidence := 0.0
	if len(mappings) > 0 {
		confidence = mappings[0].Score
	}

	return types.QueryPlan{
		Intent:         intent,
		AnchorEntity:   anchor,
		Params:         params,
		Confidence:     confidence,
		Question:       question,
		EntityMappings: mappings,
	}, nil
}

func detectIntent(question string) string {
	for _, rule := range intentTable {
		if rule.match(question) {
			return rule.intent
		}
	}
	return "general_rag_query"
}

// extractEntities calls the LLM for structured extraction, retrying
// once if the first attempt fails to validate, per spec §4.4's
// "fails validation twice" failure clause (one retry = two attempts).
func (p *Planner) extractEntities(ctx context.Context, question string) (*extraction, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		raw, err := p.llm.GenerateJSON(ctx, fmt.Sprintf(extractionPrompt, question), llmclient.GenerationParams{})
		if err != nil {
			lastErr = err
			continue
		}
		cleaned := llmclient.ExtractJSON(raw)
		var ext extraction
		if err := llmclient.DecodeJSON(cleaned, &ext); err != nil {
			lastErr = err
			continue
		}
		return &ext, nil
	}
	return nil, fmt.Errorf("planner: entity extraction failed validation twice: %w", lastErr)
}

// normaliseName strips honorifics, trims extra whitespace, and
// preserves title case on the remainder:
// normalise("Dr. Jane  Doe ") == "Jane Doe".
func normaliseName(name string) string {
	cleaned := name
	for _, h := range honorifics {
		cleaned = strings.ReplaceAll(cleaned, h, "")
	}
	fields := strings.Fields(cleaned)
	return strings.Join(fields, " ")
}
