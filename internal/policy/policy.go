// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy holds the runtime limits bundle consulted by every
// stage of the pipeline (timeout, result caps, traversal depth, rate
// limit) and the process-wide mode flags that gate write access.
package policy

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Mode is the process-wide runtime mode. Only admin mode may call the
// Schema Catalog's refresh path; normal request handling runs in
// read_only and must never attempt a write.
type Mode string

const (
	ModeReadOnly Mode = "read_only"
	ModeAdmin    Mode = "admin"
)

// Policy bundles the limits every suspension point (graph-store query,
// LLM call, rate-limit acquisition) must observe.
type Policy struct {
	// Timeout bounds a single graph-store query or LLM call.
	Timeout time.Duration
	// RequestBudget bounds the whole pipeline for one request.
	RequestBudget time.Duration
	// MaxCypherResults caps rows materialised by the Executor and is
	// the default LIMIT auto-injected by the Validator.
	MaxCypherResults int
	// MaxTraversalDepth caps variable-length path quantifiers accepted
	// by the Validator and the bounded hierarchy walk in the Retriever.
	MaxTraversalDepth int
	// LLMRateLimitPerMinute is the Rate Limiter's token bucket capacity.
	LLMRateLimitPerMinute int
	// SemanticMapThreshold is loaded from the environment and
	// range-checked by Validate (Open Question #3). The Planner does not
	// read it: it applies a fixed 0.7 cut-off to Semantic Mapper scores.
	SemanticMapThreshold float64
	// RetrieverTopK is the default k passed to the chunk vector-KNN
	// query (Open Question #3).
	RetrieverTopK int
	// RetrieverSimilarityThreshold is the minimum similarity the
	// Retriever keeps a chunk at. It is a separate knob from
	// SemanticMapThreshold: chunk retrieval defaults to keeping every
	// one of the top-k hits, independent of the Planner's mapping
	// confidence.
	RetrieverSimilarityThreshold float64
	// Mode gates write access to C1/C2's admin refresh path.
	Mode Mode
	// AllowWrites must be true, together with Mode==ModeAdmin, before
	// the executor will accept a write-enabling transaction.
	AllowWrites bool
}

// Default returns the policy documented throughout spec.md: 10s
// per-operation timeout, 30s request budget, 25-row cap, depth 2,
// 60/minute LLM calls, 0.7 mapping threshold, top-5 retrieval.
func Default() Policy {
	return Policy{
		Timeout:                      10 * time.Second,
		RequestBudget:                30 * time.Second,
		MaxCypherResults:             25,
		MaxTraversalDepth:            2,
		LLMRateLimitPerMinute:        60,
		SemanticMapThreshold:         0.7,
		RetrieverTopK:                5,
		RetrieverSimilarityThreshold: 0.0,
		Mode:                         ModeReadOnly,
		AllowWrites:                  false,
	}
}

// FromEnv builds a Policy from environment variables, falling back to
// Default() for anything unset or malformed. Mirrors the teacher's
// env-var-driven bootstrap in services/orchestrator/main.go: no config
// file parser is introduced, only os.Getenv plus validation.
func FromEnv() Policy {
	p := Default()

	if v := os.Getenv("RAGCORE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Timeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("RAGCORE_REQUEST_BUDGET_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.RequestBudget = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("RAGCORE_MAX_CYPHER_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.MaxCypherResults = n
		}
	}
	if v := os.Getenv("RAGCORE_MAX_TRAVERSAL_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.MaxTraversalDepth = n
		}
	}
	if v := os.Getenv("RAGCORE_LLM_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.LLMRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("RAGCORE_SEMANTIC_MAP_THRESHOLD"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n >= 0 && n <= 1 {
			p.SemanticMapThreshold = n
		}
	}
	if v := os.Getenv("RAGCORE_RETRIEVER_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.RetrieverTopK = n
		}
	}
	if v := os.Getenv("RAGCORE_RETRIEVER_SIMILARITY_THRESHOLD"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n >= 0 && n <= 1 {
			p.RetrieverSimilarityThreshold = n
		}
	}
	if os.Getenv("RAGCORE_MODE") == string(ModeAdmin) {
		p.Mode = ModeAdmin
	}
	if v := os.Getenv("RAGCORE_ALLOW_WRITES"); v != "" {
		p.AllowWrites = v == "true" || v == "1"
	}

	return p
}

// Validate reports configuration errors the way
// services/trace/weaviate/client.go's ClientConfig.Validate does:
// a flat list of field checks returning the first violation.
func (p Policy) Validate() error {
	if p.Timeout <= 0 {
		return errors.New("policy: timeout must be positive")
	}
	if p.RequestBudget <= 0 {
		return errors.New("policy: request_budget must be positive")
	}
	if p.MaxCypherResults <= 0 {
		return errors.New("policy: max_cypher_results must be positive")
	}
	if p.MaxTraversalDepth <= 0 {
		return errors.New("policy: max_traversal_depth must be positive")
	}
	if p.LLMRateLimitPerMinute <= 0 {
		return errors.New("policy: llm_rate_limit_per_minute must be positive")
	}
	if p.SemanticMapThreshold < 0 || p.SemanticMapThreshold > 1 {
		return errors.New("policy: semantic_map_threshold must be in [0,1]")
	}
	if p.RetrieverTopK <= 0 {
		return errors.New("policy: retriever_top_k must be positive")
	}
	if p.RetrieverSimilarityThreshold < 0 || p.RetrieverSimilarityThreshold > 1 {
		return errors.New("policy: retriever_similarity_threshold must be in [0,1]")
	}
	if p.Mode != ModeReadOnly && p.Mode != ModeAdmin {
		return errors.New("policy: mode must be read_only or admin")
	}
	return nil
}

// WriteEnabled reports whether both Mode and AllowWrites permit a
// write-path operation. The Executor consults this in addition to its
// own read-only transaction guarantee (belt-and-braces per spec §4.8).
func (p Policy) WriteEnabled() bool {
	return p.Mode == ModeAdmin && p.AllowWrites
}
