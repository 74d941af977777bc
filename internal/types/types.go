// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package types holds the shared data model for the query-processing
// pipeline: the allow-list snapshot, schema terms, plans, candidates,
// result rows, retrieved chunks, and audit events. Types here are
// passed by value or by immutable pointer between pipeline stages;
// none is mutated in place once published.
package types

import (
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

var requestValidator = validator.New()

// QueryRequest is the public request surface accepted by the HTTP
// layer: a question and the caller's preferred rendering of the
// result. Format defaults to "text" when the caller omits it.
type QueryRequest struct {
	Question string `json:"question" validate:"required"`
	Format   string `json:"format" validate:"omitempty,oneof=text table graph"`
}

// Validate applies the documented default for Format, then checks the
// request against its struct tags.
func (r *QueryRequest) Validate() error {
	if r.Format == "" {
		r.Format = "text"
	}
	return requestValidator.Struct(r)
}

// IdentifierPattern is the closed syntax for labels, relationships, and
// property names accepted anywhere in the allow-list.
var IdentifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AllowList is the startup artifact published by the Schema Catalog
// (C1). It is immutable between admin refreshes; readers hold a
// snapshot handle for the life of a request and never observe a
// partially-updated view.
type AllowList struct {
	Labels        map[string]struct{}
	Relationships map[string]struct{}
	// Properties maps a label to the set of property identifiers known
	// for that label.
	Properties map[string]map[string]struct{}
	// Fingerprint is a stable 32-byte hash over the sorted label,
	// relationship, and property triples. Equal fingerprints mean no
	// schema change occurred between refreshes.
	Fingerprint [32]byte
}

// HasLabel reports whether name is a known node label.
func (a *AllowList) HasLabel(name string) bool {
	if a == nil {
		return false
	}
	_, ok := a.Labels[name]
	return ok
}

// HasRelationship reports whether name is a known relationship type.
func (a *AllowList) HasRelationship(name string) bool {
	if a == nil {
		return false
	}
	_, ok := a.Relationships[name]
	return ok
}

// SchemaTermKind enumerates what a SchemaTerm names.
type SchemaTermKind string

const (
	KindLabel        SchemaTermKind = "label"
	KindRelationship SchemaTermKind = "relationship"
	KindProperty     SchemaTermKind = "property"
)

// SchemaTerm is one vectorised schema identifier plus its synonyms.
// Created by the Schema Embedder (C2) during bootstrap or admin
// refresh; never mutated in-place, only replaced atomically.
type SchemaTerm struct {
	Term        string
	Kind        SchemaTermKind
	CanonicalID string
	Embedding   []float32
	Synonyms    []string
}

// EntityMapping records one user-term-to-schema-label resolution made
// by the Semantic Mapper (C5) during planning.
type EntityMapping struct {
	UserTerm   string
	SchemaID   string
	Score      float64
}

// QueryPlan is the Planner's (C4) output: intent, anchor entity,
// canonical parameters, and the entity mappings that produced them.
type QueryPlan struct {
	Intent         string
	AnchorEntity   string // empty string means "none"
	Params         map[string]any
	Confidence     float64
	Question       string
	EntityMappings []EntityMapping
}

// CandidateSource distinguishes a template-originated candidate from
// an LLM-originated one.
type CandidateSource string

const (
	SourceTemplate CandidateSource = "template"
	SourceLLM      CandidateSource = "llm"
)

// CypherCandidate is a generated but not-yet-validated (query, params)
// pair. Invariant: every $name occurring in Text is a key in Params,
// except parameters the executor is entitled to inject (limit).
type CypherCandidate struct {
	Text   string
	Params map[string]any
	Source CandidateSource
}

// ResultRow is one row returned by the Executor (C8).
type ResultRow struct {
	Columns []string
	Values  []any
	NodeIDs map[string]struct{} // optional; nil when the query has no node anchors
}

// RetrievedChunk is one vector-similarity text fragment surfaced by the
// Retriever (C9). ChunkID is the only identifier the summariser may
// cite.
type RetrievedChunk struct {
	ChunkID     string
	Text        string
	SourceDocID string
	Similarity  float64
	// ParentIDs is the bounded parent/child hierarchy walk above this
	// chunk, nearest parent first, up to max_traversal_depth hops.
	ParentIDs []string
}

// AuditOutcome is the closed set of terminal outcomes an AuditEvent may
// record.
type AuditOutcome string

const (
	OutcomePassed  AuditOutcome = "passed"
	OutcomeBlocked AuditOutcome = "blocked"
	OutcomeError   AuditOutcome = "error"
)

// AuditEvent is one append-only record written by a pipeline stage.
// Total ordering per TraceID follows wall-clock insertion.
type AuditEvent struct {
	TraceID       string
	Timestamp     time.Time
	Stage         string
	Outcome       AuditOutcome
	ReasonCode    string
	PayloadPreview string
}

// Verification is the outcome of citation checking in the Summariser
// (C10).
type Verification struct {
	Status           string // "passed" or "failed"
	UnknownCitations []string
}

// SummaryResult is the Summariser's (C10) full output.
type SummaryResult struct {
	SummaryText  string
	Citations    []string
	Verification Verification
}
