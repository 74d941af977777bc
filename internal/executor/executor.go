// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor is the Executor (C8): it opens a read-only
// transaction against internal/graphstore, keeps the execution-option
// channel (timeout) strictly separate from the Cypher parameter
// channel, and eagerly materialises up to policy.MaxCypherResults
// rows, truncating and setting Result.Truncated if the store returns
// more. The flag reaches the pipeline's Response; the audit event does
// not carry it.
package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/paladugusuresh/Graphrag/internal/graphstore"
	"github.com/paladugusuresh/Graphrag/internal/pipeline"
	"github.com/paladugusuresh/Graphrag/internal/policy"
	"github.com/paladugusuresh/Graphrag/internal/types"
)

type Executor struct {
	store graphstore.Store
}

func New(store graphstore.Store) *Executor {
	return &Executor{store: store}
}

// Result is the Executor's output, including the truncation flag.
// Truncated is copied into the pipeline's Response, not into the audit
// record.
type Result struct {
	Rows      []types.ResultRow
	Truncated bool
}

// Execute never accepts a "timeout" key inside candidate.Params; the
// timeout always comes from pol.Timeout and is applied purely via
// context, never written into the parameter map handed to the store.
func (e *Executor) Execute(ctx context.Context, candidate types.CypherCandidate, pol policy.Policy) (Result, error) {
	if _, leaked := candidate.Params["timeout"]; leaked {
		return Result{}, pipeline.NewError("executor", pipeline.ReasonWriteBlocked,
			"a parameter named timeout must never reach the graph-store parameter channel", nil)
	}

	queryCtx, cancel := context.WithTimeout(ctx, pol.Timeout)
	defer cancel()

	rows, err := e.store.Query(queryCtx, candidate.Text, candidate.Params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, pipeline.NewError("executor", pipeline.ReasonQueryTimeout, fmt.Sprintf("query exceeded timeout of %s", pol.Timeout), err)
		}
		if errors.Is(err, graphstore.ErrWriteNotPermitted) {
			return Result{}, pipeline.NewError("executor", pipeline.ReasonWriteBlocked, "query attempted a write in a read-only transaction", err)
		}
		return Result{}, pipeline.NewError("executor", pipeline.ReasonUpstreamUnavailable, "graph store query failed", err)
	}

	truncated := false
	if len(rows) > pol.MaxCypherResults {
		rows = rows[:pol.MaxCypherResults]
		truncated = true
	}

	return Result{Rows: rows, Truncated: truncated}, nil
}
