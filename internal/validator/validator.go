// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validator is the Query Validator (C7): six ordered,
// fail-fast checks over a generated candidate, generalising
// code_buddy/agent/grounding/citation_checker.go's multi-level
// sequential validation (each level produces a typed violation) from
// citation checking to Cypher-text checking, and reusing
// services/policy_engine/engine.go's line-scan-for-closed-pattern-set
// idiom for the write-ban pass.
package validator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/paladugusuresh/Graphrag/internal/guardrail"
	"github.com/paladugusuresh/Graphrag/internal/pipeline"
	"github.com/paladugusuresh/Graphrag/internal/policy"
	"github.com/paladugusuresh/Graphrag/internal/types"
)

var (
	commentPattern  = regexp.MustCompile(`(?m)//.*$`)
	nodeSpanPattern = regexp.MustCompile(`\(([^()]*)\)`)
	// labelTokenPattern matches every :Label occurring inside a node
	// span (parenthesised node pattern, possibly chained as
	// :Label1:Label2). It deliberately requires the identifier to
	// follow the colon with no intervening space, so it does not match
	// a property-map key like "full_name: $student" inside the same
	// span.
	labelTokenPattern = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)
	relTokenPattern   = regexp.MustCompile(`\[[a-zA-Z0-9_]*:([A-Za-z_][A-Za-z0-9_]*)\]`)
	varLengthPattern    = regexp.MustCompile(`\*(\d*)\.\.(\d+)|\*(\d+)|\*`)
	paramTokenPattern   = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
	limitParamPattern   = regexp.MustCompile(`(?i)LIMIT\s+\$([A-Za-z_][A-Za-z0-9_]*)`)
	limitIntegerPattern = regexp.MustCompile(`(?i)LIMIT\s+(\d+)`)
	stringLiteralPat    = regexp.MustCompile(`'[^']*'|"[^"]*"`)
)

var mutationKeywordPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(guardrail.MutationKeywords, "|") + `)\b`)

// Validate runs all six checks in order, returning the possibly
// auto-injected candidate on success or a *pipeline.Error carrying the
// stable reason code on the first failing check.
func Validate(candidate types.CypherCandidate, allow *types.AllowList, pol policy.Policy, autoInjectLimit bool) (types.CypherCandidate, error) {
	stripped := commentPattern.ReplaceAllString(candidate.Text, "")

	if err := checkWriteBan(stripped); err != nil {
		return candidate, err
	}
	if err := checkParameterisation(stripped); err != nil {
		return candidate, err
	}
	if err := checkAllowList(stripped, allow); err != nil {
		return candidate, err
	}
	if err := checkTraversalDepth(stripped, pol.MaxTraversalDepth); err != nil {
		return candidate, err
	}

	candidate, err := checkResultCap(candidate, stripped, pol.MaxCypherResults, autoInjectLimit)
	if err != nil {
		return candidate, err
	}

	if err := checkParamCoverage(candidate); err != nil {
		return candidate, err
	}

	return candidate, nil
}

func checkWriteBan(text string) error {
	withoutLiterals := stringLiteralPat.ReplaceAllString(text, "''")
	if mutationKeywordPattern.MatchString(withoutLiterals) {
		return pipeline.NewError("validator", pipeline.ReasonValidationWriteBanned, "text contains a mutation keyword outside a string literal", nil)
	}
	return nil
}

// checkParameterisation rejects any value position that is not a
// bound identifier, a $name, or a numeric literal in a LIMIT clause.
// Approximated here as: no bare single/double-quoted string literal
// may appear outside of the template's own constant text — detected
// as any single- or double-quoted literal anywhere in the text once
// LIMIT <integer> clauses are removed.
func checkParameterisation(text string) error {
	withoutLimit := limitIntegerPattern.ReplaceAllString(text, "")
	if stringLiteralPat.MatchString(withoutLimit) {
		return pipeline.NewError("validator", pipeline.ReasonValidationUnparameterised, "a string literal appears where a $name parameter is required", nil)
	}
	return nil
}

func checkAllowList(text string, allow *types.AllowList) error {
	for _, span := range nodeSpanPattern.FindAllStringSubmatch(text, -1) {
		for _, m := range labelTokenPattern.FindAllStringSubmatch(span[1], -1) {
			if !allow.HasLabel(m[1]) {
				return pipeline.NewError("validator", pipeline.ReasonValidationUnknownLabel, fmt.Sprintf("label %q is not in the allow-list", m[1]), nil)
			}
		}
	}
	for _, m := range relTokenPattern.FindAllStringSubmatch(text, -1) {
		if !allow.HasRelationship(m[1]) {
			return pipeline.NewError("validator", pipeline.ReasonValidationUnknownRel, fmt.Sprintf("relationship %q is not in the allow-list", m[1]), nil)
		}
	}
	return nil
}

func checkTraversalDepth(text string, maxDepth int) error {
	for _, m := range varLengthPattern.FindAllStringSubmatch(text, -1) {
		boundedRange, single, unbounded := m[2], m[3], m[0] == "*"
		if unbounded {
			return pipeline.NewError("validator", pipeline.ReasonValidationDepthExceeded, "unbounded variable-length path '*' is not allowed", nil)
		}
		upper := boundedRange
		if upper == "" {
			upper = single
		}
		if upper == "" {
			continue
		}
		n, err := strconv.Atoi(upper)
		if err != nil {
			continue
		}
		if n > maxDepth {
			return pipeline.NewError("validator", pipeline.ReasonValidationDepthExceeded,
				fmt.Sprintf("path depth %d exceeds max_traversal_depth %d", n, maxDepth), nil)
		}
	}
	return nil
}

// checkResultCap requires LIMIT $name or LIMIT <=max; auto-injects
// LIMIT $limit when missing and the caller allows it.
func checkResultCap(candidate types.CypherCandidate, strippedText string, maxResults int, autoInject bool) (types.CypherCandidate, error) {
	if limitParamPattern.MatchString(strippedText) {
		return candidate, nil
	}
	if m := limitIntegerPattern.FindStringSubmatch(strippedText); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n <= maxResults {
			return candidate, nil
		}
		return candidate, pipeline.NewError("validator", pipeline.ReasonValidationLimitMissing,
			fmt.Sprintf("declared LIMIT %d exceeds max_cypher_results %d", n, maxResults), nil)
	}

	if !autoInject {
		return candidate, pipeline.NewError("validator", pipeline.ReasonValidationLimitMissing, "no LIMIT clause present and auto-injection is disabled for this intent", nil)
	}

	candidate.Text = strings.TrimRight(candidate.Text, " \n\t") + "\nLIMIT $limit"
	if candidate.Params == nil {
		candidate.Params = map[string]any{}
	}
	candidate.Params["limit"] = maxResults
	return candidate, nil
}

func checkParamCoverage(candidate types.CypherCandidate) error {
	for _, m := range paramTokenPattern.FindAllStringSubmatch(candidate.Text, -1) {
		if _, ok := candidate.Params[m[1]]; !ok {
			return pipeline.NewError("validator", pipeline.ReasonValidationParamUnbound, fmt.Sprintf("$%s has no binding in params", m[1]), nil)
		}
	}
	return nil
}
