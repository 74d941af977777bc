// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guardrail is the pure, I/O-free first gate (C3) every
// question passes through before planning starts. It is a compiled
// regex table sorted by priority, the same shape
// services/policy_engine/engine.go uses for data classification,
// retargeted from classifying data sensitivity to blocking mutation
// and injection attempts.
package guardrail

import (
	_ "embed"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var embeddedPatterns []byte

const maxQuestionLength = 2000

type ruleFile struct {
	Rules []rule `yaml:"rules"`
}

type rule struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Priority    int    `yaml:"priority"`
	Regex       string `yaml:"regex"`
	compiled    *regexp.Regexp
}

// Guardrail holds the compiled, priority-sorted rule table.
type Guardrail struct {
	rules []rule
}

// New compiles the embedded pattern table. A malformed table (bad YAML
// or an uncompilable regex) is returned as an error; New never panics.
func New() (*Guardrail, error) {
	var file ruleFile
	if err := yaml.Unmarshal(embeddedPatterns, &file); err != nil {
		return nil, fmt.Errorf("guardrail: unmarshal embedded pattern table: %w", err)
	}
	for i := range file.Rules {
		re, err := regexp.Compile(file.Rules[i].Regex)
		if err != nil {
			return nil, fmt.Errorf("guardrail: compile regex %q: %w", file.Rules[i].Regex, err)
		}
		file.Rules[i].compiled = re
	}
	sort.Slice(file.Rules, func(i, j int) bool { return file.Rules[i].Priority > file.Rules[j].Priority })
	return &Guardrail{rules: file.Rules}, nil
}

// Decision is the outcome of Check.
type Decision struct {
	Allowed bool
	Reason  string // rule name that blocked, empty when Allowed
}

// Check sanitises the question and runs it through the rule table.
// Pure function: no I/O, microsecond latency. Any internal panic is
// recovered and treated as fail-open per spec §4.3/§7 — guardrail
// errors allow the request through and are recorded as
// guardrail_error, not surfaced as a block.
func (g *Guardrail) Check(question string) (decision Decision, failedOpen bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("guardrail: internal error, failing open", "panic", r)
			decision = Decision{Allowed: true}
			failedOpen = true
		}
	}()

	clean := sanitise(question)
	for _, r := range g.rules {
		if r.compiled.MatchString(clean) {
			return Decision{Allowed: false, Reason: r.Name}, false
		}
	}
	return Decision{Allowed: true}, false
}

// sanitise strips control characters, collapses whitespace, and bounds
// length before matching, per spec §4.3.
func sanitise(input string) string {
	var b strings.Builder
	lastWasSpace := false
	for _, r := range input {
		if unicode.IsSpace(r) {
			if lastWasSpace {
				continue
			}
			lastWasSpace = true
			b.WriteRune(' ')
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		lastWasSpace = false
		b.WriteRune(r)
	}
	out := strings.TrimSpace(b.String())
	if len(out) > maxQuestionLength {
		out = out[:maxQuestionLength]
	}
	return out
}

// MutationKeywords is the closed set C7's write-ban check reuses so
// the guardrail and validator never drift on what counts as a
// mutation.
var MutationKeywords = []string{"CREATE", "MERGE", "DELETE", "SET", "REMOVE", "DROP", "DETACH"}
