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

import "regexp"

var paramPattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// Template is a pre-written, validated Cypher text with named
// parameters, mapped to one intent. CanonicalToLegacy maps a plan's
// canonical parameter name (e.g. "student_name") to whatever name the
// template text actually uses (e.g. "student"), per spec §9's
// name-canonicalisation note: this mapping happens exactly once, here.
type Template struct {
	Intent            string
	Text              string
	CanonicalToLegacy map[string]string
	AllowAutoLimit    bool
}

// requiredParams returns every $name occurrence in the template text.
func (t Template) requiredParams() []string {
	matches := paramPattern.FindAllStringSubmatch(t.Text, -1)
	seen := map[string]struct{}{}
	var names []string
	for _, m := range matches {
		if _, ok := seen[m[1]]; !ok {
			seen[m[1]] = struct{}{}
			names = append(names, m[1])
		}
	}
	return names
}

// Registry is the fixed set of templates keyed by intent. Column
// projection within each template prefers coalesce() over an explicit
// alias list, per the Open Question decision recorded in SPEC_FULL.md.
var Registry = map[string]Template{
	"goals_for_student": {
		Intent: "goals_for_student",
		Text: `MATCH (s:Student {full_name: $student})-[:HAS_GOAL]->(g:Goal)
RETURN coalesce(g.title, g.name, g.description) AS goal, g.status AS status
LIMIT $limit`,
		CanonicalToLegacy: map[string]string{"student_name": "student"},
		AllowAutoLimit:    true,
	},
}
