// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"context"
	"math/rand"
)

// StubDimensions is the fixed vector width StubProvider returns,
// matching the dimension-8 baseline used throughout the dimension-
// switch scenario.
const StubDimensions = 8

// StubProvider is a deterministic, dependency-free Provider for
// offline testing and local development: the same text always embeds
// to the same vector, derived from its length rather than a real
// model call, following MockEmbedder's seeded-PRNG idiom.
type StubProvider struct{}

func NewStubProvider() *StubProvider { return &StubProvider{} }

func (StubProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		rng := rand.New(rand.NewSource(int64(len(text) + 1)))
		vector := make([]float32, StubDimensions)
		for j := range vector {
			vector[j] = rng.Float32()*2 - 1
		}
		vectors[i] = vector
	}
	return vectors, nil
}
