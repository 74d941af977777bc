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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubProviderIsDeterministic(t *testing.T) {
	p := NewStubProvider()

	first, err := p.Embed(context.Background(), []string{"what goals are at risk"})
	require.NoError(t, err)

	second, err := p.Embed(context.Background(), []string{"what goals are at risk"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestStubProviderReturnsFixedDimensions(t *testing.T) {
	p := NewStubProvider()

	vectors, err := p.Embed(context.Background(), []string{"a", "a longer piece of text", ""})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for _, v := range vectors {
		assert.Len(t, v, StubDimensions)
	}
}

func TestStubProviderDiffersByInputLength(t *testing.T) {
	p := NewStubProvider()

	vectors, err := p.Embed(context.Background(), []string{"short", "a fair bit longer than short"})
	require.NoError(t, err)

	assert.NotEqual(t, vectors[0], vectors[1])
}
