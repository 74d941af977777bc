// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graphstore is the driver-consumed boundary (spec §6) between
// the pipeline and the property graph: parameterised Cypher in
// read-only transactions with a per-request deadline, admin DDL for
// vector-index create/drop, and schema introspection for the Schema
// Catalog's bootstrap and refresh paths.
package graphstore

import (
	"context"

	"github.com/paladugusuresh/Graphrag/internal/types"
)

// SchemaSnapshot is the raw introspection result the Schema Catalog
// (C1) turns into a types.AllowList.
type SchemaSnapshot struct {
	Labels             []string
	RelationshipTypes  []string
	PropertiesByLabel  map[string][]string
}

// Store is everything the pipeline needs from the graph backend. It
// never exposes the driver session type so callers cannot bypass the
// read-only transaction guarantee.
type Store interface {
	// Query runs cypher as a read-only transaction bounded by ctx and
	// returns materialised rows. Implementations must reject any write
	// clause the underlying driver would otherwise permit.
	Query(ctx context.Context, cypher string, params map[string]any) ([]types.ResultRow, error)

	// IntrospectSchema lists labels, relationship types, and per-label
	// properties currently present in the store.
	IntrospectSchema(ctx context.Context) (SchemaSnapshot, error)

	// EnsureVectorIndex is a write path in the interface, gated by the
	// caller holding an admin-mode, write-enabled Policy. It is
	// idempotent: creating an index that already exists is not an
	// error, but it also does not alter an existing index's dimensions
	// — callers that detect a dimension change must DropVectorIndex
	// first.
	EnsureVectorIndex(ctx context.Context, name, label, property string, dimensions int) error

	// DropVectorIndex removes a vector index if present. It is the
	// other half of the dimension-change path: drop the stale index,
	// then EnsureVectorIndex recreates it at the new dimension. Not an
	// error if the index does not exist.
	DropVectorIndex(ctx context.Context, name string) error

	// Close releases driver resources and stops the health-check loop.
	Close(ctx context.Context) error
}
