// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema holds the Schema Catalog (C1) and Schema Embedder
// (C2): the bootstrap path that turns the graph store's live schema
// into the allow-list every later stage consults.
package schema

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/paladugusuresh/Graphrag/internal/graphstore"
	"github.com/paladugusuresh/Graphrag/internal/types"
)

// Catalog owns the live AllowList snapshot. Readers get an immutable
// pointer; Refresh atomically swaps it for a new one, exactly the way
// the vector-store resilient client swaps its connection state without
// ever mutating a struct a reader might be holding.
type Catalog struct {
	store   graphstore.Store
	current atomic.Pointer[types.AllowList]
}

func New(store graphstore.Store) *Catalog {
	return &Catalog{store: store}
}

// Current returns the live snapshot, or nil before the first Refresh.
func (c *Catalog) Current() *types.AllowList {
	return c.current.Load()
}

// Refresh introspects the store, computes a fingerprint over the
// sorted label/relationship/property triples, and publishes a new
// snapshot only if the fingerprint changed. It reports whether the
// allow-list actually changed.
func (c *Catalog) Refresh(ctx context.Context) (changed bool, err error) {
	snapshot, err := c.store.IntrospectSchema(ctx)
	if err != nil {
		return false, fmt.Errorf("schema: introspect: %w", err)
	}

	allow := buildAllowList(snapshot)
	prev := c.current.Load()
	if prev != nil && prev.Fingerprint == allow.Fingerprint {
		slog.Debug("schema: refresh found no change", "fingerprint", fmt.Sprintf("%x", allow.Fingerprint[:8]))
		return false, nil
	}

	c.current.Store(allow)
	slog.Info("schema: allow-list refreshed",
		"labels", len(allow.Labels), "relationships", len(allow.Relationships),
		"fingerprint", fmt.Sprintf("%x", allow.Fingerprint[:8]))
	return true, nil
}

func buildAllowList(snapshot graphstore.SchemaSnapshot) *types.AllowList {
	allow := &types.AllowList{
		Labels:        toSet(snapshot.Labels),
		Relationships: toSet(snapshot.RelationshipTypes),
		Properties:    map[string]map[string]struct{}{},
	}
	for label, props := range snapshot.PropertiesByLabel {
		allow.Properties[label] = toSet(props)
	}
	allow.Fingerprint = fingerprint(snapshot)
	return allow
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		if types.IdentifierPattern.MatchString(item) {
			set[item] = struct{}{}
		}
	}
	return set
}

// fingerprint hashes the sorted triples with sha256, the same stdlib
// choice services/orchestrator/ttl/logger.go makes for its own
// content-addressed records — no pack library does content hashing
// better than stdlib crypto/sha256 for a closed, small input.
func fingerprint(snapshot graphstore.SchemaSnapshot) [32]byte {
	labels := append([]string{}, snapshot.Labels...)
	sort.Strings(labels)
	rels := append([]string{}, snapshot.RelationshipTypes...)
	sort.Strings(rels)

	labelKeys := make([]string, 0, len(snapshot.PropertiesByLabel))
	for label := range snapshot.PropertiesByLabel {
		labelKeys = append(labelKeys, label)
	}
	sort.Strings(labelKeys)

	var b strings.Builder
	b.WriteString("labels:")
	b.WriteString(strings.Join(labels, ","))
	b.WriteString("|relationships:")
	b.WriteString(strings.Join(rels, ","))
	b.WriteString("|properties:")
	for _, label := range labelKeys {
		props := append([]string{}, snapshot.PropertiesByLabel[label]...)
		sort.Strings(props)
		b.WriteString(label)
		b.WriteString("=")
		b.WriteString(strings.Join(props, ","))
		b.WriteString(";")
	}
	return sha256.Sum256([]byte(b.String()))
}
