// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retriever

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate/entities/models"
)

// parseResponse is the same marshal/unmarshal-into-T idiom
// datatypes/weaviate_query.go's ParseGraphQLResponse uses to turn a
// dynamic GraphQL response into a strongly typed struct.
func parseResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal response data: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal into target type: %w", err)
	}
	return &out, nil
}

func parseChunkResponse(resp *models.GraphQLResponse) (*chunkGraphQLResponse, error) {
	return parseResponse[chunkGraphQLResponse](resp)
}

func filterByChunkID(chunkID string) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"chunk_id"}).
		WithOperator(filters.Equal).
		WithValueString(chunkID)
}
