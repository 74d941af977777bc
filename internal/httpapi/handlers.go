// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/paladugusuresh/Graphrag/internal/pipeline"
	"github.com/paladugusuresh/Graphrag/internal/schema"
	"github.com/paladugusuresh/Graphrag/internal/types"
)

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// queryRequestBody adds the trace-id passthrough field on top of the
// shared types.QueryRequest; trace_id is a caller-supplied correlation
// hint, not part of the validated public surface.
type queryRequestBody struct {
	types.QueryRequest
	TraceID string `json:"trace_id"`
}

type queryResponse struct {
	TraceID      string   `json:"trace_id"`
	Format       string   `json:"format"`
	Answer       string   `json:"answer"`
	Citations    []string `json:"citations"`
	Verification string   `json:"verification_status"`
	Truncated    bool     `json:"truncated"`
}

// HandleQuery is the single public pipeline entry point.
func HandleQuery(p *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req queryRequestBody
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		callerKey := c.ClientIP()
		resp, err := p.Handle(c.Request.Context(), req.TraceID, callerKey, req.Question)
		if err != nil {
			var pipelineErr *pipeline.Error
			if errors.As(err, &pipelineErr) {
				c.JSON(pipelineErr.Reason.HTTPStatus(), gin.H{
					"error":       pipelineErr.Message,
					"reason_code": pipelineErr.Reason,
					"trace_id":    resp.TraceID,
				})
				return
			}
			slog.Error("httpapi: unexpected pipeline error", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "trace_id": resp.TraceID})
			return
		}

		c.JSON(http.StatusOK, queryResponse{
			TraceID:      resp.TraceID,
			Format:       req.Format,
			Answer:       resp.Answer,
			Citations:    resp.Citations,
			Verification: resp.Verification.Status,
			Truncated:    resp.Truncated,
		})
	}
}

// HandleSchemaRefresh re-introspects the graph store and atomically
// publishes a new allow-list snapshot if the schema changed.
func HandleSchemaRefresh(catalog *schema.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		changed, err := catalog.Refresh(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"changed": changed})
	}
}
