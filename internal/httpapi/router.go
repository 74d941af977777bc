// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package httpapi is the thin Gin surface over the pipeline, grounded
// on routes/routes.go's versioned route-group layout.
package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paladugusuresh/Graphrag/internal/adminauth"
	"github.com/paladugusuresh/Graphrag/internal/pipeline"
	"github.com/paladugusuresh/Graphrag/internal/schema"
)

// SetupRoutes mounts every route the pipeline exposes onto router.
func SetupRoutes(router *gin.Engine, p *pipeline.Pipeline, catalog *schema.Catalog, admin *adminauth.Gate) {
	router.GET("/healthz", HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/query", HandleQuery(p))

		adminGroup := v1.Group("/admin")
		adminGroup.Use(admin.Middleware())
		{
			adminGroup.POST("/schema/refresh", HandleSchemaRefresh(catalog))
		}
	}
}
