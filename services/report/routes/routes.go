// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ModeioReport/pkg/config"
	"github.com/AleutianAI/ModeioReport/services/report"
	"github.com/AleutianAI/ModeioReport/services/report/handlers"
	"github.com/AleutianAI/ModeioReport/services/report/middleware"
)

// SetupRoutes registers the report API on router. metricsHandler is mounted
// at /metrics when non-nil.
func SetupRoutes(router *gin.Engine, cfg config.Config, pipeline *report.Pipeline,
	stream handlers.ReportStreamHandler, metricsHandler http.Handler) {

	router.GET("/health", handlers.HealthCheck)
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.TokenAuth(cfg.Server.APIToken))
	{
		v1.GET("/scopes", handlers.ListScopes(cfg.Scopes))

		reports := v1.Group("/reports")
		{
			reports.POST("/stream",
				handlers.RateLimit(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
				stream.HandleReportStream)
			reports.GET("/artifacts/:name", handlers.HandleArtifactDownload(pipeline.Materializer()))
		}
	}
}
