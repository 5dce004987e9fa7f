// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/ModeioReport/services/report"
)

// HandleArtifactDownload serves GET /v1/reports/artifacts/:name.
//
// Only names the materializer could have produced are served, and only from
// its directory. Anything else is 404.
func HandleArtifactDownload(materializer *report.Materializer) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		path, err := materializer.Resolve(name)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
			return
		}
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.FileAttachment(path, name)
	}
}
