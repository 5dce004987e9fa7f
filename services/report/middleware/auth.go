// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the report service.
//
// # Authentication Flow
//
//	Request
//	   │
//	   ▼
//	TokenAuth
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► Constant-time compare with the configured token
//	   │
//	   └─► Mark the request authenticated
//	           │
//	           ▼
//	       Handler (checks via IsAuthenticated)
//
// # Open Behavior
//
// With no token configured every request passes. This keeps the local CLI
// and single-user deployments free of credentials.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// authenticatedKey is the gin context key set by TokenAuth.
const authenticatedKey = "modeio_authenticated"

// IsAuthenticated reports whether TokenAuth accepted the request's token.
// Always false when no token is configured.
func IsAuthenticated(c *gin.Context) bool {
	return c.GetBool(authenticatedKey)
}

// TokenAuth creates a Gin middleware that requires a static bearer token.
//
// # Description
//
// Extracts the bearer token from the Authorization header and compares it
// to token in constant time. Mismatches are aborted with 401 before any
// pipeline work starts.
//
// # Inputs
//
//   - token: The expected token. Empty disables the check.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware ready for use with a route group.
//
// # Examples
//
//	v1 := router.Group("/v1")
//	v1.Use(middleware.TokenAuth(cfg.Server.APIToken))
//
// # Limitations
//
//   - Only supports Bearer tokens
//   - A single shared token; no per-user identity
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func TokenAuth(token string) gin.HandlerFunc {
	if token == "" {
		return func(c *gin.Context) { c.Next() }
	}
	expected := []byte(token)

	return func(c *gin.Context) {
		got := extractBearerToken(c)
		if got == "" {
			c.Header("WWW-Authenticate", `Bearer realm="modeio"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}
		c.Set(authenticatedKey, true)
		c.Next()
	}
}

// extractBearerToken returns the token from "Authorization: Bearer <token>",
// or "" when the header is missing or malformed. The scheme is matched
// case-insensitively per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
