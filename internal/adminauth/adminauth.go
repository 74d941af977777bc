// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package adminauth gates the admin-only schema-refresh endpoint
// behind a bearer token and the process's configured policy.Mode,
// grounded on middleware/auth.go's extract-bearer-then-validate shape
// retargeted from a pluggable AuthProvider to a single static token
// comparison, since the admin surface here has exactly one operation
// and one privilege level.
package adminauth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/paladugusuresh/Graphrag/internal/policy"
)

// ErrUnauthorized is returned when the bearer token is missing or does
// not match the configured admin token.
var ErrUnauthorized = errors.New("adminauth: unauthorized")

// ErrAdminDisabled is returned when the process is not running in
// policy.ModeAdmin, regardless of the token presented.
var ErrAdminDisabled = errors.New("adminauth: admin mode disabled")

// Gate validates a bearer token against the configured admin token and
// the process's policy.Mode.
type Gate struct {
	token string
	mode  policy.Mode
}

func New(token string, mode policy.Mode) *Gate {
	return &Gate{token: token, mode: mode}
}

// Validate returns nil when token matches and the process runs in
// admin mode.
func (g *Gate) Validate(token string) error {
	if g.mode != policy.ModeAdmin {
		return ErrAdminDisabled
	}
	if g.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(g.token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Middleware is the Gin entry point for admin-only routes.
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if err := g.Validate(token); err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrAdminDisabled) {
				status = http.StatusForbidden
			}
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
