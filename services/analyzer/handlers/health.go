// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/archsentry/archsentry/services/analyzer/datatypes"
	"github.com/archsentry/archsentry/services/llm"
)

// ReadyChecker probes a dependency for liveness.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

// HealthCheck reports per-dependency health. The vector store is probed
// live; the reasoning backend is only checked for configuration since a
// probe would cost a model call.
func HealthCheck(store ReadyChecker, llmClient llm.LLMClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		services := make(map[string]string)
		healthy := true

		if store == nil {
			services["weaviate"] = "not configured"
			healthy = false
		} else if err := store.Ready(ctx); err != nil {
			services["weaviate"] = err.Error()
			healthy = false
		} else {
			services["weaviate"] = "ok"
		}

		if llmClient == nil {
			services["llm"] = "not configured"
			healthy = false
		} else {
			services["llm"] = "ok"
		}

		resp := datatypes.HealthResponse{Status: "ok", Services: services}
		status := http.StatusOK
		if !healthy {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, resp)
	}
}
