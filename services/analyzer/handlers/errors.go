// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers contains the Gin handlers for the analyzer service.
// Handlers are closures over their dependencies so tests can inject
// fakes.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/archsentry/archsentry/services/analyzer/datatypes"
	"github.com/archsentry/archsentry/services/analyzer/diagram"
	"github.com/archsentry/archsentry/services/analyzer/pipeline"
)

var tracer = otel.Tracer("archsentry.analyzer.handlers")

// writePipelineError maps a pipeline failure onto an HTTP response.
// Diagram parse failures are the caller's fault; everything else is a
// dependency failure surfaced as 502.
func writePipelineError(c *gin.Context, err error) {
	resp := datatypes.ErrorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var se *pipeline.StageError
	if errors.As(err, &se) {
		resp.Stage = string(se.Stage)
		resp.Detail = se.Err.Error()

		var pe *diagram.ParseError
		if errors.As(err, &pe) {
			resp.Error = "invalid diagram"
			status = http.StatusBadRequest
		} else {
			resp.Error = "analysis pipeline failed"
			status = http.StatusBadGateway
		}
	}
	c.JSON(status, resp)
}
