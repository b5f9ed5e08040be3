// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/archsentry/archsentry/services/analyzer/datatypes"
)

// AnalysisPipeline is the pipeline surface the handlers depend on.
type AnalysisPipeline interface {
	Analyze(ctx context.Context, diagramText string) (*datatypes.AnalyzeResponse, error)
	Verify(ctx context.Context, originalDiagram string, risks []datatypes.Risk) (*datatypes.VerifyResponse, error)
	AnalyzeAndVerify(ctx context.Context, diagramText string) (*datatypes.AnalyzeAndVerifyResponse, error)
}

// HandleAnalyze runs risk analysis on a submitted diagram.
func HandleAnalyze(p AnalysisPipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleAnalyze")
		defer span.End()

		var request datatypes.AnalyzeRequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to bind analyze request JSON", "error", err)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "Invalid request body"})
			return
		}
		span.SetAttributes(attribute.Int("diagram.bytes", len(request.Diagram)))

		resp, err := p.Analyze(ctx, request.Diagram)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Analysis failed", "error", err)
			writePipelineError(c, err)
			return
		}

		span.SetAttributes(attribute.Int("analysis.risks", len(resp.Risks)))
		c.JSON(http.StatusOK, resp)
	}
}
