// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/archsentry/archsentry/services/analyzer/datatypes"
)

// HandleVerify generates a corrected diagram for previously identified
// risks. Risks are required in the body but may be empty, in which case
// the diagram comes back unchanged.
func HandleVerify(p AnalysisPipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleVerify")
		defer span.End()

		var request datatypes.VerifyRequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to bind verify request JSON", "error", err)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "Invalid request body"})
			return
		}
		span.SetAttributes(attribute.Int("verification.risks", len(request.Risks)))

		resp, err := p.Verify(ctx, request.OriginalDiagram, request.Risks)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Verification failed", "error", err)
			writePipelineError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleAnalyzeAndVerify runs the full pipeline in one request.
func HandleAnalyzeAndVerify(p AnalysisPipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleAnalyzeAndVerify")
		defer span.End()

		var request datatypes.AnalyzeRequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to bind analyze-and-verify request JSON", "error", err)
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "Invalid request body"})
			return
		}

		resp, err := p.AnalyzeAndVerify(ctx, request.Diagram)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Combined analysis failed", "error", err)
			writePipelineError(c, err)
			return
		}

		span.SetAttributes(attribute.Int("analysis.risks", len(resp.Analysis.Risks)))
		c.JSON(http.StatusOK, resp)
	}
}
