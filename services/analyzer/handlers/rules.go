// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/archsentry/archsentry/services/analyzer/datatypes"
	"github.com/archsentry/archsentry/services/analyzer/knowledge"
)

const defaultListLimit = 100

// AddRule stores one compliance rule in the knowledge base.
func AddRule(store knowledge.RuleStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "AddRule")
		defer span.End()

		if store == nil {
			c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{Error: "vector store not configured"})
			return
		}

		var request datatypes.AddRuleRequest
		if err := c.BindJSON(&request); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "Invalid request body"})
			return
		}

		severity, known := datatypes.NormalizeSeverity(request.Severity)
		if !known {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error: fmt.Sprintf("invalid severity %q, want one of low, medium, high, critical", request.Severity),
			})
			return
		}
		if request.ServiceID != "" {
			if _, ok := datatypes.LookupServiceType(request.ServiceID); !ok {
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
					Error: fmt.Sprintf("unknown service id %q", request.ServiceID),
				})
				return
			}
		}

		rule := datatypes.ComplianceRule{
			Title:       request.Title,
			Description: request.Description,
			Details:     request.Details,
			ServiceID:   request.ServiceID,
			Category:    request.Category,
			Severity:    severity,
			Provider:    request.Provider,
			Metadata:    request.Metadata,
		}

		id, err := store.AddRule(ctx, rule)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to add rule", "title", request.Title, "error", err)
			c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{Error: "failed to store rule", Detail: err.Error()})
			return
		}
		c.JSON(http.StatusCreated, datatypes.AddRuleResponse{ID: id})
	}
}

// ListRules returns the stored compliance rules. An optional service
// query parameter restricts the listing to one service's rules, and
// limit caps the result size.
func ListRules(store knowledge.RuleStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "ListRules")
		defer span.End()

		if store == nil {
			c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{Error: "vector store not configured"})
			return
		}

		limit := defaultListLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "limit must be a positive integer"})
				return
			}
			limit = parsed
		}

		var rules []datatypes.ComplianceRule
		var err error
		if serviceID := c.Query("service"); serviceID != "" {
			if _, ok := datatypes.LookupServiceType(serviceID); !ok {
				c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
					Error: fmt.Sprintf("unknown service id %q", serviceID),
				})
				return
			}
			rules, err = store.RulesForService(ctx, serviceID, limit)
		} else {
			rules, err = store.ListRules(ctx, limit)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to list rules", "error", err)
			c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{Error: "failed to list rules", Detail: err.Error()})
			return
		}
		if rules == nil {
			rules = []datatypes.ComplianceRule{}
		}
		c.JSON(http.StatusOK, datatypes.ListRulesResponse{Rules: rules, Count: len(rules)})
	}
}

// ResetRules drops every stored rule and recreates the empty class.
func ResetRules(store knowledge.RuleStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "ResetRules")
		defer span.End()

		if store == nil {
			c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{Error: "vector store not configured"})
			return
		}

		if err := store.Reset(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to reset rules", "error", err)
			c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{Error: "failed to reset rules", Detail: err.Error()})
			return
		}
		slog.Warn("Compliance rule class reset via admin endpoint")
		c.JSON(http.StatusOK, gin.H{"status": "reset"})
	}
}
