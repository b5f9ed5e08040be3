// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/archsentry/archsentry/services/analyzer/handlers"
	"github.com/archsentry/archsentry/services/analyzer/knowledge"
	"github.com/archsentry/archsentry/services/llm"
)

func SetupRoutes(router *gin.Engine, p handlers.AnalysisPipeline, store knowledge.RuleStore,
	llmClient llm.LLMClient) {

	router.GET("/health", handlers.HealthCheck(store, llmClient))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/analyze", handlers.HandleAnalyze(p))
		v1.POST("/verify", handlers.HandleVerify(p))
		v1.POST("/analyze-and-verify", handlers.HandleAnalyzeAndVerify(p))

		// Knowledge base administration routes
		rules := v1.Group("/rules")
		{
			rules.POST("", handlers.AddRule(store))
			rules.GET("", handlers.ListRules(store))
			rules.DELETE("", handlers.ResetRules(store))
		}
	}
}
