// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm abstracts the reasoning-service backends used by the
// analysis and verification stages. Backends are selected at startup via
// LLM_BACKEND_TYPE; the stages only ever see the LLMClient interface so
// they can be tested against deterministic fakes.
package llm

import "context"

// GenerationParams tunes a single generation request. Nil pointer fields
// use backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// System sets the system-role persona for the request.
	System string `json:"system,omitempty"`

	// JSONOnly constrains the backend to emit a single JSON object
	// (OpenAI response_format, Ollama format=json). Stages that parse
	// structured output set this.
	JSONOnly bool `json:"json_only,omitempty"`
}

// LLMClient is the standard interface for any reasoning backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}
