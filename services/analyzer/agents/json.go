// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agents

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON pulls the JSON object out of a model response. Backends
// are asked for bare JSON, but models still occasionally wrap output in
// a markdown fence or add prose around it.
func extractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty response")
	}

	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		return strings.TrimSpace(s), nil
	}
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+len("```"):]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		return strings.TrimSpace(s), nil
	}

	// Fall back to the outermost braces when the object is embedded in
	// prose.
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1], nil
	}
	return s, nil
}

// decodeResponse extracts and unmarshals a model response into out,
// then checks that the named top-level keys were present.
func decodeResponse(raw string, out interface{}, requiredKeys ...string) error {
	jsonStr, err := extractJSON(raw)
	if err != nil {
		return err
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(jsonStr), &probe); err != nil {
		return fmt.Errorf("response is not a JSON object: %w", err)
	}
	for _, key := range requiredKeys {
		if _, ok := probe[key]; !ok {
			return fmt.Errorf("missing required key %q", key)
		}
	}
	if err := json.Unmarshal([]byte(jsonStr), out); err != nil {
		return fmt.Errorf("response does not match the expected shape: %w", err)
	}
	return nil
}
