// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Seeder loads the compliance knowledge base into Weaviate. By default
// it inserts the bundled rule set covering the supported service
// catalog; a custom rules file can be supplied instead.
package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/archsentry/archsentry/services/analyzer/datatypes"
	"github.com/archsentry/archsentry/services/analyzer/knowledge"
)

//go:embed seed_rules.json
var defaultRules []byte

var (
	rulesFile string
	reset     bool
)

var rootCmd = &cobra.Command{
	Use:   "seeder",
	Short: "Seed the ArchSentry compliance knowledge base",
	Long: `Seeder embeds and inserts compliance rules into the Weaviate knowledge
base used by the analyzer service. Without flags it loads the bundled
rule set for the supported cloud services.

The target instance comes from WEAVIATE_SERVICE_URL, and the embedding
backend from OPENAI_API_KEY / OPENAI_EMBEDDING_MODEL.`,
	RunE: runSeed,
}

func init() {
	rootCmd.Flags().StringVar(&rulesFile, "file", "", "JSON file with rules to load instead of the bundled set")
	rootCmd.Flags().BoolVar(&reset, "reset", false, "drop all existing rules before seeding")
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	raw := defaultRules
	if rulesFile != "" {
		var err error
		raw, err = os.ReadFile(rulesFile)
		if err != nil {
			return fmt.Errorf("failed to read rules file: %w", err)
		}
	}

	var rules []datatypes.ComplianceRule
	if err := json.Unmarshal(raw, &rules); err != nil {
		return fmt.Errorf("failed to parse rules: %w", err)
	}
	if len(rules) == 0 {
		return fmt.Errorf("no rules to seed")
	}
	for i, r := range rules {
		if !r.Severity.Valid() {
			return fmt.Errorf("rule %d (%q) has invalid severity %q", i, r.Title, r.Severity)
		}
		if r.ServiceID != "" {
			if _, ok := datatypes.LookupServiceType(r.ServiceID); !ok {
				return fmt.Errorf("rule %d (%q) references unknown service %q", i, r.Title, r.ServiceID)
			}
		}
	}

	client, err := weaviateClient()
	if err != nil {
		return err
	}
	embedder, err := knowledge.NewOpenAIEmbedder()
	if err != nil {
		return err
	}
	store := knowledge.NewWeaviateRuleStore(client, embedder)

	if reset {
		slog.Warn("Resetting the compliance rule class before seeding")
		if err := store.Reset(ctx); err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}
	} else if err := datatypes.EnsureComplianceRuleSchema(ctx, client); err != nil {
		return err
	}

	var failed int
	for _, rule := range rules {
		if _, err := store.AddRule(ctx, rule); err != nil {
			slog.Error("Failed to seed rule", "title", rule.Title, "error", err)
			failed++
		}
	}

	slog.Info("Seeding complete", "total", len(rules), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d rules failed to seed", failed, len(rules))
	}
	return nil
}

func weaviateClient() (*weaviate.Client, error) {
	weaviateURL := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if weaviateURL == "" {
		return nil, fmt.Errorf("WEAVIATE_SERVICE_URL environment variable not set")
	}
	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("WEAVIATE_SERVICE_URL %q is not a valid URL", weaviateURL)
	}
	return weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
}
