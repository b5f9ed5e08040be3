// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archsentry/archsentry/services/analyzer/datatypes"
)

// fakeRuleStore is an in-memory knowledge.RuleStore.
type fakeRuleStore struct {
	rules  []datatypes.ComplianceRule
	err    error
	resets int
}

func (f *fakeRuleStore) Search(ctx context.Context, query string, threshold float64, limit int) ([]datatypes.RetrievedMatch, error) {
	return nil, nil
}

func (f *fakeRuleStore) RulesForService(ctx context.Context, serviceID string, limit int) ([]datatypes.ComplianceRule, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []datatypes.ComplianceRule
	for _, r := range f.rules {
		if r.ServiceID == serviceID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRuleStore) AddRule(ctx context.Context, rule datatypes.ComplianceRule) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	rule.ID = fmt.Sprintf("rule-%d", len(f.rules)+1)
	f.rules = append(f.rules, rule)
	return rule.ID, nil
}

func (f *fakeRuleStore) ListRules(ctx context.Context, limit int) ([]datatypes.ComplianceRule, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.rules) > limit {
		return f.rules[:limit], nil
	}
	return f.rules, nil
}

func (f *fakeRuleStore) Reset(ctx context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.resets++
	f.rules = nil
	return nil
}

func (f *fakeRuleStore) Ready(ctx context.Context) error { return f.err }

func validRuleRequest() datatypes.AddRuleRequest {
	return datatypes.AddRuleRequest{
		Title:       "Encrypt data at rest",
		Description: "Storage buckets must use server side encryption",
		ServiceID:   "aws-s3",
		Category:    "Encryption",
		Severity:    "high",
		Provider:    "AWS",
	}
}

func TestAddRule(t *testing.T) {
	t.Run("stores a valid rule", func(t *testing.T) {
		store := &fakeRuleStore{}
		router := gin.New()
		router.POST("/v1/rules", AddRule(store))

		w := postJSON(t, router, "/v1/rules", validRuleRequest())
		assert.Equal(t, http.StatusCreated, w.Code)

		var resp datatypes.AddRuleResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "rule-1", resp.ID)
		require.Len(t, store.rules, 1)
		assert.Equal(t, datatypes.SeverityHigh, store.rules[0].Severity)
	})

	t.Run("rejects an invalid severity", func(t *testing.T) {
		req := validRuleRequest()
		req.Severity = "urgent"
		router := gin.New()
		router.POST("/v1/rules", AddRule(&fakeRuleStore{}))

		w := postJSON(t, router, "/v1/rules", req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "urgent")
	})

	t.Run("rejects an unknown service id", func(t *testing.T) {
		req := validRuleRequest()
		req.ServiceID = "aws-dynamodb"
		router := gin.New()
		router.POST("/v1/rules", AddRule(&fakeRuleStore{}))

		w := postJSON(t, router, "/v1/rules", req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects a body without required fields", func(t *testing.T) {
		router := gin.New()
		router.POST("/v1/rules", AddRule(&fakeRuleStore{}))

		w := postJSON(t, router, "/v1/rules", gin.H{"title": "only a title"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("maps store failures to 502", func(t *testing.T) {
		router := gin.New()
		router.POST("/v1/rules", AddRule(&fakeRuleStore{err: errors.New("down")}))

		w := postJSON(t, router, "/v1/rules", validRuleRequest())
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestListRules(t *testing.T) {
	store := &fakeRuleStore{rules: []datatypes.ComplianceRule{
		{ID: "a", Title: "Rule A", ServiceID: "aws-s3", Severity: datatypes.SeverityLow},
		{ID: "b", Title: "Rule B", ServiceID: "aws-rds", Severity: datatypes.SeverityHigh},
	}}

	get := func(path string) *httptest.ResponseRecorder {
		router := gin.New()
		router.GET("/v1/rules", ListRules(store))
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", path, nil)
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("returns stored rules with a count", func(t *testing.T) {
		w := get("/v1/rules")
		assert.Equal(t, http.StatusOK, w.Code)

		var resp datatypes.ListRulesResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Count)
	})

	t.Run("honors the limit query parameter", func(t *testing.T) {
		w := get("/v1/rules?limit=1")
		var resp datatypes.ListRulesResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Count)
	})

	t.Run("filters by the service query parameter", func(t *testing.T) {
		w := get("/v1/rules?service=aws-rds")
		assert.Equal(t, http.StatusOK, w.Code)

		var resp datatypes.ListRulesResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, "b", resp.Rules[0].ID)
	})

	t.Run("rejects an unknown service id", func(t *testing.T) {
		w := get("/v1/rules?service=aws-dynamodb")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects a non-numeric limit", func(t *testing.T) {
		w := get("/v1/rules?limit=lots")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("an empty store returns an empty list, not null", func(t *testing.T) {
		router := gin.New()
		router.GET("/v1/rules", ListRules(&fakeRuleStore{}))
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/v1/rules", nil)
		router.ServeHTTP(w, req)

		assert.Contains(t, w.Body.String(), `"rules":[]`)
	})
}

func TestResetRules(t *testing.T) {
	t.Run("resets the store", func(t *testing.T) {
		store := &fakeRuleStore{rules: []datatypes.ComplianceRule{{ID: "a"}}}
		router := gin.New()
		router.DELETE("/v1/rules", ResetRules(store))

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("DELETE", "/v1/rules", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, store.resets)
		assert.Empty(t, store.rules)
	})

	t.Run("maps store failures to 502", func(t *testing.T) {
		router := gin.New()
		router.DELETE("/v1/rules", ResetRules(&fakeRuleStore{err: errors.New("down")}))

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("DELETE", "/v1/rules", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}
