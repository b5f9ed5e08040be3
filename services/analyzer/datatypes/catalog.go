// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the shared value types of the analyzer service:
// the cloud service catalog, diagram risks, API contracts, and the
// Weaviate schema for compliance rules.
package datatypes

import (
	"fmt"
	"sort"
	"strings"
)

// Provider tags a catalog entry with the cloud it belongs to.
type Provider string

const (
	ProviderAWS     Provider = "AWS"
	ProviderAzure   Provider = "Azure"
	ProviderGCP     Provider = "GCP"
	ProviderGeneric Provider = "Generic"
)

// ServiceType is one entry of the fixed service catalog. The catalog is
// a closed set: the diagram codec rejects any identifier that does not
// resolve here.
type ServiceType struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Provider Provider `json:"provider"`
}

// catalog is the immutable reference data loaded at startup. IDs follow
// the <provider>-<service> convention used in diagram text.
var catalog = []ServiceType{
	{ID: "aws-ec2", Name: "EC2", Category: "Compute", Provider: ProviderAWS},
	{ID: "aws-lambda", Name: "Lambda", Category: "Compute", Provider: ProviderAWS},
	{ID: "aws-s3", Name: "S3", Category: "Storage", Provider: ProviderAWS},
	{ID: "aws-rds", Name: "RDS", Category: "Database", Provider: ProviderAWS},
	{ID: "aws-cloudfront", Name: "CloudFront", Category: "CDN", Provider: ProviderAWS},
	{ID: "aws-sqs", Name: "SQS", Category: "Messaging", Provider: ProviderAWS},

	{ID: "azure-vm", Name: "Virtual Machine", Category: "Compute", Provider: ProviderAzure},
	{ID: "azure-functions", Name: "Functions", Category: "Compute", Provider: ProviderAzure},
	{ID: "azure-storage", Name: "Storage", Category: "Storage", Provider: ProviderAzure},
	{ID: "azure-sql", Name: "SQL Database", Category: "Database", Provider: ProviderAzure},
	{ID: "azure-cdn", Name: "CDN", Category: "CDN", Provider: ProviderAzure},
	{ID: "azure-service-bus", Name: "Service Bus", Category: "Messaging", Provider: ProviderAzure},

	{ID: "gcp-compute", Name: "Compute Engine", Category: "Compute", Provider: ProviderGCP},
	{ID: "gcp-cloud-functions", Name: "Cloud Functions", Category: "Compute", Provider: ProviderGCP},
	{ID: "gcp-storage", Name: "Cloud Storage", Category: "Storage", Provider: ProviderGCP},
	{ID: "gcp-sql", Name: "Cloud SQL", Category: "Database", Provider: ProviderGCP},
	{ID: "gcp-cdn", Name: "Cloud CDN", Category: "CDN", Provider: ProviderGCP},
	{ID: "gcp-pubsub", Name: "Pub/Sub", Category: "Messaging", Provider: ProviderGCP},

	// Provider-neutral security services the verification stage may add
	// as remediation nodes.
	{ID: "generic-waf", Name: "Web Application Firewall", Category: "Security", Provider: ProviderGeneric},
	{ID: "generic-bastion", Name: "Bastion Host", Category: "Security", Provider: ProviderGeneric},
	{ID: "generic-vpn-gateway", Name: "VPN Gateway", Category: "Security", Provider: ProviderGeneric},
	{ID: "generic-monitoring", Name: "Monitoring", Category: "Security", Provider: ProviderGeneric},
}

var catalogByID = func() map[string]ServiceType {
	m := make(map[string]ServiceType, len(catalog))
	for _, st := range catalog {
		m[st.ID] = st
	}
	return m
}()

// LookupServiceType resolves a diagram token against the catalog.
func LookupServiceType(id string) (ServiceType, bool) {
	st, ok := catalogByID[id]
	return st, ok
}

// Catalog returns a copy of the full service catalog, ordered as declared.
func Catalog() []ServiceType {
	out := make([]ServiceType, len(catalog))
	copy(out, catalog)
	return out
}

// CatalogContext renders the catalog grouped by provider for inclusion
// in reasoning prompts.
func CatalogContext() string {
	byProvider := make(map[Provider][]ServiceType)
	for _, st := range catalog {
		byProvider[st.Provider] = append(byProvider[st.Provider], st)
	}

	providers := make([]string, 0, len(byProvider))
	for p := range byProvider {
		providers = append(providers, string(p))
	}
	sort.Strings(providers)

	var b strings.Builder
	b.WriteString("SUPPORTED CLOUD SERVICES:\n\n")
	for _, p := range providers {
		fmt.Fprintf(&b, "%s Services:\n", p)
		for _, st := range byProvider[Provider(p)] {
			fmt.Fprintf(&b, "- %s (%s): %s\n", st.Name, st.ID, st.Category)
		}
		b.WriteString("\n")
	}
	return b.String()
}
