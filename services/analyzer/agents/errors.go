// Copyright (C) 2025 ArchSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agents implements the two reasoning stages: risk analysis of
// a parsed diagram against retrieved compliance rules, and generation
// of a corrected diagram that addresses the identified risks.
package agents

import "fmt"

// SchemaViolation reports that the reasoning backend produced output
// that failed validation even after a corrective retry. It is a
// terminal stage error, not a transport failure.
type SchemaViolation struct {
	Agent  string
	Reason string
}

func (e *SchemaViolation) Error() string {
	return fmt.Sprintf("%s returned invalid output: %s", e.Agent, e.Reason)
}
