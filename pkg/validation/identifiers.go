// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks identifiers typed by users before they are used
// in backend URL paths.
//
// The client path-escapes every segment, so these checks are about giving a
// clear error early rather than sending a request the backend will reject.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// arxivNewPattern matches post-2007 ids: 1706.03762, 2401.00001v2.
	arxivNewPattern = regexp.MustCompile(`^[0-9]{4}\.[0-9]{4,5}(v[0-9]+)?$`)

	// arxivOldPattern matches archive ids: hep-th/9901001, math.GT/0309136v1.
	arxivOldPattern = regexp.MustCompile(`^[a-z][a-z\-]*(\.[A-Z]{2})?/[0-9]{7}(v[0-9]+)?$`)

	// sessionIDPattern matches backend session ids and share tokens.
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,127}$`)
)

// arxivPrefixes are stripped by SanitizeArxivID, longest first.
var arxivPrefixes = []string{
	"https://arxiv.org/abs/",
	"https://arxiv.org/pdf/",
	"http://arxiv.org/abs/",
	"http://arxiv.org/pdf/",
	"arxiv.org/abs/",
	"arxiv.org/pdf/",
	"arxiv:",
}

// ValidateArxivID reports whether id is a bare arXiv identifier in either
// the current (YYMM.NNNNN) or the archive (subject/YYMMNNN) scheme, with an
// optional version suffix.
//
// Example:
//
//	if err := validation.ValidateArxivID(id); err != nil {
//	    return fmt.Errorf("invalid --paper: %w", err)
//	}
func ValidateArxivID(id string) error {
	if id == "" {
		return fmt.Errorf("arXiv id cannot be empty")
	}
	if !arxivNewPattern.MatchString(id) && !arxivOldPattern.MatchString(id) {
		return fmt.Errorf("invalid arXiv id: %q (expected e.g. 1706.03762 or hep-th/9901001)", id)
	}
	return nil
}

// SanitizeArxivID accepts the forms people paste (an abs or pdf URL, an
// "arXiv:" prefix, a trailing ".pdf") and returns the bare validated id.
func SanitizeArxivID(input string) (string, error) {
	id := strings.TrimSpace(input)
	lower := strings.ToLower(id)
	for _, prefix := range arxivPrefixes {
		if strings.HasPrefix(lower, prefix) {
			id = id[len(prefix):]
			break
		}
	}
	id = strings.TrimSuffix(id, ".pdf")
	id = strings.TrimRight(id, "/")
	if err := ValidateArxivID(id); err != nil {
		return "", err
	}
	return id, nil
}

// ValidateSessionID checks a chat session id or share token: 1-128
// characters of letters, digits, underscores, or hyphens.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("invalid session id: %q", id)
	}
	return nil
}

// ValidateSessionIDs validates several ids and names every invalid one.
func ValidateSessionIDs(ids []string) error {
	var invalid []string
	for _, id := range ids {
		if err := ValidateSessionID(id); err != nil {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid session ids: %q", invalid)
	}
	return nil
}
