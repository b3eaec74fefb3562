// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sources deduplicates and groups the retrieval sources attached to
// assistant responses.
//
// The backend may return overlapping hits for one answer, for example a
// section and a subsection chunk covering the same text. Deduplicate
// collapses those so no two displayed cards share a key, and Group splits
// the result into the sidebar's "Raw Content" and "Sections" lists.
//
// Both functions are pure and safe for concurrent use.
package sources

import (
	"strconv"

	"github.com/deeprxiv/deeprxiv/pkg/deeprxiv"
)

// noPage stands in for a missing page number in fallback keys.
const noPage = "no-page"

// Key returns the composite identity of a source for deduplication.
//
//   - content    → "content-{estimated_page}-{chunk_index}"
//   - section    → "section-{section_id, or title if empty}"
//   - subsection → "subsection-{title}"
//   - other      → "{type}-{title}-{page_number, or "no-page"}"
//
// Absent fields render as empty strings.
func Key(src deeprxiv.Source) string {
	switch src.Type {
	case deeprxiv.SourceTypeContent:
		chunk := ""
		if src.ChunkIndex != nil {
			chunk = strconv.Itoa(*src.ChunkIndex)
		}
		return "content-" + src.EstimatedPage.String() + "-" + chunk
	case deeprxiv.SourceTypeSection:
		id := src.SectionID
		if id == "" {
			id = src.Title
		}
		return "section-" + id
	case deeprxiv.SourceTypeSubsection:
		return "subsection-" + src.Title
	default:
		page := src.PageNumber.String()
		if page == "" {
			page = noPage
		}
		return src.Type + "-" + src.Title + "-" + page
	}
}

// Deduplicate removes duplicate sources, keeping first-seen order.
//
// Two passes:
//  1. Drop any source whose Key was already seen.
//  2. Drop any subsection whose title matches a section still present.
//
// Two sections sharing a title but carrying different section ids are both
// kept. The result never aliases the input's backing array. Empty or nil
// input yields an empty, non-nil slice.
//
// Deduplicate is idempotent: Deduplicate(Deduplicate(s)) equals
// Deduplicate(s).
func Deduplicate(in []deeprxiv.Source) []deeprxiv.Source {
	seen := make(map[string]struct{}, len(in))
	unique := make([]deeprxiv.Source, 0, len(in))
	sectionTitles := make(map[string]struct{})

	for _, src := range in {
		key := Key(src)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, src)
		if src.Type == deeprxiv.SourceTypeSection {
			sectionTitles[src.Title] = struct{}{}
		}
	}

	out := unique[:0]
	for _, src := range unique {
		if src.Type == deeprxiv.SourceTypeSubsection {
			if _, shadowed := sectionTitles[src.Title]; shadowed {
				continue
			}
		}
		out = append(out, src)
	}
	return out
}

// =============================================================================
// Grouping
// =============================================================================

// Groups is the sidebar view of a deduplicated source list.
type Groups struct {
	// RawContent holds sources of type "content".
	RawContent []deeprxiv.Source

	// Sections holds sources of type "section" and "subsection".
	Sections []deeprxiv.Source

	// Other holds sources of any other type. The sidebar lists them last.
	Other []deeprxiv.Source
}

// Len returns the number of cards the groups display.
func (g Groups) Len() int {
	return len(g.RawContent) + len(g.Sections) + len(g.Other)
}

// Empty reports whether there is nothing to display.
func (g Groups) Empty() bool {
	return g.Len() == 0
}

// Group deduplicates in and splits it by display category, preserving
// first-seen order within each group.
func Group(in []deeprxiv.Source) Groups {
	var g Groups
	for _, src := range Deduplicate(in) {
		switch src.Type {
		case deeprxiv.SourceTypeContent:
			g.RawContent = append(g.RawContent, src)
		case deeprxiv.SourceTypeSection, deeprxiv.SourceTypeSubsection:
			g.Sections = append(g.Sections, src)
		default:
			g.Other = append(g.Other, src)
		}
	}
	return g
}
