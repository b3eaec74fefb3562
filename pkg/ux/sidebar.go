// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/deeprxiv/deeprxiv/pkg/deeprxiv"
	"github.com/deeprxiv/deeprxiv/pkg/sources"
)

const (
	sidebarWidth     = 72
	sourceTextMaxLen = 160
)

// =============================================================================
// Source Sidebar
// =============================================================================

// RenderSidebar renders deduplicated sources, citations, and images for one
// assistant message.
//
// Full and standard modes draw one box per source group ("Raw Content",
// "Sections") followed by citations and images. Minimal mode prints plain
// bulleted lists. Machine mode prints one "SOURCE:", "CITATION:", or
// "IMAGE:" line per item.
//
// Returns "" when there is nothing to show.
func RenderSidebar(groups sources.Groups, citations []string, images []deeprxiv.ImageRef, personality PersonalityLevel) string {
	if groups.Empty() && len(citations) == 0 && len(images) == 0 {
		return ""
	}

	if personality == PersonalityMachine {
		return renderSidebarMachine(groups, citations, images)
	}

	var b strings.Builder
	boxed := personality != PersonalityMinimal

	writeGroup := func(title string, items []deeprxiv.Source) {
		if len(items) == 0 {
			return
		}
		heading := fmt.Sprintf("%s (%d)", title, len(items))
		lines := make([]string, 0, len(items))
		for _, src := range items {
			lines = append(lines, renderSourceCard(src, boxed))
		}
		if boxed {
			body := Styles.Title.Render(heading) + "\n" + strings.Join(lines, "\n")
			b.WriteString(Styles.Box.Width(sidebarWidth).Render(body))
			b.WriteString("\n")
			return
		}
		b.WriteString(heading + ":\n")
		for _, line := range lines {
			b.WriteString("  " + string(IconBullet) + " " + line + "\n")
		}
	}

	writeGroup("Raw Content", groups.RawContent)
	writeGroup("Sections", groups.Sections)
	writeGroup("Other", groups.Other)

	if len(citations) > 0 {
		b.WriteString(renderHeading("Citations", len(citations), boxed))
		for i, c := range citations {
			link := c
			if boxed {
				link = Styles.Link.Render(c)
			}
			fmt.Fprintf(&b, "  [%d] %s\n", i+1, link)
		}
	}

	if len(images) > 0 {
		b.WriteString(renderHeading("Images", len(images), boxed))
		for _, img := range images {
			label := img.URL
			if img.Title != "" {
				label = img.Title + " " + string(IconArrow) + " " + img.URL
			}
			fmt.Fprintf(&b, "  %s %s\n", IconBullet, label)
		}
	}

	return b.String()
}

func renderHeading(title string, n int, styled bool) string {
	heading := fmt.Sprintf("%s (%d)", title, n)
	if styled {
		return Styles.Subtitle.Render(heading) + "\n"
	}
	return heading + ":\n"
}

// renderSourceCard formats one source as "title · page N" with an optional
// text excerpt.
func renderSourceCard(src deeprxiv.Source, styled bool) string {
	title := src.Title
	if title == "" {
		title = "Untitled"
	}
	location := sourceLocation(src)

	if !styled {
		if location != "" {
			return title + " (" + location + ")"
		}
		return title
	}

	head := Styles.Bold.Render(title)
	if location != "" {
		head += " " + Styles.Muted.Render("· "+location)
	}
	if src.Text == "" {
		return Styles.Card.Render(head)
	}
	excerpt := Styles.Muted.Render(truncateRunes(strings.TrimSpace(src.Text), sourceTextMaxLen))
	return Styles.Card.Render(lipgloss.JoinVertical(lipgloss.Left, head, excerpt))
}

func sourceLocation(src deeprxiv.Source) string {
	page := src.EstimatedPage.String()
	if page == "" {
		page = src.PageNumber.String()
	}
	if page == "" {
		return ""
	}
	return "page " + page
}

func renderSidebarMachine(groups sources.Groups, citations []string, images []deeprxiv.ImageRef) string {
	var b strings.Builder
	for _, group := range [][]deeprxiv.Source{groups.RawContent, groups.Sections, groups.Other} {
		for _, src := range group {
			fmt.Fprintf(&b, "SOURCE: %s\t%s\t%s\n", src.Type, src.Title, sourceLocation(src))
		}
	}
	for _, c := range citations {
		fmt.Fprintf(&b, "CITATION: %s\n", c)
	}
	for _, img := range images {
		fmt.Fprintf(&b, "IMAGE: %s\n", img.URL)
	}
	return b.String()
}

// =============================================================================
// List Renderers
// =============================================================================

// RenderSessionList renders the session index, newest first as given.
func RenderSessionList(sessions []deeprxiv.ChatSession, personality PersonalityLevel) string {
	var b strings.Builder
	if len(sessions) == 0 {
		if personality != PersonalityMachine {
			b.WriteString("No chat sessions yet.\n")
		}
		return b.String()
	}
	for _, s := range sessions {
		paper := s.PaperTitle
		if paper == "" {
			paper = s.ArxivID
		}
		switch personality {
		case PersonalityMachine:
			fmt.Fprintf(&b, "SESSION: %s\t%s\t%s\t%d\n", s.SessionID, s.Title, paper, s.MessageCount)
		case PersonalityMinimal:
			fmt.Fprintf(&b, "%s  %s  (%d messages)\n", s.SessionID, s.Title, s.MessageCount)
		default:
			line := Styles.Bold.Render(s.Title) + " " + Styles.Muted.Render(s.SessionID)
			if paper != "" {
				line += "\n  " + IconPaper.Render() + " " + paper
			}
			if s.IsPublic {
				line += " " + Styles.Subtitle.Render("(shared)")
			}
			b.WriteString(Styles.Card.Render(line) + "\n")
		}
	}
	return b.String()
}

// RenderPaperList renders papers as "arxiv_id  title".
func RenderPaperList(papers []deeprxiv.Paper, personality PersonalityLevel) string {
	var b strings.Builder
	for _, p := range papers {
		switch personality {
		case PersonalityMachine:
			fmt.Fprintf(&b, "PAPER: %d\t%s\t%s\n", p.ID, p.ArxivID, p.Title)
		case PersonalityMinimal:
			fmt.Fprintf(&b, "%-12s %s\n", p.ArxivID, p.Title)
		default:
			fmt.Fprintf(&b, "%s %s %s\n", IconPaper.Render(), Styles.Highlight.Render(p.ArxivID), p.Title)
		}
	}
	return b.String()
}

// RenderModelList renders the backend's model catalogue sorted by name.
func RenderModelList(models map[string]deeprxiv.ModelInfo, personality PersonalityLevel) string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		m := models[name]
		reasoning := ""
		if deeprxiv.IsReasoningModel(name) {
			reasoning = " [reasoning]"
		}
		switch personality {
		case PersonalityMachine:
			fmt.Fprintf(&b, "MODEL: %s\t%s\n", name, m.Type)
		case PersonalityMinimal:
			fmt.Fprintf(&b, "%s%s - %s\n", name, reasoning, m.Description)
		default:
			fmt.Fprintf(&b, "%s%s\n  %s\n", Styles.Bold.Render(name), Styles.Subtitle.Render(reasoning), Styles.Muted.Render(m.Description))
		}
	}
	return b.String()
}

// RenderHistoryMessage renders a stored message when a session is reopened.
func RenderHistoryMessage(msg deeprxiv.ChatMessage, personality PersonalityLevel) string {
	switch personality {
	case PersonalityMachine:
		return fmt.Sprintf("%s: %s\n", strings.ToUpper(string(msg.Role)), msg.Content)
	case PersonalityMinimal:
		return fmt.Sprintf("%s> %s\n", msg.Role, msg.Content)
	}
	label := Styles.Highlight.Render("You")
	if msg.Role == deeprxiv.RoleAssistant {
		label = Styles.Subtitle.Render("DeepRxiv")
	}
	return label + "\n" + msg.Content + "\n"
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
