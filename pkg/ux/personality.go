// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// PersonalityEnv overrides the configured personality level.
const PersonalityEnv = "DEEPRXIV_PERSONALITY"

// PersonalityLevel controls how much styling the CLI emits.
type PersonalityLevel string

const (
	// PersonalityFull renders boxes, colors, spinner, and the source sidebar.
	PersonalityFull PersonalityLevel = "full"

	// PersonalityStandard is Full without tips.
	PersonalityStandard PersonalityLevel = "standard"

	// PersonalityMinimal prints plain text with icons only.
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine prints KEY: value lines for scripts.
	PersonalityMachine PersonalityLevel = "machine"
)

// Personality is the process-wide output configuration.
type Personality struct {
	Level    PersonalityLevel
	ShowTips bool

	// ShowChainOfThought prints reasoning-model thoughts inline.
	ShowChainOfThought bool
}

var (
	currentPersonality = DefaultPersonality()
	personalityMu      sync.RWMutex
)

// GetPersonality returns the current personality.
func GetPersonality() Personality {
	personalityMu.RLock()
	defer personalityMu.RUnlock()
	return currentPersonality
}

// SetPersonality replaces the current personality.
func SetPersonality(p Personality) {
	personalityMu.Lock()
	defer personalityMu.Unlock()
	currentPersonality = p
}

// SetPersonalityLevel changes only the level.
func SetPersonalityLevel(level PersonalityLevel) {
	personalityMu.Lock()
	defer personalityMu.Unlock()
	currentPersonality.Level = level
}

// ParsePersonalityLevel maps names and short aliases to a level. Unknown
// values fall back to PersonalityStandard.
func ParsePersonalityLevel(s string) PersonalityLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full", "f":
		return PersonalityFull
	case "standard", "std", "s":
		return PersonalityStandard
	case "minimal", "min", "m":
		return PersonalityMinimal
	case "machine", "quiet", "q":
		return PersonalityMachine
	default:
		return PersonalityStandard
	}
}

// InitPersonality picks the level at startup.
//
// Precedence: DEEPRXIV_PERSONALITY, then the configured level, then machine
// mode when stdout is not a terminal, then full.
func InitPersonality(configured string) {
	if envLevel := os.Getenv(PersonalityEnv); envLevel != "" {
		SetPersonalityLevel(ParsePersonalityLevel(envLevel))
		return
	}
	if configured != "" {
		SetPersonalityLevel(ParsePersonalityLevel(configured))
		return
	}
	if !isTerminal() {
		SetPersonalityLevel(PersonalityMachine)
		return
	}
	SetPersonalityLevel(PersonalityFull)
}

func isTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// IsInteractive reports whether prompts and pickers may be shown.
func IsInteractive() bool {
	return GetPersonality().Level != PersonalityMachine && isTerminal()
}

// DefaultPersonality returns the built-in defaults.
func DefaultPersonality() Personality {
	return Personality{
		Level:              PersonalityFull,
		ShowTips:           true,
		ShowChainOfThought: true,
	}
}
