// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/deeprxiv/deeprxiv/pkg/chat"
	"github.com/deeprxiv/deeprxiv/pkg/deeprxiv"
	"github.com/deeprxiv/deeprxiv/pkg/ux"
	"github.com/deeprxiv/deeprxiv/pkg/validation"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// catalogAPI is the read-only catalogue the CLI loads at startup.
type catalogAPI interface {
	paperCatalog
	ListModels(ctx context.Context) (map[string]deeprxiv.ModelInfo, error)
}

var _ catalogAPI = (*deeprxiv.Client)(nil)

// =============================================================================
// chat
// =============================================================================

func runChatCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app := newApp(appConfig, appLogger.Slog())
	defer app.Close()

	ctrl, err := app.newController(modelName)
	if err != nil {
		return err
	}
	level := ux.GetPersonality().Level

	startup, err := loadStartup(ctx, app.client, ctrl, app.logger)
	if err != nil {
		return err
	}
	if modelName != "" && startup.models != nil {
		if _, ok := startup.models[modelName]; !ok {
			app.logger.Warn("model not offered by the backend", "model", modelName)
		}
	}

	switch {
	case sessionID != "":
		if err := validation.ValidateSessionID(sessionID); err != nil {
			return err
		}
		if _, err := ctrl.LoadSession(ctx, sessionID); err != nil {
			return err
		}
	case resumeLast:
		if _, err := ctrl.Resume(ctx); err != nil {
			if errors.Is(err, chat.ErrNoSession) {
				return errors.New("no previous session to resume")
			}
			return err
		}
	}

	if ctrl.Paper() == nil || paperArxivID != "" {
		ref, err := choosePaper(startup.papers, paperArxivID, level)
		if err != nil {
			return err
		}
		ctrl.SelectPaper(ref)
	}

	runner := NewPaperChatRunner(PaperChatRunnerConfig{
		Controller:  ctrl,
		Input:       NewInteractiveInputReader(50),
		Output:      os.Stdout,
		Papers:      app.client,
		Personality: level,
		Model:       modelName,
	})
	if level != ux.PersonalityMachine && len(startup.sessions) > 0 {
		ux.Muted(fmt.Sprintf("%d saved session(s); /sessions to list them", len(startup.sessions)))
	}
	return runner.Run(ctx)
}

// startupData is what the chat REPL shows or validates against before the
// first prompt.
type startupData struct {
	papers   []deeprxiv.Paper
	sessions []deeprxiv.ChatSession
	models   map[string]deeprxiv.ModelInfo
}

// loadStartup fetches papers, sessions, and models concurrently. Only the
// paper list is required; the others degrade to empty with a warning.
func loadStartup(ctx context.Context, catalog catalogAPI, ctrl *chat.Controller, logger *slog.Logger) (startupData, error) {
	var data startupData
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		papers, err := catalog.ListPapers(gCtx, true)
		if err != nil {
			return fmt.Errorf("list papers: %w", err)
		}
		data.papers = papers
		return nil
	})
	g.Go(func() error {
		sessions, err := ctrl.ListSessions(gCtx, deeprxiv.ListSessionsOptions{})
		if err != nil {
			logger.Warn("failed to list sessions at startup", "error", err)
			return nil
		}
		data.sessions = sessions
		return nil
	})
	g.Go(func() error {
		models, err := catalog.ListModels(gCtx)
		if err != nil {
			logger.Warn("failed to list models at startup", "error", err)
			return nil
		}
		data.models = models
		return nil
	})

	if err := g.Wait(); err != nil {
		return startupData{}, err
	}
	return data, nil
}

// choosePaper resolves --paper against the catalogue, or asks with a picker
// on an interactive terminal. It returns nil when neither applies.
func choosePaper(papers []deeprxiv.Paper, input string, level ux.PersonalityLevel) (*deeprxiv.PaperRef, error) {
	if input != "" {
		arxivID, err := validation.SanitizeArxivID(input)
		if err != nil {
			return nil, err
		}
		if ref := findPaper(papers, arxivID); ref != nil {
			return ref, nil
		}
		return &deeprxiv.PaperRef{ArxivID: arxivID}, nil
	}
	if level == ux.PersonalityMachine || !ux.IsInteractive() || len(papers) == 0 {
		return nil, nil
	}
	return pickPaper(papers)
}

func pickPaper(papers []deeprxiv.Paper) (*deeprxiv.PaperRef, error) {
	var chosen string
	err := huh.NewSelect[string]().
		Title("Which paper do you want to chat about?").
		Options(paperOptions(papers)...).
		Height(12).
		Value(&chosen).
		Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil, errors.New("no paper chosen")
		}
		return nil, fmt.Errorf("paper picker: %w", err)
	}
	return findPaper(papers, chosen), nil
}

func paperOptions(papers []deeprxiv.Paper) []huh.Option[string] {
	options := make([]huh.Option[string], 0, len(papers))
	for _, p := range papers {
		label := p.ArxivID
		if title := strings.TrimSpace(p.Title); title != "" {
			label += "  " + truncateLabel(title, 70)
		}
		options = append(options, huh.NewOption(label, p.ArxivID))
	}
	return options
}

func truncateLabel(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// =============================================================================
// ask
// =============================================================================

func runAskCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return chat.ErrEmptyMessage
	}
	if paperArxivID == "" && sessionID == "" {
		return errors.New("ask needs --paper or --session")
	}

	app := newApp(appConfig, appLogger.Slog())
	defer app.Close()

	ctrl, err := app.newController(modelName)
	if err != nil {
		return err
	}
	if sessionID != "" {
		if err := validation.ValidateSessionID(sessionID); err != nil {
			return err
		}
		if _, err := ctrl.LoadSession(ctx, sessionID); err != nil {
			return err
		}
	}
	if paperArxivID != "" {
		ref, err := resolvePaper(ctx, app.client, paperArxivID)
		if err != nil {
			return err
		}
		ctrl.SelectPaper(ref)
	}
	return askOnce(ctx, ctrl, question, os.Stdout, ux.GetPersonality().Level)
}

// askOnce sends one question and renders the streamed answer. A failed
// stream has already been rendered; it is returned so the exit code is
// non-zero.
func askOnce(ctx context.Context, ctrl *chat.Controller, question string, out io.Writer, level ux.PersonalityLevel) error {
	renderer := ux.NewTerminalStreamRenderer(out, level)
	_, err := ctrl.SendMessage(ctx, question, chat.WithObserver(renderer))
	switch {
	case err == nil:
	case errors.Is(err, deeprxiv.ErrMissingPaper), errors.Is(err, chat.ErrEmptyMessage):
		return err
	default:
		return reported(err)
	}
	if s := ctrl.Session(); s != nil && level != ux.PersonalityMachine {
		fmt.Fprintln(out, ux.Styles.Muted.Render("session "+s.SessionID))
	}
	return nil
}
