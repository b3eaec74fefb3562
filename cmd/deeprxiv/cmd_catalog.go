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
	"os"
	"strconv"
	"time"

	"github.com/deeprxiv/deeprxiv/pkg/deeprxiv"
	"github.com/deeprxiv/deeprxiv/pkg/ux"
	"github.com/deeprxiv/deeprxiv/pkg/validation"
	"github.com/spf13/cobra"
)

func runPapersCommand(cmd *cobra.Command, args []string) error {
	app := newApp(appConfig, appLogger.Slog())
	defer app.Close()

	var papers []deeprxiv.Paper
	err := withProgress("Loading papers...", func() error {
		var err error
		papers, err = app.client.ListPapers(cmd.Context(), !allPapers)
		return err
	})
	if err != nil {
		return err
	}
	if len(papers) == 0 {
		ux.Warning("The backend has no papers yet")
		return nil
	}
	fmt.Print(ux.RenderPaperList(papers, ux.GetPersonality().Level))
	return nil
}

func runImagesCommand(cmd *cobra.Command, args []string) error {
	arxivID, err := validation.SanitizeArxivID(args[0])
	if err != nil {
		return err
	}
	app := newApp(appConfig, appLogger.Slog())
	defer app.Close()

	images, err := app.client.ListImages(cmd.Context(), arxivID)
	if err != nil {
		return err
	}
	printImages(os.Stdout, images, ux.GetPersonality().Level)
	return nil
}

func printImages(w io.Writer, images []deeprxiv.PaperImage, level ux.PersonalityLevel) {
	if len(images) == 0 && level != ux.PersonalityMachine {
		fmt.Fprintln(w, "No images extracted for this paper.")
		return
	}
	for _, img := range images {
		if level == ux.PersonalityMachine {
			fmt.Fprintf(w, "IMAGE: %s\t%d\t%s\n", img.ID, img.Page, img.URL)
			continue
		}
		fmt.Fprintf(w, "%s %s %s\n", ux.Styles.Muted.Render(fmt.Sprintf("p.%-3d", img.Page)), img.ID, img.URL)
	}
}

// paperStatusSource is the slice of the client waitProcessed polls.
type paperStatusSource interface {
	PaperStatus(ctx context.Context, arxivID string) (*deeprxiv.ProcessingStatus, error)
}

func runProcessCommand(cmd *cobra.Command, args []string) error {
	arxivID, err := validation.SanitizeArxivID(args[0])
	if err != nil {
		return err
	}
	if processInterval <= 0 {
		return fmt.Errorf("--interval must be positive, got %s", processInterval)
	}
	app := newApp(appConfig, appLogger.Slog())
	defer app.Close()

	ctx := cmd.Context()
	if processTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, processTimeout)
		defer cancel()
	}

	var paper *deeprxiv.Paper
	err = withProgress("Processing "+arxivID+"...", func() error {
		var err error
		paper, err = app.client.ProcessPaper(ctx, "https://arxiv.org/abs/"+arxivID)
		if err != nil {
			return err
		}
		if paper.Processed {
			return nil
		}
		if err := waitProcessed(ctx, app.client, arxivID, processInterval); err != nil {
			return err
		}
		paper.Processed = true
		return nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("paper %s is still processing after %s; check later with 'deeprxiv papers --all'", arxivID, processTimeout)
	}
	if err != nil {
		return err
	}
	printProcessed(os.Stdout, paper, ux.GetPersonality().Level)
	return nil
}

// waitProcessed polls the backend until arxivID reports processed or ctx
// ends. Status errors end the wait.
func waitProcessed(ctx context.Context, src paperStatusSource, arxivID string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		status, err := src.PaperStatus(ctx, arxivID)
		if err != nil {
			return err
		}
		if status.Processed {
			appLogger.Debug("paper processed", "arxiv_id", arxivID)
			return nil
		}
	}
}

func printProcessed(w io.Writer, paper *deeprxiv.Paper, level ux.PersonalityLevel) {
	if level == ux.PersonalityMachine {
		fmt.Fprintf(w, "PAPER: %s\t%s\t%t\n", paper.ArxivID, paper.Title, paper.Processed)
		return
	}
	title := paper.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(w, "%s %s\n", ux.Styles.Success.Render("Ready:"), title)
	if paper.Authors != "" {
		fmt.Fprintln(w, ux.Styles.Muted.Render(paper.Authors))
	}
	fmt.Fprintf(w, "Chat about it with: deeprxiv chat --paper %s\n", paper.ArxivID)
}

func runModelsCommand(cmd *cobra.Command, args []string) error {
	app := newApp(appConfig, appLogger.Slog())
	defer app.Close()

	models, err := app.client.ListModels(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Print(ux.RenderModelList(models, ux.GetPersonality().Level))
	return nil
}

func runFeedbackCommand(cmd *cobra.Command, args []string) error {
	messageID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || messageID <= 0 {
		return fmt.Errorf("message id must be a positive integer, got %q", args[0])
	}

	app := newApp(appConfig, appLogger.Slog())
	defer app.Close()

	ctrl, err := app.newController("")
	if err != nil {
		return err
	}
	up, down := feedbackFlags(thumbsUp, thumbsDown)
	if err := ctrl.Feedback(cmd.Context(), messageID, up, down, suggestedAnswer); err != nil {
		return err
	}
	ux.Success("Thanks for the feedback")
	return nil
}

// feedbackFlags maps --up/--down to the request's pair of pointers. Neither
// flag leaves both nil so only the suggestion is sent.
func feedbackFlags(up, down bool) (*bool, *bool) {
	if !up && !down {
		return nil, nil
	}
	return &up, &down
}

// withProgress runs fn behind a spinner on interactive terminals.
func withProgress(message string, fn func() error) error {
	if ux.GetPersonality().Level == ux.PersonalityMachine || !ux.IsInteractive() {
		return fn()
	}
	return ux.WithSpinner(message, fn)
}
