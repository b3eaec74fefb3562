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
	"fmt"
	"io"
	"os"

	"github.com/deeprxiv/deeprxiv/pkg/chat"
	"github.com/deeprxiv/deeprxiv/pkg/deeprxiv"
	"github.com/deeprxiv/deeprxiv/pkg/ux"
	"github.com/deeprxiv/deeprxiv/pkg/validation"
	"github.com/spf13/cobra"
)

func runSessionsList(cmd *cobra.Command, args []string) error {
	app := newApp(appConfig, appLogger.Slog())
	defer app.Close()

	ctrl, err := app.newController("")
	if err != nil {
		return err
	}
	sessions, err := ctrl.ListSessions(cmd.Context(), deeprxiv.ListSessionsOptions{
		UserID:        app.cfg.Chat.UserID,
		IncludePublic: includePublic,
	})
	if err != nil {
		return err
	}
	fmt.Print(ux.RenderSessionList(sessions, ux.GetPersonality().Level))
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	if err := validation.ValidateSessionID(args[0]); err != nil {
		return err
	}
	app := newApp(appConfig, appLogger.Slog())
	defer app.Close()

	ctrl, err := app.newController("")
	if err != nil {
		return err
	}
	session, err := ctrl.LoadSession(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printTranscript(os.Stdout, session, ctrl.Messages(), ux.GetPersonality().Level)

	var (
		citations []string
		images    []deeprxiv.ImageRef
	)
	if last, ok := lastAssistant(ctrl.Messages()); ok {
		citations, images = last.Citations, last.Images
	}
	fmt.Print(ux.RenderSidebar(ctrl.Groups(), citations, images, ux.GetPersonality().Level))
	return nil
}

func runSessionsShared(cmd *cobra.Command, args []string) error {
	if err := validation.ValidateSessionID(args[0]); err != nil {
		return fmt.Errorf("share link: %w", err)
	}
	app := newApp(appConfig, appLogger.Slog())
	defer app.Close()

	session, err := app.client.GetSharedSession(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printTranscript(os.Stdout, session, session.Messages, ux.GetPersonality().Level)
	return nil
}

func runSessionsShare(cmd *cobra.Command, args []string) error {
	if err := validation.ValidateSessionID(args[0]); err != nil {
		return err
	}
	app := newApp(appConfig, appLogger.Slog())
	defer app.Close()

	shareURL, err := app.client.ShareSession(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	ux.Success("Share link: " + shareURL)
	return nil
}

func runSessionsHide(cmd *cobra.Command, args []string) error {
	if err := validation.ValidateSessionIDs(args); err != nil {
		return err
	}
	app := newApp(appConfig, appLogger.Slog())
	defer app.Close()

	ctrl, err := app.newController("")
	if err != nil {
		return err
	}
	for _, id := range args {
		if err := ctrl.HideSession(cmd.Context(), id); err != nil {
			return err
		}
		ux.Success("Hidden " + id)
	}
	return nil
}

func runSessionsUnhide(cmd *cobra.Command, args []string) error {
	if err := validation.ValidateSessionIDs(args); err != nil {
		return err
	}
	app := newApp(appConfig, appLogger.Slog())
	defer app.Close()

	for _, id := range args {
		if err := app.store.UnhideSession(cmd.Context(), id); err != nil {
			return fmt.Errorf("unhide session %s: %w", id, err)
		}
		ux.Success("Unhidden " + id)
	}
	return nil
}

// printTranscript writes a session heading followed by its messages.
func printTranscript(w io.Writer, session *deeprxiv.ChatSession, messages []deeprxiv.ChatMessage, level ux.PersonalityLevel) {
	if level == ux.PersonalityMachine {
		fmt.Fprintf(w, "SESSION: %s\t%s\n", session.SessionID, session.Title)
	} else {
		title := session.Title
		if title == "" {
			title = chat.DefaultTitle
		}
		fmt.Fprintln(w, ux.Styles.Title.Render(title))
		if ref := session.Paper(); ref != nil {
			fmt.Fprintln(w, ux.Styles.Muted.Render(paperLabel(ref)))
		}
		fmt.Fprintln(w)
	}
	for _, msg := range messages {
		fmt.Fprint(w, ux.RenderHistoryMessage(msg, level))
	}
}

func lastAssistant(messages []deeprxiv.ChatMessage) (deeprxiv.ChatMessage, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == deeprxiv.RoleAssistant {
			return messages[i], true
		}
	}
	return deeprxiv.ChatMessage{}, false
}
