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
	"time"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath       string
	backendURL       string
	personalityLevel string // UX personality level (full/standard/minimal/machine)
	logLevel         string
	modelName        string
	paperArxivID     string
	sessionID        string
	resumeLast       bool
	includePublic    bool
	allPapers        bool
	listenAddr       string
	thumbsUp         bool
	thumbsDown       bool
	suggestedAnswer  string
	processInterval  time.Duration
	processTimeout   time.Duration

	rootCmd = &cobra.Command{
		Use:   "deeprxiv",
		Short: "Chat with arXiv papers from your terminal",
		Long: `deeprxiv talks to a DeepRxiv backend: ask questions about a paper,
stream answers with their sources, and manage your chat sessions.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setupGlobals, // Defined in app.go
	}

	// --- Chat ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat about a paper",
		Args:  cobra.NoArgs,
		RunE:  runChatCommand, // Defined in cmd_chat.go
	}
	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question about a paper and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAskCommand, // Defined in cmd_chat.go
	}

	// --- Sessions ---
	sessionsCmd = &cobra.Command{
		Use:     "sessions",
		Short:   "List and manage chat sessions",
		Aliases: []string{"s"},
		Args:    cobra.NoArgs,
		RunE:    runSessionsList, // Defined in cmd_sessions.go
	}
	sessionsShowCmd = &cobra.Command{
		Use:   "show [session id]",
		Short: "Print a session's messages and sources",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionsShow,
	}
	sessionsSharedCmd = &cobra.Command{
		Use:   "shared [share token]",
		Short: "Print a session shared by link",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionsShared,
	}
	sessionsShareCmd = &cobra.Command{
		Use:   "share [session id]",
		Short: "Make a session public and print its share link",
		Args:  cobra.ExactArgs(1),
		RunE:  runSessionsShare,
	}
	sessionsHideCmd = &cobra.Command{
		Use:   "hide [session id...]",
		Short: "Hide sessions from listings on this machine",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSessionsHide,
	}
	sessionsUnhideCmd = &cobra.Command{
		Use:   "unhide [session id...]",
		Short: "Show hidden sessions again",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSessionsUnhide,
	}

	// --- Catalogue ---
	papersCmd = &cobra.Command{
		Use:   "papers",
		Short: "List papers known to the backend",
		Args:  cobra.NoArgs,
		RunE:  runPapersCommand, // Defined in cmd_catalog.go
	}
	imagesCmd = &cobra.Command{
		Use:   "images [arxiv id]",
		Short: "List images extracted from a paper",
		Args:  cobra.ExactArgs(1),
		RunE:  runImagesCommand,
	}
	processCmd = &cobra.Command{
		Use:   "process [arxiv url or id]",
		Short: "Submit a paper for processing and wait until it can be chatted about",
		Args:  cobra.ExactArgs(1),
		RunE:  runProcessCommand,
	}
	modelsCmd = &cobra.Command{
		Use:   "models",
		Short: "List the models the backend can answer with",
		Args:  cobra.NoArgs,
		RunE:  runModelsCommand,
	}
	feedbackCmd = &cobra.Command{
		Use:   "feedback [message id]",
		Short: "Rate an answer",
		Args:  cobra.ExactArgs(1),
		RunE:  runFeedbackCommand,
	}

	// --- Proxy ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the local API proxy in front of the backend",
		Args:  cobra.NoArgs,
		RunE:  runServeCommand, // Defined in cmd_serve.go
	}
)

func init() {
	rootCmd.Version = version

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default ~/.deeprxiv/deeprxiv.yaml)")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "",
		"Backend base URL, overrides backend.base_url")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full, standard, minimal, or machine")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, or error")

	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&paperArxivID, "paper", "", "arXiv id of the paper to chat about")
	chatCmd.Flags().StringVar(&sessionID, "session", "", "Reopen a session by id")
	chatCmd.Flags().BoolVar(&resumeLast, "resume", false, "Reopen the last session used on this machine")
	chatCmd.Flags().StringVarP(&modelName, "model", "m", "", "Model for this chat, overrides chat.model")

	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&paperArxivID, "paper", "", "arXiv id of the paper to ask about")
	askCmd.Flags().StringVar(&sessionID, "session", "", "Ask within an existing session")
	askCmd.Flags().StringVarP(&modelName, "model", "m", "", "Model for this question, overrides chat.model")

	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.Flags().BoolVar(&includePublic, "public", false, "Include public sessions from other users")
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsSharedCmd)
	sessionsCmd.AddCommand(sessionsShareCmd)
	sessionsCmd.AddCommand(sessionsHideCmd)
	sessionsCmd.AddCommand(sessionsUnhideCmd)

	rootCmd.AddCommand(papersCmd)
	papersCmd.Flags().BoolVar(&allPapers, "all", false, "Include papers that are still processing")
	rootCmd.AddCommand(imagesCmd)
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().DurationVar(&processInterval, "interval", 2*time.Second, "How often to poll the processing status")
	processCmd.Flags().DurationVar(&processTimeout, "timeout", 5*time.Minute, "Give up waiting after this long (0 waits forever)")
	rootCmd.AddCommand(modelsCmd)

	rootCmd.AddCommand(feedbackCmd)
	feedbackCmd.Flags().BoolVar(&thumbsUp, "up", false, "Thumbs up")
	feedbackCmd.Flags().BoolVar(&thumbsDown, "down", false, "Thumbs down")
	feedbackCmd.Flags().StringVar(&suggestedAnswer, "suggest", "", "A better answer")
	feedbackCmd.MarkFlagsMutuallyExclusive("up", "down")
	feedbackCmd.MarkFlagsOneRequired("up", "down", "suggest")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address, overrides proxy.listen_addr")
}
