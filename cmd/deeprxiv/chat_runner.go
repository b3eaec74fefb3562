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
	"time"

	"github.com/deeprxiv/deeprxiv/pkg/chat"
	"github.com/deeprxiv/deeprxiv/pkg/deeprxiv"
	"github.com/deeprxiv/deeprxiv/pkg/ux"
	"github.com/deeprxiv/deeprxiv/pkg/validation"
)

// =============================================================================
// ChatRunner Interface
// =============================================================================

// ChatRunner runs an interactive chat until input ends, the user exits, or
// ctx is cancelled.
type ChatRunner interface {
	Run(ctx context.Context) error
}

// paperCatalog resolves arXiv ids for /paper.
type paperCatalog interface {
	ListPapers(ctx context.Context, processedOnly bool) ([]deeprxiv.Paper, error)
}

var (
	_ ChatRunner   = (*PaperChatRunner)(nil)
	_ paperCatalog = (*deeprxiv.Client)(nil)
)

const replHelp = `Commands:
  /new              start a new chat about the current paper
  /paper [arxiv]    show or select the paper; /new chats about it
  /sessions         list your chats
  /load <id>        open a chat by session id
  /hide <id>        hide a chat from /sessions
  /share            make this chat public and print its link
  /sources          show the sources of the last answer
  /model [name]     show or set the model for new messages
  /help             show this help
  exit, quit        leave`

// =============================================================================
// PaperChatRunner
// =============================================================================

// PaperChatRunnerConfig groups the runner's dependencies. Controller and
// Input are required.
type PaperChatRunnerConfig struct {
	Controller  *chat.Controller
	Input       InputReader
	Output      io.Writer
	Papers      paperCatalog
	Personality ux.PersonalityLevel
	Model       string
}

// PaperChatRunner is the REPL behind `deeprxiv chat`. Plain lines are sent
// as questions and streamed through a terminal renderer; lines starting with
// "/" are commands.
type PaperChatRunner struct {
	ctrl    *chat.Controller
	input   InputReader
	out     io.Writer
	papers  paperCatalog
	level   ux.PersonalityLevel
	model   string
	turns   int
	started time.Time
}

// NewPaperChatRunner creates a runner. A nil Output writes to stdout.
func NewPaperChatRunner(cfg PaperChatRunnerConfig) *PaperChatRunner {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	return &PaperChatRunner{
		ctrl:   cfg.Controller,
		input:  cfg.Input,
		out:    out,
		papers: cfg.Papers,
		level:  cfg.Personality,
		model:  cfg.Model,
	}
}

// Run prints the header and loops over input lines. Errors from a single
// message or command are printed and the loop continues.
func (r *PaperChatRunner) Run(ctx context.Context) error {
	r.started = time.Now()
	r.printHeader()

	for {
		select {
		case <-ctx.Done():
			r.printSessionEnd()
			return nil
		default:
		}

		if p, ok := r.input.(PromptingInputReader); ok {
			p.SetPrompt(r.prompt())
		} else if r.level != ux.PersonalityMachine {
			fmt.Fprint(r.out, r.prompt())
		}
		input, err := r.input.ReadLine()
		if err != nil {
			if err == io.EOF {
				r.printSessionEnd()
				return nil
			}
			slog.Error("failed to read input", "error", err)
			return fmt.Errorf("read input: %w", err)
		}
		if input == "" {
			continue
		}

		// bubbletea clears its line on exit
		if _, ok := r.input.(*InteractiveInputReader); ok {
			fmt.Fprintf(r.out, "%s%s\n", r.prompt(), input)
		}

		if isExitCommand(input) {
			r.printSessionEnd()
			return nil
		}

		if strings.HasPrefix(input, "/") {
			err = r.handleCommand(ctx, input)
		} else {
			err = r.handleMessage(ctx, input)
		}
		if err != nil {
			if ctx.Err() != nil {
				r.printSessionEnd()
				return nil
			}
			r.printError(err)
		}
	}
}

// handleMessage streams one answer. Failures after the request started are
// reported by the renderer, so only pre-flight errors are returned.
func (r *PaperChatRunner) handleMessage(ctx context.Context, text string) error {
	renderer := ux.NewTerminalStreamRenderer(r.out, r.level)
	_, err := r.ctrl.SendMessage(ctx, text, chat.WithObserver(renderer), chat.WithModel(r.model))
	switch {
	case err == nil:
		r.turns++
		return nil
	case errors.Is(err, deeprxiv.ErrMissingPaper):
		return errors.New("no paper selected; use /paper <arxiv id> or /load <session id>")
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrBusy):
		return err
	default:
		r.turns++
		return nil
	}
}

func (r *PaperChatRunner) handleCommand(ctx context.Context, input string) error {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/help":
		fmt.Fprintln(r.out, replHelp)
		return nil

	case "/new":
		session, err := r.ctrl.CreateSession(ctx, nil)
		if err != nil {
			return err
		}
		r.printInfo(fmt.Sprintf("Started %s (%s)", session.Title, session.SessionID))
		return nil

	case "/paper":
		if arg == "" {
			if p := r.ctrl.Paper(); p != nil {
				r.printInfo(fmt.Sprintf("Paper: %s %s", p.ArxivID, p.Title))
				return nil
			}
			return errors.New("usage: /paper <arxiv id>")
		}
		ref, err := resolvePaper(ctx, r.papers, arg)
		if err != nil {
			return err
		}
		r.ctrl.SelectPaper(ref)
		r.printInfo(fmt.Sprintf("Paper set to %s", paperLabel(ref)))
		return nil

	case "/sessions":
		sessions, err := r.ctrl.ListSessions(ctx, deeprxiv.ListSessionsOptions{})
		if err != nil {
			return err
		}
		fmt.Fprint(r.out, ux.RenderSessionList(sessions, r.level))
		return nil

	case "/load":
		if arg == "" {
			return errors.New("usage: /load <session id>")
		}
		if err := validation.ValidateSessionID(arg); err != nil {
			return err
		}
		session, err := r.ctrl.LoadSession(ctx, arg)
		if err != nil {
			return err
		}
		r.printHistory(session)
		return nil

	case "/hide":
		if arg == "" {
			return errors.New("usage: /hide <session id>")
		}
		if err := validation.ValidateSessionID(arg); err != nil {
			return err
		}
		if err := r.ctrl.HideSession(ctx, arg); err != nil {
			return err
		}
		r.printInfo("Hidden " + arg)
		return nil

	case "/share":
		shareURL, err := r.ctrl.Share(ctx)
		if err != nil {
			return err
		}
		r.printInfo("Share link: " + shareURL)
		return nil

	case "/sources":
		r.printSources()
		return nil

	case "/model":
		if arg == "" {
			r.printInfo("Model: " + r.currentModel())
			return nil
		}
		r.model = arg
		r.printInfo("Model set to " + arg)
		return nil

	default:
		return fmt.Errorf("unknown command %s; try /help", name)
	}
}

// =============================================================================
// Output helpers
// =============================================================================

func (r *PaperChatRunner) prompt() string {
	if p := r.ctrl.Paper(); p != nil && p.ArxivID != "" {
		return p.ArxivID + "> "
	}
	return "> "
}

func (r *PaperChatRunner) currentModel() string {
	if r.model != "" {
		return r.model
	}
	return chat.DefaultOptions().Model
}

func (r *PaperChatRunner) printHeader() {
	if r.level == ux.PersonalityMachine {
		return
	}
	paper := "no paper selected"
	if p := r.ctrl.Paper(); p != nil {
		paper = paperLabel(p)
	}
	fmt.Fprintln(r.out, ux.Styles.Title.Render("DeepRxiv chat"))
	fmt.Fprintln(r.out, ux.Styles.Muted.Render("  "+paper+" · model "+r.currentModel()))
	fmt.Fprintln(r.out, ux.Styles.Muted.Render("  /help for commands, exit to leave"))
	fmt.Fprintln(r.out)
}

func (r *PaperChatRunner) printHistory(session *deeprxiv.ChatSession) {
	if r.level != ux.PersonalityMachine {
		fmt.Fprintln(r.out, ux.Styles.Subtitle.Render(fmt.Sprintf("%s (%s)", session.Title, session.SessionID)))
	}
	for _, msg := range r.ctrl.Messages() {
		fmt.Fprint(r.out, ux.RenderHistoryMessage(msg, r.level))
	}
}

// printSources renders the current sources with the last answer's
// citations and images.
func (r *PaperChatRunner) printSources() {
	var (
		citations []string
		images    []deeprxiv.ImageRef
	)
	messages := r.ctrl.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == deeprxiv.RoleAssistant {
			citations = messages[i].Citations
			images = messages[i].Images
			break
		}
	}
	sidebar := ux.RenderSidebar(r.ctrl.Groups(), citations, images, r.level)
	if sidebar == "" {
		r.printInfo("No sources yet")
		return
	}
	fmt.Fprint(r.out, sidebar)
}

func (r *PaperChatRunner) printInfo(text string) {
	if r.level == ux.PersonalityMachine {
		fmt.Fprintf(r.out, "INFO: %s\n", text)
		return
	}
	fmt.Fprintf(r.out, "%s %s\n", ux.IconArrow.Render(), text)
}

func (r *PaperChatRunner) printError(err error) {
	if r.level == ux.PersonalityMachine {
		fmt.Fprintf(r.out, "ERROR: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "%s %s\n", ux.IconError.Render(), ux.Styles.Error.Render(err.Error()))
}

func (r *PaperChatRunner) printSessionEnd() {
	if r.level == ux.PersonalityMachine {
		return
	}
	elapsed := time.Since(r.started).Round(time.Second)
	line := fmt.Sprintf("Session ended · %d message(s) · %s", r.turns, elapsed)
	if s := r.ctrl.Session(); s != nil {
		line += " · resume with: deeprxiv chat --session " + s.SessionID
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, ux.Styles.Muted.Render(line))
}

// =============================================================================
// Papers
// =============================================================================

// resolvePaper finds arxivID (bare, prefixed, or an arxiv.org URL) in the
// catalog. An id the backend does not list is still returned as a bare ref;
// the backend decides whether it exists.
func resolvePaper(ctx context.Context, catalog paperCatalog, input string) (*deeprxiv.PaperRef, error) {
	arxivID, err := validation.SanitizeArxivID(input)
	if err != nil {
		return nil, err
	}
	if catalog == nil {
		return &deeprxiv.PaperRef{ArxivID: arxivID}, nil
	}
	papers, err := catalog.ListPapers(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list papers: %w", err)
	}
	if ref := findPaper(papers, arxivID); ref != nil {
		return ref, nil
	}
	slog.Debug("paper not in catalog, using bare arXiv id", "arxiv_id", arxivID)
	return &deeprxiv.PaperRef{ArxivID: arxivID}, nil
}

func findPaper(papers []deeprxiv.Paper, arxivID string) *deeprxiv.PaperRef {
	for _, p := range papers {
		if p.ArxivID == arxivID {
			return p.Ref()
		}
	}
	return nil
}

func paperLabel(ref *deeprxiv.PaperRef) string {
	switch {
	case ref == nil:
		return ""
	case ref.Title != "" && ref.ArxivID != "":
		return ref.ArxivID + " " + ref.Title
	case ref.ArxivID != "":
		return ref.ArxivID
	case ref.ID != nil:
		return fmt.Sprintf("paper #%d", *ref.ID)
	default:
		return ref.Title
	}
}
