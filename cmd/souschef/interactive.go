package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	markdown "github.com/MichaelMure/go-term-markdown"
	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"golang.org/x/term"

	"souschef/internal/agent/app"
	"souschef/internal/agent/domain"
)

var (
	errorText   = color.New(color.FgRed).SprintFunc()
	successText = color.New(color.FgGreen).SprintFunc()
	hintText    = color.New(color.FgHiBlack).SprintFunc()
	warnText    = color.New(color.FgYellow).SprintFunc()
)

// chatter is the part of the coordinator the console uses.
type chatter interface {
	SendMessage(ctx context.Context, threadID, content string) (*app.Reply, error)
	StreamMessage(ctx context.Context, threadID, content string, sink domain.DeltaSink) (*app.Reply, error)
}

type lineReader interface {
	Readline() (string, error)
}

// runInteractive runs a readline REPL against one thread.
func runInteractive(ctx context.Context, chat chatter, threadID string, in *os.File, out io.Writer) error {
	homeDir, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       filepath.Join(homeDir, ".souschef-history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		UniqueEditLine:    true,
		Stdin:             readline.NewCancelableStdin(in),
		Stdout:            out,
		Stderr:            os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(out, "souschef: ask for a recipe. Type 'exit' to quit.")
	fmt.Fprintln(out, hintText("thread "+threadID))
	fmt.Fprintln(out)

	// Render markdown only on a terminal; pipes get the raw stream.
	width := 0
	if w, _, err := term.GetSize(int(in.Fd())); err == nil && term.IsTerminal(int(in.Fd())) {
		width = min(w-4, 120)
	}
	return chatLoop(ctx, chat, threadID, rl, out, width)
}

// chatLoop reads lines until EOF or exit. A positive width renders each
// answer as markdown once it is complete; otherwise answers are streamed.
func chatLoop(ctx context.Context, chat chatter, threadID string, lines lineReader, out io.Writer, width int) error {
	for {
		input, err := lines.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if input == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		switch input {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		var reply *app.Reply
		if width > 0 {
			reply, err = chat.SendMessage(ctx, threadID, input)
			if reply != nil && reply.Answer != "" {
				fmt.Fprintf(out, "\n%s\n", markdown.Render(reply.Answer, width, 2))
			}
		} else {
			reply, err = chat.StreamMessage(ctx, threadID, input, func(delta string) {
				fmt.Fprint(out, delta)
			})
			fmt.Fprintln(out)
		}

		switch {
		case err == nil:
		case errors.Is(err, domain.ErrIterationCapExceeded):
			if width <= 0 && reply != nil {
				fmt.Fprintln(out, reply.Answer)
			}
			fmt.Fprintln(out, warnText("(stopped after too many steps)"))
		case ctx.Err() != nil:
			return nil
		default:
			fmt.Fprintln(out, errorText("Error: "+err.Error()))
		}
		fmt.Fprintln(out)
	}
}
