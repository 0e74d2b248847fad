package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/peterh/liner"

	"github.com/dshills/magicline/internal/dispatcher/execctx"
	"github.com/dshills/magicline/internal/session"
)

const (
	promptMain = "magic> "
	promptCont = "  ...> "

	// historyLimit bounds the history loaded into the line editor.
	historyLimit = 500
)

func repl(ctx context.Context, s *session.Session) int {
	fmt.Printf("magicline %s (%s mode). Type :help for REPL commands.\n", version, s.Mode())

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetMultiLineMode(true)

	if recent, err := s.Recent(ctx, historyLimit); err == nil {
		for _, src := range recent {
			ln.AppendHistory(oneLine(src))
		}
	}

	for {
		src, ok := readBlock(ln, s.IsComplete)
		if !ok {
			fmt.Println()
			return 0
		}
		trimmed := strings.TrimSpace(src)
		if trimmed == "" {
			continue
		}
		ln.AppendHistory(oneLine(src))

		if strings.HasPrefix(trimmed, ":") {
			if quit := replCommand(ctx, s, trimmed, os.Stdout); quit {
				return 0
			}
			continue
		}

		v, err := runInterruptible(ctx, s, src)
		if err != nil {
			report(os.Stderr, err)
			continue
		}
		if v != nil {
			fmt.Printf("%v\n", v)
		}
	}
}

// runInterruptible runs src with Ctrl-C cancelling the block instead of
// the program.
func runInterruptible(ctx context.Context, s *session.Session, src string) (any, error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	return s.Run(ctx, src)
}

// readBlock reads lines until complete reports the block finished. Ctrl-C
// discards the block, EOF ends the REPL.
func readBlock(ln *liner.State, complete func(string) bool) (string, bool) {
	var b strings.Builder

	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if err != nil {
			return "", false
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)

		src := b.String()
		if strings.HasPrefix(strings.TrimSpace(src), ":") || complete(src) {
			return src, true
		}
	}
}

// replCommand handles :commands and reports whether the REPL should exit.
func replCommand(ctx context.Context, s *session.Session, cmd string, w io.Writer) bool {
	fields := strings.Fields(cmd)
	switch fields[0] {
	case ":quit", ":q", ":exit":
		return true
	case ":mode":
		if len(fields) < 2 {
			fmt.Fprintf(w, "mode: %s\n", s.Mode())
			return false
		}
		mode, err := execctx.ParseMode(fields[1])
		if err != nil {
			fmt.Fprintf(w, "Error: %v\n", err)
			return false
		}
		s.SetMode(mode)
		fmt.Fprintf(w, "mode: %s\n", mode)
	case ":transpile", ":t":
		src := strings.TrimSpace(strings.TrimPrefix(cmd, fields[0]))
		code, err := s.Transpile(ctx, src)
		if err != nil {
			report(w, err)
			return false
		}
		fmt.Fprintln(w, code)
	case ":history":
		for i, src := range s.History() {
			fmt.Fprintf(w, "%4d  %s\n", i+1, oneLine(src))
		}
	case ":stats":
		if m := s.Metrics(); m != nil {
			printStats(w, m)
		} else {
			fmt.Fprintln(w, "stats are disabled; start with -stats")
		}
	case ":help":
		fmt.Fprint(w, replHelp)
	default:
		fmt.Fprintf(w, "unknown command %s. Type :help for REPL commands.\n", fields[0])
	}
	return false
}

const replHelp = `REPL commands:
  :mode [execute|rewrite]  show or switch the interpretation mode
  :transpile <source>      print source rewritten to Lua
  :history                 list blocks run in this session
  :stats                   print dispatch statistics
  :quit                    exit
Magic commands: %lsmagic lists them.
`

func oneLine(src string) string {
	return strings.ReplaceAll(src, "\n", " ")
}
