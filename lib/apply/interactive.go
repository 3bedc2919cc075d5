// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package apply

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/stateward/stateward/lib/backend"
	"github.com/stateward/stateward/lib/state"
)

// ErrAborted is returned when the operator declines the plan.
var ErrAborted = fmt.Errorf("aborted by user")

var (
	addStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	removeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	pathStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
)

// choice is one confirmer option.
type choice struct {
	key   byte
	label string
}

// Interactive wraps an applicator with per-phase summaries and
// confirmation prompts. Single package installs can be skipped; file
// changes can be reviewed one by one with an external diff.
type Interactive struct {
	Inner Applicator

	// DiffCommand and PagerCommand are the operator-configured argv
	// for showing per-file diffs.
	DiffCommand  []string
	PagerCommand []string

	// Input and Output default to stdin/stderr.
	Input  io.Reader
	Output io.Writer

	// reader buffers the input across prompts; readerSource is the
	// stream it wraps.
	reader       *bufio.Reader
	readerSource io.Reader
}

func (a *Interactive) input() io.Reader {
	if a.Input != nil {
		return a.Input
	}
	return os.Stdin
}

func (a *Interactive) output() io.Writer {
	if a.Output != nil {
		return a.Output
	}
	return os.Stderr
}

// ApplyPackages shows the package summary and confirms.
func (a *Interactive) ApplyPackages(ctx context.Context, id backend.ID, install, markExplicit, uninstall []string) error {
	out := a.output()
	fmt.Fprintf(out, "With package manager %s:\n", id.String())
	for _, pkg := range install {
		fmt.Fprintf(out, " %s %s\n", addStyle.Render("+"), pkg)
	}
	for _, pkg := range markExplicit {
		fmt.Fprintf(out, " %s %s (mark explicit)\n", addStyle.Render("E"), pkg)
	}
	for _, pkg := range uninstall {
		fmt.Fprintf(out, " %s %s\n", removeStyle.Render("-"), pkg)
	}

	answer, err := a.prompt("Do you want to apply these changes?", []choice{
		{'y', "Yes"}, {'a', "Abort"}, {'s', "Skip"},
	})
	if err != nil {
		return err
	}
	switch answer {
	case 'y':
		return a.Inner.ApplyPackages(ctx, id, install, markExplicit, uninstall)
	case 's':
		return nil
	default:
		return ErrAborted
	}
}

// ApplyFiles shows the file summary and confirms; the interactive
// answer walks the instructions one at a time.
func (a *Interactive) ApplyFiles(ctx context.Context, instructions []state.Instruction) error {
	out := a.output()
	fmt.Fprintf(out, "Will apply %d file changes:\n", len(instructions))
	for i := range instructions {
		fmt.Fprintf(out, " %s: %s\n",
			pathStyle.Render(instructions[i].Path), instructions[i].Op.String())
	}

	answer, err := a.prompt("Do you want to apply these changes?", []choice{
		{'y', "Yes"}, {'a', "Abort"}, {'s', "Skip"}, {'i', "Interactive (change by change)"},
	})
	if err != nil {
		return err
	}
	switch answer {
	case 'y':
		return a.Inner.ApplyFiles(ctx, instructions)
	case 's':
		return nil
	case 'i':
		for i := range instructions {
			if err := a.applySingle(ctx, &instructions[i]); err != nil {
				return err
			}
		}
		return nil
	default:
		return ErrAborted
	}
}

func (a *Interactive) applySingle(ctx context.Context, instruction *state.Instruction) error {
	out := a.output()
	for {
		fmt.Fprintf(out, "Under consideration: %s with change %s\n",
			pathStyle.Render(instruction.Path), instruction.Op.String())
		answer, err := a.prompt("Apply changes to this file?", []choice{
			{'y', "Yes"}, {'a', "Abort"}, {'s', "Skip"}, {'d', "show Diff"},
		})
		if err != nil {
			return err
		}
		switch answer {
		case 'y':
			return a.Inner.ApplyFiles(ctx, []state.Instruction{*instruction})
		case 's':
			return nil
		case 'd':
			if err := a.showDiff(ctx, instruction); err != nil {
				fmt.Fprintf(out, "%s\n", faintStyle.Render("diff failed: "+err.Error()))
			}
		default:
			return ErrAborted
		}
	}
}

// showDiff pipes the configured diff command through the pager for a
// file-content instruction.
func (a *Interactive) showDiff(ctx context.Context, instruction *state.Instruction) error {
	if len(a.DiffCommand) == 0 {
		return fmt.Errorf("no diff command configured")
	}
	argv := append(append([]string(nil), a.DiffCommand...), instruction.Path)
	diff := exec.CommandContext(ctx, argv[0], argv[1:]...)
	diff.Stderr = os.Stderr

	if len(a.PagerCommand) == 0 {
		diff.Stdout = os.Stdout
		return diff.Run()
	}

	pager := exec.CommandContext(ctx, a.PagerCommand[0], a.PagerCommand[1:]...)
	pipe, err := diff.StdoutPipe()
	if err != nil {
		return err
	}
	pager.Stdin = pipe
	pager.Stdout = os.Stdout
	pager.Stderr = os.Stderr
	if err := diff.Start(); err != nil {
		return err
	}
	if err := pager.Run(); err != nil {
		diff.Wait()
		return err
	}
	return diff.Wait()
}

// prompt asks a multi-option question and returns the chosen key.
// EOF on a non-terminal aborts rather than looping forever.
func (a *Interactive) prompt(question string, choices []choice) (byte, error) {
	out := a.output()
	keys := make([]string, len(choices))
	for i, c := range choices {
		keys[i] = string(c.key)
	}
	if file, ok := a.input().(*os.File); ok && !term.IsTerminal(int(file.Fd())) {
		return 0, fmt.Errorf("interactive confirmation requires a terminal")
	}

	if input := a.input(); a.reader == nil || a.readerSource != input {
		a.reader = bufio.NewReader(input)
		a.readerSource = input
	}
	reader := a.reader
	for {
		fmt.Fprintf(out, "%s [%s] ", question, strings.Join(keys, "/"))
		for _, c := range choices {
			fmt.Fprintf(out, "%s ", faintStyle.Render(fmt.Sprintf("%c=%s", c.key, c.label)))
		}
		fmt.Fprintln(out)

		line, err := reader.ReadString('\n')
		if err != nil {
			return 0, fmt.Errorf("reading answer: %w", err)
		}
		line = strings.TrimSpace(strings.ToLower(line))
		if len(line) != 1 {
			continue
		}
		for _, c := range choices {
			if line[0] == c.key {
				return c.key, nil
			}
		}
	}
}
