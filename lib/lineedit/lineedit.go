// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

// Package lineedit is a small streaming line editor in the manner of
// sed. A program is a list of (selector, action) instructions applied
// to each input line in turn:
//
//  1. Read a line into the pattern space.
//  2. For each instruction whose selector matches the current line
//     number or content, apply its action to the pattern space.
//  3. Unless auto-print is disabled, append the pattern space to the
//     output.
//
// Instructions therefore observe the pattern space as modified by
// earlier instructions in the same program.
package lineedit

import (
	"log/slog"
	"regexp"
	"strings"
)

// Program is a compiled edit program.
type Program struct {
	instructions []instruction
	printDefault bool
}

type instruction struct {
	selector Selector
	invert   bool
	action   Action
}

// NewProgram returns an empty program with auto-print enabled.
func NewProgram() *Program {
	return &Program{printDefault: true}
}

// Add appends an instruction. invert negates the selector.
func (p *Program) Add(selector Selector, invert bool, action Action) *Program {
	p.instructions = append(p.instructions, instruction{selector: selector, invert: invert, action: action})
	return p
}

// DisableDefaultPrinting turns off the implicit copy of the pattern
// space to the output.
func (p *Program) DisableDefaultPrinting() *Program {
	p.printDefault = false
	return p
}

// Selector decides which lines an action applies to.
type Selector interface {
	matches(lineNumber int, atEOF bool, line string) bool
}

type (
	selectAll  struct{}
	selectEOF  struct{}
	selectLine struct{ number int }
	// selectRange is 1-indexed and inclusive.
	selectRange struct{ lower, upper int }
	selectRegex struct{ re *regexp.Regexp }
	// selectFunc is passed the line number and the current line.
	selectFunc struct{ fn func(int, string) bool }
)

// All matches every line.
func All() Selector { return selectAll{} }

// EOF matches after the last line; useful for appending.
func EOF() Selector { return selectEOF{} }

// Line matches one 1-indexed line number.
func Line(number int) Selector { return selectLine{number} }

// Range matches an inclusive 1-indexed range.
func Range(lower, upper int) Selector { return selectRange{lower, upper} }

// Regex matches lines against a compiled expression.
func Regex(re *regexp.Regexp) Selector { return selectRegex{re} }

// Func matches with a custom predicate.
func Func(fn func(lineNumber int, line string) bool) Selector { return selectFunc{fn} }

func (selectAll) matches(_ int, atEOF bool, _ string) bool { return !atEOF }
func (selectEOF) matches(_ int, atEOF bool, _ string) bool { return atEOF }
func (s selectLine) matches(n int, atEOF bool, _ string) bool {
	return !atEOF && n == s.number
}
func (s selectRange) matches(n int, atEOF bool, _ string) bool {
	return !atEOF && n >= s.lower && n <= s.upper
}
func (s selectRegex) matches(_ int, atEOF bool, line string) bool {
	return !atEOF && s.re.MatchString(line)
}
func (s selectFunc) matches(n int, atEOF bool, line string) bool {
	return !atEOF && s.fn(n, line)
}

// Action transforms the pattern space.
type Action interface{ apply(*execution) actionResult }

type actionResult uint8

const (
	resultContinue actionResult = iota
	resultShortCircuit
	resultStop
	resultStopAndPrint
	resultNextLine
)

type (
	actionPrint        struct{}
	actionDelete       struct{}
	actionNextLine     struct{}
	actionStop         struct{}
	actionStopAndPrint struct{}
	actionInsertBefore struct{ text string }
	actionInsertAfter  struct{ text string }
	actionReplace      struct{ text string }
	actionRegexReplace struct {
		re          *regexp.Regexp
		replacement string
		all         bool
	}
	actionSubprogram struct{ program *Program }
	actionFunc       struct{ fn func(string) string }
)

// Print copies the pattern space to the output; needed only when
// auto-print is disabled.
func Print() Action { return actionPrint{} }

// Delete clears the pattern space and short-circuits to the next
// line.
func Delete() Action { return actionDelete{} }

// NextLine replaces the pattern space with the next input line.
func NextLine() Action { return actionNextLine{} }

// Stop terminates without printing the rest of the input.
func Stop() Action { return actionStop{} }

// StopAndPrint terminates and prints the rest of the input.
func StopAndPrint() Action { return actionStopAndPrint{} }

// InsertBefore prepends a line before the current one.
func InsertBefore(text string) Action { return actionInsertBefore{text} }

// InsertAfter appends a line after the current one.
func InsertAfter(text string) Action { return actionInsertAfter{text} }

// Replace substitutes the whole pattern space.
func Replace(text string) Action { return actionReplace{text} }

// RegexReplace replaces the first match; capture groups use the
// regexp.Expand syntax (${1}).
func RegexReplace(re *regexp.Regexp, replacement string) Action {
	return actionRegexReplace{re: re, replacement: replacement}
}

// RegexReplaceAll replaces every match.
func RegexReplaceAll(re *regexp.Regexp, replacement string) Action {
	return actionRegexReplace{re: re, replacement: replacement, all: true}
}

// Subprogram runs another program sharing this one's pattern space.
func Subprogram(program *Program) Action { return actionSubprogram{program} }

// Transform calls fn to compute the new pattern space.
func Transform(fn func(string) string) Action { return actionFunc{fn} }

// execution is the mutable run state.
type execution struct {
	patternSpace strings.Builder
	lines        []string
	lineIndex    int
	output       strings.Builder
	printDefault bool
}

func (e *execution) pattern() string { return e.patternSpace.String() }

func (e *execution) setPattern(s string) {
	e.patternSpace.Reset()
	e.patternSpace.WriteString(s)
}

func (e *execution) emit(s string) {
	e.output.WriteString(s)
	e.output.WriteByte('\n')
}

// Apply runs the program over input and returns the edited text.
// Output always ends with a newline when non-empty.
func (p *Program) Apply(input string) string {
	exec := &execution{printDefault: p.printDefault}
	exec.lines = splitLines(input)

	for exec.lineIndex = 0; exec.lineIndex < len(exec.lines); exec.lineIndex++ {
		exec.setPattern(exec.lines[exec.lineIndex])

		switch p.runInstructions(exec) {
		case resultStop:
			return exec.output.String()
		case resultStopAndPrint:
			exec.emit(exec.pattern())
			for _, line := range exec.lines[exec.lineIndex+1:] {
				exec.emit(line)
			}
			return exec.output.String()
		case resultShortCircuit:
			continue
		}

		if p.printDefault {
			exec.emit(exec.pattern())
		}
	}

	// EOF pass: only EOF selectors fire, with an empty pattern space.
	exec.setPattern("")
	for _, instr := range p.instructions {
		if !instr.matches(0, true, "") {
			continue
		}
		switch instr.action.apply(exec) {
		case resultNextLine:
			slog.Error("line editor: NextLine not allowed in EOF instruction")
		case resultStop, resultStopAndPrint, resultShortCircuit:
			return flushPattern(exec)
		}
	}
	return flushPattern(exec)
}

// flushPattern appends whatever the EOF pass accumulated.
func flushPattern(exec *execution) string {
	pattern := strings.TrimPrefix(exec.pattern(), "\n")
	if pattern != "" {
		exec.output.WriteString(pattern)
		if !strings.HasSuffix(pattern, "\n") {
			exec.output.WriteByte('\n')
		}
	}
	return exec.output.String()
}

// runInstructions applies every matching instruction to the current
// line.
func (p *Program) runInstructions(exec *execution) actionResult {
	for _, instr := range p.instructions {
		// Re-read on every step: NextLine may have advanced the
		// current line.
		lineNumber := exec.lineIndex + 1
		line := exec.lines[exec.lineIndex]
		if !instr.matchesLine(lineNumber, line) {
			continue
		}
		switch result := instr.action.apply(exec); result {
		case resultContinue:
		case resultNextLine:
			if !p.advanceLine(exec) {
				return resultShortCircuit
			}
		default:
			return result
		}
	}
	return resultContinue
}

func (in *instruction) matchesLine(lineNumber int, line string) bool {
	matched := in.selector.matches(lineNumber, false, line)
	if in.invert {
		return !matched
	}
	return matched
}

func (in *instruction) matches(lineNumber int, atEOF bool, line string) bool {
	matched := in.selector.matches(lineNumber, atEOF, line)
	if in.invert {
		if atEOF {
			// The EOF pass is not a line; an inverted selector
			// never fires there.
			return false
		}
		return !matched
	}
	return matched
}

// advanceLine implements NextLine: print (unless disabled), then
// load the following input line.
func (p *Program) advanceLine(exec *execution) bool {
	if p.printDefault {
		exec.emit(exec.pattern())
	}
	exec.setPattern("")
	if exec.lineIndex+1 >= len(exec.lines) {
		return false
	}
	exec.lineIndex++
	exec.setPattern(exec.lines[exec.lineIndex])
	return true
}

func (actionPrint) apply(exec *execution) actionResult {
	exec.emit(exec.pattern())
	return resultContinue
}

func (actionDelete) apply(exec *execution) actionResult {
	exec.setPattern("")
	return resultShortCircuit
}

func (actionNextLine) apply(*execution) actionResult { return resultNextLine }

func (actionStop) apply(*execution) actionResult { return resultStop }

func (actionStopAndPrint) apply(*execution) actionResult { return resultStopAndPrint }

func (a actionInsertBefore) apply(exec *execution) actionResult {
	exec.setPattern(a.text + "\n" + exec.pattern())
	return resultContinue
}

func (a actionInsertAfter) apply(exec *execution) actionResult {
	exec.patternSpace.WriteByte('\n')
	exec.patternSpace.WriteString(a.text)
	return resultContinue
}

func (a actionReplace) apply(exec *execution) actionResult {
	exec.setPattern(a.text)
	return resultContinue
}

func (a actionRegexReplace) apply(exec *execution) actionResult {
	pattern := exec.pattern()
	if a.all {
		exec.setPattern(a.re.ReplaceAllString(pattern, a.replacement))
		return resultContinue
	}
	// First match only: regexp has no single-replacement primitive,
	// so expand the first match manually.
	location := a.re.FindStringSubmatchIndex(pattern)
	if location == nil {
		return resultContinue
	}
	var expanded []byte
	expanded = a.re.ExpandString(expanded, a.replacement, pattern, location)
	exec.setPattern(pattern[:location[0]] + string(expanded) + pattern[location[1]:])
	return resultContinue
}

func (a actionSubprogram) apply(exec *execution) actionResult {
	return a.program.runInstructions(exec)
}

func (a actionFunc) apply(exec *execution) actionResult {
	exec.setPattern(a.fn(exec.pattern()))
	return resultContinue
}

// splitLines splits on newlines without producing a trailing empty
// line for newline-terminated input.
func splitLines(input string) []string {
	if input == "" {
		return nil
	}
	input = strings.TrimSuffix(input, "\n")
	return strings.Split(input, "\n")
}
