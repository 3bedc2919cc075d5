// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package hostapi

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// LoadScript parses the command-call format used in configuration
// modules and save files ("ctx.cmds.add_pkg(\"pacman\", \"nano\")")
// and replays the calls against the given command and settings
// surfaces. The full embedded script host layers dynamic evaluation
// over this same surface; this loader accepts the declarative subset
// that save emits, which is what makes fold(save(state)) = state
// hold end to end.
func LoadScript(r io.Reader, commands *Commands, settings *Settings) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		if err := loadLine(scanner.Text(), commands, settings); err != nil {
			return fmt.Errorf("line %d: %w", lineNumber, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading script: %w", err)
	}
	return nil
}

func loadLine(line string, commands *Commands, settings *Settings) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#") {
		return nil
	}
	line = stripTrailingComment(line)
	if line == "" {
		return nil
	}

	open := strings.IndexByte(line, '(')
	if open < 0 || !strings.HasSuffix(line, ")") {
		return fmt.Errorf("not a command call: %q", line)
	}
	callee := line[:open]
	arguments, err := parseArguments(line[open+1 : len(line)-1])
	if err != nil {
		return fmt.Errorf("in %q: %w", line, err)
	}

	dot := strings.LastIndexByte(callee, '.')
	if dot < 0 {
		return fmt.Errorf("not a command call: %q", line)
	}
	receiver, method := callee[:dot], callee[dot+1:]

	switch {
	case strings.HasSuffix(receiver, ".cmds") || receiver == "cmds":
		return dispatchCommand(commands, method, arguments)
	case strings.HasSuffix(receiver, ".settings") || receiver == "settings":
		return dispatchSetting(settings, method, arguments)
	default:
		return fmt.Errorf("unknown receiver %q", receiver)
	}
}

// stripTrailingComment removes a "// ..." tail outside of string
// literals.
func stripTrailingComment(line string) string {
	inString := false
	for i := 0; i < len(line)-1; i++ {
		switch {
		case line[i] == '\\' && inString:
			i++
		case line[i] == '"':
			inString = !inString
		case !inString && line[i] == '/' && line[i+1] == '/':
			return strings.TrimSpace(line[:i])
		}
	}
	return line
}

// argument is one parsed call argument.
type argument struct {
	text     string
	number   uint64
	isString bool
}

// parseArguments splits a call argument list: double-quoted strings
// with escapes, and decimal or 0o-octal integers.
func parseArguments(input string) ([]argument, error) {
	var result []argument
	rest := strings.TrimSpace(input)
	for rest != "" {
		switch {
		case rest[0] == '"':
			end := findStringEnd(rest)
			if end < 0 {
				return nil, fmt.Errorf("unterminated string")
			}
			unquoted, err := strconv.Unquote(rest[:end+1])
			if err != nil {
				return nil, fmt.Errorf("bad string literal %s: %w", rest[:end+1], err)
			}
			result = append(result, argument{text: unquoted, isString: true})
			rest = strings.TrimSpace(rest[end+1:])
		default:
			token := rest
			remainder := ""
			if comma := strings.IndexByte(rest, ','); comma >= 0 {
				token, remainder = rest[:comma], rest[comma+1:]
			}
			token = strings.TrimSpace(token)
			value, err := parseNumberToken(token)
			if err != nil {
				return nil, err
			}
			result = append(result, argument{text: token, number: value})
			rest = strings.TrimSpace(remainder)
			continue
		}
		rest = strings.TrimSpace(strings.TrimPrefix(rest, ","))
	}
	return result, nil
}

func findStringEnd(input string) int {
	for i := 1; i < len(input); i++ {
		switch input[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

func parseNumberToken(token string) (uint64, error) {
	if octal, found := strings.CutPrefix(token, "0o"); found {
		value, err := strconv.ParseUint(octal, 8, 64)
		if err != nil {
			return 0, fmt.Errorf("bad octal literal %q: %w", token, err)
		}
		return value, nil
	}
	value, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad numeric literal %q: %w", token, err)
	}
	return value, nil
}

func wantArgs(method string, arguments []argument, count int) error {
	if len(arguments) != count {
		return fmt.Errorf("%s takes %d arguments, got %d", method, count, len(arguments))
	}
	return nil
}

func dispatchCommand(commands *Commands, method string, arguments []argument) error {
	switch method {
	case "ignore_path":
		if err := wantArgs(method, arguments, 1); err != nil {
			return err
		}
		return commands.IgnorePath(arguments[0].text)
	case "add_pkg":
		if err := wantArgs(method, arguments, 2); err != nil {
			return err
		}
		return commands.AddPkg(arguments[0].text, arguments[1].text)
	case "remove_pkg":
		if err := wantArgs(method, arguments, 2); err != nil {
			return err
		}
		return commands.RemovePkg(arguments[0].text, arguments[1].text)
	case "rm":
		if err := wantArgs(method, arguments, 1); err != nil {
			return err
		}
		return commands.Rm(arguments[0].text)
	case "mkdir":
		if err := wantArgs(method, arguments, 1); err != nil {
			return err
		}
		return commands.Mkdir(arguments[0].text)
	case "copy":
		if err := wantArgs(method, arguments, 1); err != nil {
			return err
		}
		return commands.Copy(arguments[0].text)
	case "copy_from":
		if err := wantArgs(method, arguments, 2); err != nil {
			return err
		}
		return commands.CopyFrom(arguments[0].text, arguments[1].text)
	case "write":
		if err := wantArgs(method, arguments, 2); err != nil {
			return err
		}
		return commands.Write(arguments[0].text, []byte(arguments[1].text))
	case "ln":
		if err := wantArgs(method, arguments, 2); err != nil {
			return err
		}
		return commands.Ln(arguments[0].text, arguments[1].text)
	case "mkfifo":
		if err := wantArgs(method, arguments, 1); err != nil {
			return err
		}
		return commands.MkFifo(arguments[0].text)
	case "mknod":
		if err := wantArgs(method, arguments, 4); err != nil {
			return err
		}
		return commands.MkNod(arguments[0].text, arguments[1].text, arguments[2].number, arguments[3].number)
	case "chmod":
		if err := wantArgs(method, arguments, 2); err != nil {
			return err
		}
		if arguments[1].isString {
			return commands.Chmod(arguments[0].text, arguments[1].text)
		}
		return commands.Chmod(arguments[0].text, int(arguments[1].number))
	case "chown":
		if err := wantArgs(method, arguments, 2); err != nil {
			return err
		}
		return commands.Chown(arguments[0].text, arguments[1].text)
	case "chgrp":
		if err := wantArgs(method, arguments, 2); err != nil {
			return err
		}
		return commands.Chgrp(arguments[0].text, arguments[1].text)
	default:
		return fmt.Errorf("unknown command %q", method)
	}
}

func dispatchSetting(settings *Settings, method string, arguments []argument) error {
	texts := make([]string, len(arguments))
	for i, arg := range arguments {
		texts[i] = arg.text
	}
	switch method {
	case "enable_pkg_backend":
		if err := wantArgs(method, arguments, 1); err != nil {
			return err
		}
		return settings.EnablePkgBackend(texts[0])
	case "set_file_backend":
		if err := wantArgs(method, arguments, 1); err != nil {
			return err
		}
		return settings.SetFileBackend(texts[0])
	case "early_config":
		if err := wantArgs(method, arguments, 1); err != nil {
			return err
		}
		settings.EarlyConfig(texts[0])
		return nil
	case "sensitive_file":
		if err := wantArgs(method, arguments, 1); err != nil {
			return err
		}
		settings.SensitiveFile(texts[0])
		return nil
	case "set_save_prefix":
		if err := wantArgs(method, arguments, 1); err != nil {
			return err
		}
		settings.SetSavePrefix(texts[0])
		return nil
	case "set_diff":
		settings.SetDiff(texts)
		return nil
	case "set_pager":
		settings.SetPager(texts)
		return nil
	default:
		return fmt.Errorf("unknown setting %q", method)
	}
}
