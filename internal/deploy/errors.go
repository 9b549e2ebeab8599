// Package deploy talks to the preview deployment service and runs the
// bounded auto-fix loop over failed builds.
package deploy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DeploymentError is one structured error extracted from build logs.
type DeploymentError struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
	Category string `json:"category"` // typescript, eslint, build, runtime
	Code     string `json:"code,omitempty"`
}

var (
	// ./src/app/page.tsx:12:4
	fileLocRe = regexp.MustCompile(`^\.?/?(.+?\.(?:tsx?|jsx?|mjs|cjs|css|json)):(\d+):(\d+)$`)
	// ./src/app/page.tsx  (ESLint section header, no position)
	fileHeaderRe = regexp.MustCompile(`^\.?/(.+?\.(?:tsx?|jsx?|mjs|cjs))$`)
	// 12:4  Error: 'foo' is not defined  no-undef
	eslintRuleRe = regexp.MustCompile(`^(\d+):(\d+)\s+(Error|Warning):\s+(.+?)(?:\s{2,}([@a-z0-9-]+(?:/[a-z0-9-]+)?))?$`)
	// Command "npm run build" exited with 1
	exitCodeRe = regexp.MustCompile(`^Command\s+"(.+)"\s+exited with (\d+)$`)
	// Module not found: Can't resolve 'foo'
	moduleNotFoundRe = regexp.MustCompile(`^Module not found: (.+)$`)
)

// eslintConfigMessage reports whether a log line is an ESLint
// configuration failure rather than a per-file lint finding.
func eslintConfigMessage(line string) bool {
	if !strings.Contains(line, "ESLint") && !strings.Contains(line, "eslint") {
		return false
	}
	for _, marker := range []string{
		"Failed to load config",
		"Invalid Options",
		"couldn't find the config",
		"Cannot read config file",
		"Parsing error in your ESLint config",
	} {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

// ParseBuildLogs extracts structured errors from raw deployment logs.
// It recognizes Next.js TypeScript errors (a ./file:line:col header
// followed by "Type error:"), per-line ESLint findings under a file
// header, ESLint configuration failures, module resolution failures and
// generic build exits. Unrecognized lines are ignored.
func ParseBuildLogs(logs string) []DeploymentError {
	var errs []DeploymentError
	lines := strings.Split(logs, "\n")

	currentFile := ""
	for i := 0; i < len(lines); i++ {
		line := strings.TrimRight(lines[i], "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if m := fileLocRe.FindStringSubmatch(trimmed); m != nil {
			file := m[1]
			lineNo, _ := strconv.Atoi(m[2])
			colNo, _ := strconv.Atoi(m[3])
			currentFile = file

			// A TypeScript error reports its message on the next lines.
			if msg, ok := followingTypeError(lines, i+1); ok {
				errs = append(errs, DeploymentError{
					File:     file,
					Line:     lineNo,
					Column:   colNo,
					Message:  msg,
					Severity: "error",
					Category: "typescript",
				})
			}
			continue
		}

		if m := fileHeaderRe.FindStringSubmatch(trimmed); m != nil {
			currentFile = m[1]
			continue
		}

		if m := eslintRuleRe.FindStringSubmatch(trimmed); m != nil {
			lineNo, _ := strconv.Atoi(m[1])
			colNo, _ := strconv.Atoi(m[2])
			severity := strings.ToLower(m[3])
			errs = append(errs, DeploymentError{
				File:     currentFile,
				Line:     lineNo,
				Column:   colNo,
				Message:  m[4],
				Severity: severity,
				Category: "eslint",
				Code:     m[5],
			})
			continue
		}

		if eslintConfigMessage(trimmed) {
			errs = append(errs, DeploymentError{
				Message:  trimmed,
				Severity: "error",
				Category: "eslint",
				Code:     "eslint-config",
			})
			continue
		}

		if m := moduleNotFoundRe.FindStringSubmatch(trimmed); m != nil {
			errs = append(errs, DeploymentError{
				File:     currentFile,
				Message:  "Module not found: " + m[1],
				Severity: "error",
				Category: "build",
			})
			continue
		}

		if m := exitCodeRe.FindStringSubmatch(trimmed); m != nil {
			errs = append(errs, DeploymentError{
				Message:  fmt.Sprintf("%s exited with code %s", m[1], m[2]),
				Severity: "error",
				Category: "build",
			})
			continue
		}

		if strings.HasPrefix(trimmed, "Error: ") && strings.Contains(trimmed, "Minified React error") {
			errs = append(errs, DeploymentError{
				Message:  trimmed,
				Severity: "error",
				Category: "runtime",
			})
		}
	}
	return errs
}

// followingTypeError scans forward from idx for a "Type error:" message,
// tolerating blank lines between the location header and the message.
func followingTypeError(lines []string, idx int) (string, bool) {
	for j := idx; j < len(lines) && j < idx+3; j++ {
		t := strings.TrimSpace(lines[j])
		if t == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(t, "Type error: "); ok {
			return rest, true
		}
		return "", false
	}
	return "", false
}

// ErrorFiles maps extracted errors to the project files the fix stage
// should see. Any ESLint error, positioned or not, pulls in the
// configured config-file candidates that exist in the tree, since a rule
// violation is often a config problem and config errors carry no source
// location. Build errors without a file map to nothing.
func ErrorFiles(errs []DeploymentError, available []string, eslintConfigCandidates []string) []string {
	present := make(map[string]bool, len(available))
	for _, n := range available {
		present[n] = true
	}

	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name == "" || seen[name] || !present[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	anyESLint := false
	for _, e := range errs {
		if e.Category == "eslint" {
			anyESLint = true
		}
		add(e.File)
	}
	if anyESLint {
		for _, c := range eslintConfigCandidates {
			add(c)
		}
	}
	return out
}

// Summarize renders errors as the compact text block given to the fix
// stage, capped to keep the prompt bounded.
func Summarize(errs []DeploymentError) string {
	const maxErrors = 20
	var b strings.Builder
	for i, e := range errs {
		if i == maxErrors {
			fmt.Fprintf(&b, "... and %d more\n", len(errs)-maxErrors)
			break
		}
		switch {
		case e.File != "" && e.Line > 0:
			fmt.Fprintf(&b, "[%s] %s:%d:%d %s", e.Category, e.File, e.Line, e.Column, e.Message)
		case e.File != "":
			fmt.Fprintf(&b, "[%s] %s: %s", e.Category, e.File, e.Message)
		default:
			fmt.Fprintf(&b, "[%s] %s", e.Category, e.Message)
		}
		if e.Code != "" {
			fmt.Fprintf(&b, " (%s)", e.Code)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// OnlyErrors drops warnings, which the auto-fix loop does not act on.
func OnlyErrors(errs []DeploymentError) []DeploymentError {
	var out []DeploymentError
	for _, e := range errs {
		if e.Severity == "error" {
			out = append(out, e)
		}
	}
	return out
}
