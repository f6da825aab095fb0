package worker

import "strings"

// levelScanWidth bounds how far into a line a level token is looked for.
const levelScanWidth = 64

// ParseLogLevel extracts the log level from a worker output line.
// Workers log through Python's logging module, so lines look like
// "2024-05-01 10:00:00,123 - lokbot - WARNING - message", "ERROR:lokbot:message"
// or "[error] message". The returned message is the line itself, except that a
// leading "[level] " prefix is stripped.
func ParseLogLevel(line string) (level, msg string) {
	if len(line) > 2 && line[0] == '[' {
		if end := strings.Index(line, "] "); end != -1 {
			if lvl, ok := normalizeLevel(line[1:end]); ok {
				return lvl, line[end+2:]
			}
		}
	}

	head := line
	if len(head) > levelScanWidth {
		head = head[:levelScanWidth]
	}
	for _, tok := range strings.FieldsFunc(head, isLevelDelimiter) {
		// Only upper case tokens, so "error" inside a message does not match
		if tok != strings.ToUpper(tok) {
			continue
		}
		if lvl, ok := normalizeLevel(tok); ok {
			return lvl, line
		}
	}
	return "info", line
}

func isLevelDelimiter(r rune) bool {
	switch r {
	case ' ', '\t', '-', ':', '|', '[', ']', '(', ')':
		return true
	}
	return false
}

func normalizeLevel(s string) (string, bool) {
	switch strings.ToLower(s) {
	case "critical", "fatal", "panic", "error":
		return "error", true
	case "warning", "warn":
		return "warning", true
	case "info":
		return "info", true
	case "debug", "trace", "verbose":
		return "debug", true
	}
	return "", false
}
