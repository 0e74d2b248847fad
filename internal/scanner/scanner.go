// Package scanner splits interpreter input into lines and lines into
// whitespace-delimited argument tokens.
//
// There is no quoting or escaping: an argument containing whitespace cannot
// be passed as a single token.
package scanner

import (
	"regexp"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Lines splits a block of source text on newlines.
func Lines(src string) []string {
	return strings.Split(src, "\n")
}

// Tokenize trims a line, collapses internal whitespace runs to a single
// space, and splits on spaces. An empty or blank line yields [""].
func Tokenize(line string) []string {
	collapsed := whitespaceRun.ReplaceAllString(strings.TrimSpace(line), " ")
	return strings.Split(collapsed, " ")
}

// IsEmpty reports whether tokens carry no arguments.
func IsEmpty(tokens []string) bool {
	return len(tokens) == 0 || (len(tokens) == 1 && tokens[0] == "")
}

// Command returns the first token, or "" when there are no tokens.
func Command(tokens []string) string {
	if IsEmpty(tokens) {
		return ""
	}
	return tokens[0]
}
