// Package sseutil provides the SSE line reading shared by provider adapters.
package sseutil

import (
	"bufio"
	"io"
	"strings"
)

// DoneSentinel terminates OpenAI-shaped streams (openai, gigachat).
const DoneSentinel = "[DONE]"

// maxLineSize bounds one SSE line. Anthropic content_block_delta frames can
// carry a few KB of text; 128KB leaves ample headroom without letting a
// misbehaving upstream grow the buffer unboundedly.
const maxLineSize = 128 * 1024

// NewScanner returns a line scanner for an SSE response body. The default
// ScanLines split handles both \n and \r\n framing.
func NewScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 8*1024), maxLineSize)
	return s
}

// ParseSSELine splits one SSE line into its field. Only the "event" and
// "data" fields matter to any adapter here; comments (leading ':'), blank
// separators, and other fields ("id", "retry") report ok=false and are
// skipped by callers.
func ParseSSELine(line string) (event, data string, ok bool) {
	if line == "" || line[0] == ':' {
		return "", "", false
	}
	field, value, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	// one optional space after the colon, per the SSE grammar
	value = strings.TrimPrefix(value, " ")
	switch field {
	case "event":
		return value, "", true
	case "data":
		return "", value, true
	}
	return "", "", false
}
