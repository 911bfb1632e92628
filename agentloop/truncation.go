package agentloop

import (
	"fmt"
	"strings"
)

// Output limits applied to command output before it enters a conversation.
const (
	DefaultMaxOutputChars = 30000
	DefaultMaxOutputLines = 256
)

// TruncateOutput keeps the head and tail of output when it exceeds maxChars.
// A non-positive maxChars disables the limit.
func TruncateOutput(output string, maxChars int) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	half := maxChars / 2
	removed := len(output) - 2*half
	return output[:half] +
		fmt.Sprintf("\n\n[WARNING: Command output was truncated. %d characters were removed from the middle. "+
			"Re-run the command with more targeted parameters to see specific parts.]\n\n", removed) +
		output[len(output)-half:]
}

// TruncateLines keeps the first and last lines of output when it has more
// than maxLines lines.
func TruncateLines(output string, maxLines int) string {
	if maxLines <= 0 {
		return output
	}
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateCommandOutput applies character truncation first, for
// pathological single-line output, then line truncation.
func TruncateCommandOutput(output string, maxChars, maxLines int) string {
	return TruncateLines(TruncateOutput(output, maxChars), maxLines)
}
