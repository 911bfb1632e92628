package agentloop

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// DefaultLoopWindow is the number of recent actions inspected for repetition.
const DefaultLoopWindow = 6

func actionSignature(a Action) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(a.Command)))
	return fmt.Sprintf("%x", h[:8])
}

// recentActionSignatures returns the signatures of the last count actions in
// chronological order.
func recentActionSignatures(history []Message, count int) []string {
	var sigs []string
	for i := len(history) - 1; i >= 0 && len(sigs) < count; i-- {
		m := history[i]
		if m.Kind != KindDecision || m.Decision == nil {
			continue
		}
		for j := len(m.Decision.Actions) - 1; j >= 0 && len(sigs) < count; j-- {
			sigs = append(sigs, actionSignature(m.Decision.Actions[j]))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop reports whether the last windowSize actions repeat a pattern of
// one, two or three commands.
func DetectLoop(history []Message, windowSize int) bool {
	if windowSize <= 1 {
		return false
	}
	sigs := recentActionSignatures(history, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 || windowSize == patternLen {
			continue
		}
		matched := true
		for i := patternLen; i < windowSize && matched; i++ {
			if sigs[i] != sigs[i%patternLen] {
				matched = false
			}
		}
		if matched {
			return true
		}
	}
	return false
}
