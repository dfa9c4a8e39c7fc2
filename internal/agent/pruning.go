package agent

import (
	"github.com/ggurov/local-llm/internal/providers"
)

const (
	maxHistoryChars     = 48000
	keepLastToolResults = 4
	trimHeadChars       = 1200
	trimTailChars       = 400
	trimMarker          = "\n... [older tool output trimmed] ...\n"
	clearedPlaceholder  = "[old tool output cleared]"
)

// pruneHistory bounds the prompt size by shrinking old tool results. Tool
// output dominates history growth; user and assistant turns are never
// touched. The most recent tool results stay intact since the model is
// usually still reasoning about them.
func pruneHistory(messages []providers.ChatMessage) []providers.ChatMessage {
	if historyChars(messages) <= maxHistoryChars {
		return messages
	}

	out := make([]providers.ChatMessage, len(messages))
	copy(out, messages)

	prunable := toolIndexes(out)
	if len(prunable) > keepLastToolResults {
		prunable = prunable[:len(prunable)-keepLastToolResults]
	} else {
		prunable = nil
	}

	// First pass: trim long old results to head and tail.
	for _, i := range prunable {
		if historyChars(out) <= maxHistoryChars {
			return out
		}
		content := out[i].Content
		if len(content) > trimHeadChars+trimTailChars+len(trimMarker) {
			out[i].Content = content[:trimHeadChars] + trimMarker + content[len(content)-trimTailChars:]
		}
	}

	// Second pass: clear old results entirely, oldest first.
	for _, i := range prunable {
		if historyChars(out) <= maxHistoryChars {
			return out
		}
		out[i].Content = clearedPlaceholder
	}
	return out
}

func toolIndexes(messages []providers.ChatMessage) []int {
	var idx []int
	for i, m := range messages {
		if m.Role == "tool" {
			idx = append(idx, i)
		}
	}
	return idx
}

func historyChars(messages []providers.ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total
}
