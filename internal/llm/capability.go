package llm

import "strings"

// nativeToolPrefixes lists model families with a native function-call
// channel. Everything else falls back to software function calling via the
// teaching system prompt.
var nativeToolPrefixes = []string{
	"gpt-3.5-turbo",
	"gpt-4",
	"gpt-4o",
	"o1",
	"o3",
}

// SupportsNativeTools reports whether the model exposes native function
// calling.
func SupportsNativeTools(model string) bool {
	for _, prefix := range nativeToolPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// EstimateTokens approximates the token count of text. The heuristic of one
// token per four bytes tracks GPT-family tokenizers closely enough for
// window trimming and prompt-length validation.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
