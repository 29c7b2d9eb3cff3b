package telegram

import "strings"

// chunkMessage splits text into pieces of at most maxLen bytes, preferring
// to cut after a newline in the second half of a piece.
func chunkMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > maxLen {
		cutAt := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return append(chunks, text)
}
