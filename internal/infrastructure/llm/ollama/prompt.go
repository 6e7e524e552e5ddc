package ollama

import (
	"strings"
	"unicode/utf8"
)

const maxEmbedRunes = 8000

const ocrPrompt = `Transcribe all text visible in this scanned page.
Keep the reading order and line breaks.
Return only the transcribed text, no commentary and no markdown.
If the page has no text, return an empty response.`

// cleanTranscript strips the markdown fences some vision models wrap around
// their output.
func cleanTranscript(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if nl := strings.IndexByte(text, '\n'); nl >= 0 && !strings.Contains(text[:nl], " ") {
			text = text[nl+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return strings.TrimSpace(text)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
