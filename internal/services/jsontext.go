package services

import (
	"regexp"
	"strings"
)

var (
	closedFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	openFenceRe   = regexp.MustCompile("(?s)```(?:json)?\\s*(.*)")
)

// stripCodeFences unwraps a ```json block around model output. A fence
// left open by a truncated response is handled too.
func stripCodeFences(text string) string {
	if m := closedFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := openFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// truncateRunes cuts s to at most n characters without splitting a rune.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
