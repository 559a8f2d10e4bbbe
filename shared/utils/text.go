package utils

import (
	"strings"
	"unicode/utf8"
)

func isSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '.', '!', '?', '\n':
		return true
	default:
		return false
	}
}

// CutAtSentence возвращает самый длинный префикс text не длиннее limit рун,
// заканчивающийся на границе предложения. Если не помещается ни одно предложение, возвращает "".
func CutAtSentence(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	if limit <= 0 {
		return ""
	}
	cut, n := 0, 0
	for i, r := range text {
		n++
		if n > limit {
			break
		}
		if isSentenceEnd(r) {
			cut = i + utf8.RuneLen(r)
		}
	}
	return strings.TrimRight(text[:cut], "\n")
}
