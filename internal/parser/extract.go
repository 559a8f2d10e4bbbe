package parser

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrNoJSONObject - в ответе не найден корректный JSON-объект.
	ErrNoJSONObject = errors.New("no json object in output")
	// ErrOutputTooLong - ответ длиннее допустимого.
	ErrOutputTooLong = errors.New("output exceeds size limit")
	// ErrMissingFields - в объекте нет обязательных полей стадии.
	ErrMissingFields = errors.New("required fields missing")
)

const fence = "```"

// ExtractJSON находит первый корректный JSON-объект в ответе модели.
// Сначала проверяются блоки ```json, затем любые {...} с учетом строк и экранирования.
func ExtractJSON(raw string) ([]byte, error) {
	for _, block := range fencedBlocks(raw) {
		block = strings.TrimSpace(block)
		if strings.HasPrefix(block, "{") && json.Valid([]byte(block)) {
			return []byte(block), nil
		}
		if obj, ok := scanObject(block); ok {
			return obj, nil
		}
	}
	if obj, ok := scanObject(raw); ok {
		return obj, nil
	}
	return nil, ErrNoJSONObject
}

// fencedBlocks возвращает содержимое блоков кода; блоки с меткой json идут первыми.
func fencedBlocks(raw string) []string {
	var tagged, other []string
	rest := raw
	for {
		start := strings.Index(rest, fence)
		if start < 0 {
			break
		}
		rest = rest[start+len(fence):]
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			break
		}
		lang := strings.ToLower(strings.TrimSpace(rest[:nl]))
		body := rest[nl+1:]
		end := strings.Index(body, fence)
		if end < 0 {
			break
		}
		if lang == "json" {
			tagged = append(tagged, body[:end])
		} else {
			other = append(other, body[:end])
		}
		rest = body[end+len(fence):]
	}
	return append(tagged, other...)
}

// scanObject ищет первый сбалансированный по скобкам объект, который является валидным JSON.
func scanObject(s string) ([]byte, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end := matchBrace(s, start); end > 0 {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return []byte(candidate), true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

// matchBrace возвращает индекс закрывающей скобки для s[start] == '{' или -1.
func matchBrace(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
