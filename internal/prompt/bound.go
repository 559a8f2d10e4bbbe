package prompt

import (
	"sort"
	"strings"
	"unicode/utf8"

	"novel-engine/shared/utils"
)

type trimMode int

const (
	trimNone trimMode = iota
	// trimOldest отбрасывает элементы с начала списка (самые старые).
	trimOldest
	// trimNewest отбрасывает элементы с конца списка (наименее релевантные).
	trimNewest
	// trimSentences укорачивает текст целыми предложениями.
	trimSentences
)

// section - фрагмент промпта. Секции с меньшим priority урезаются первыми.
type section struct {
	heading  string
	body     string
	items    []string
	trim     trimMode
	priority int
}

func (s section) empty() bool {
	return strings.TrimSpace(s.body) == "" && len(s.items) == 0
}

func render(secs []section) string {
	var sb strings.Builder
	for _, s := range secs {
		if s.empty() {
			continue
		}
		if s.heading != "" {
			sb.WriteString("【")
			sb.WriteString(s.heading)
			sb.WriteString("】\n")
		}
		if s.body != "" {
			sb.WriteString(strings.TrimRight(s.body, "\n"))
			sb.WriteString("\n")
		}
		for _, item := range s.items {
			sb.WriteString(item)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// fit урезает секции, пока промпт не уложится в limit рун.
// Обязательные секции (trimNone) не трогаются.
func fit(secs []section, limit int) string {
	out := render(secs)
	if limit <= 0 || runeLen(out) <= limit {
		return out
	}

	order := make([]int, 0, len(secs))
	for i, s := range secs {
		if s.trim != trimNone {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return secs[order[a]].priority < secs[order[b]].priority
	})

	for _, i := range order {
		s := &secs[i]
		switch s.trim {
		case trimOldest:
			for len(s.items) > 0 && runeLen(out) > limit {
				s.items = s.items[1:]
				out = render(secs)
			}
		case trimNewest:
			for len(s.items) > 0 && runeLen(out) > limit {
				s.items = s.items[:len(s.items)-1]
				out = render(secs)
			}
		case trimSentences:
			over := runeLen(out) - limit
			s.body = CutAtSentence(s.body, runeLen(s.body)-over)
			out = render(secs)
		}
		if runeLen(out) <= limit {
			break
		}
	}
	return out
}

// CutAtSentence укорачивает text до limit рун целыми предложениями.
func CutAtSentence(text string, limit int) string {
	return utils.CutAtSentence(text, limit)
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
