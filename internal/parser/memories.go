package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"novel-engine/shared/models"
)

// ExtractedMemory - факт, выделенный моделью из текста главы.
type ExtractedMemory struct {
	Content    string
	MemoryType models.MemoryType
	Importance models.Importance
	Tags       []string
}

// ParseMemories разбирает ответ на промпт извлечения памяти.
// Пустые записи пропускаются; неизвестный тип становится plot, неизвестная важность - medium.
func ParseMemories(raw string) ([]ExtractedMemory, error) {
	obj, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var wire wireMemories
	if err := json.Unmarshal(obj, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode memories: %w", err)
	}

	out := make([]ExtractedMemory, 0, len(wire.Memories))
	for _, w := range wire.Memories {
		content := strings.TrimSpace(string(w.Content))
		if content == "" {
			continue
		}
		typ := models.MemoryType(strings.ToLower(string(w.MemoryType)))
		if typ == "" {
			typ = models.MemoryType(strings.ToLower(string(w.Type)))
		}
		if !typ.IsValid() {
			typ = models.MemoryPlot
		}
		out = append(out, ExtractedMemory{
			Content:    content,
			MemoryType: typ,
			Importance: parseImportance(w.Importance),
			Tags:       []string(w.Tags),
		})
	}
	return out, nil
}

// parseImportance принимает имя уровня, долю 0-1 или порядковый номер 2-4.
func parseImportance(raw json.RawMessage) models.Importance {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return models.DefaultImportance
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return models.DefaultImportance
		}
		if imp, err := models.ParseImportance(s); err == nil {
			return imp
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return models.DefaultImportance
		}
		return importanceFromNumber(v)
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return models.DefaultImportance
	}
	return importanceFromNumber(v)
}

func importanceFromNumber(v float64) models.Importance {
	switch {
	case v >= 0 && v < 0.25:
		return models.ImportanceLow
	case v >= 0.25 && v < 0.5:
		return models.ImportanceMedium
	case v >= 0.5 && v < 0.75:
		return models.ImportanceHigh
	case v >= 0.75 && v <= 1:
		return models.ImportanceCritical
	case v == math.Trunc(v) && v <= 4:
		return models.Importance(int(v))
	default:
		return models.DefaultImportance
	}
}
