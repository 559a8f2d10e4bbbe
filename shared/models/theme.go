package models

import (
	"fmt"
	"strings"
)

// Theme - жанр истории, определяет шаблоны промптов и fallback-тексты.
type Theme string

const (
	ThemeCultivation Theme = "修仙"
	ThemeSciFi       Theme = "科幻"
	ThemeUrban       Theme = "都市"
	ThemeRomance     Theme = "言情"
	ThemeWuxia       Theme = "武侠"
	ThemeFantasy     Theme = "奇幻"
	ThemeMystery     Theme = "悬疑"
	ThemeHistorical  Theme = "历史"
)

// AllThemes возвращает все поддерживаемые темы в фиксированном порядке.
func AllThemes() []Theme {
	return []Theme{
		ThemeCultivation,
		ThemeSciFi,
		ThemeUrban,
		ThemeRomance,
		ThemeWuxia,
		ThemeFantasy,
		ThemeMystery,
		ThemeHistorical,
	}
}

var themeAliases = map[string]Theme{
	"cultivation":  ThemeCultivation,
	"xianxia":      ThemeCultivation,
	"scifi":        ThemeSciFi,
	"sci-fi":       ThemeSciFi,
	"urban":        ThemeUrban,
	"romance":      ThemeRomance,
	"wuxia":        ThemeWuxia,
	"martial_arts": ThemeWuxia,
	"martial-arts": ThemeWuxia,
	"fantasy":      ThemeFantasy,
	"mystery":      ThemeMystery,
	"historical":   ThemeHistorical,
}

// IsValid проверяет, что тема входит в перечисление.
func (t Theme) IsValid() bool {
	for _, known := range AllThemes() {
		if t == known {
			return true
		}
	}
	return false
}

func (t Theme) String() string {
	return string(t)
}

// ParseTheme принимает китайское значение темы или английский алиас.
func ParseTheme(s string) (Theme, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrMissingTheme
	}
	if t := Theme(s); t.IsValid() {
		return t, nil
	}
	if t, ok := themeAliases[strings.ToLower(s)]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: '%s'", ErrInvalidTheme, s)
}

// ValidateTheme возвращает ошибку контракта для пустой или неизвестной темы.
func ValidateTheme(t Theme) error {
	if t == "" {
		return ErrMissingTheme
	}
	if !t.IsValid() {
		return fmt.Errorf("%w: '%s'", ErrInvalidTheme, t)
	}
	return nil
}
