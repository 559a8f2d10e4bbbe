package pipeline

import (
	"time"

	"novel-engine/internal/config"
)

// Settings - параметры оркестратора.
type Settings struct {
	ProviderTimeout    time.Duration // Таймаут одного вызова провайдера
	MaxTokens          int           // Лимит токенов для глав и финала
	Temperature        float64       // Температура творческих стадий
	ContextMemoryItems int           // Сколько воспоминаний сжимать в сводку для главы
	RecallResults      int           // Сколько найденных воспоминаний добавлять в промпт главы
	KeepCount          int           // Сколько активных воспоминаний оставлять после главы
}

// SettingsFromConfig берет параметры из конфигурации воркера.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		ProviderTimeout:    cfg.AITimeout,
		MaxTokens:          cfg.AIMaxTokens,
		Temperature:        cfg.AITemperature,
		ContextMemoryItems: cfg.ContextMemoryItems,
		RecallResults:      cfg.MaxSearchResults,
		KeepCount:          cfg.MemoryKeepCount,
	}
}

func (s Settings) withDefaults() Settings {
	if s.ProviderTimeout <= 0 {
		s.ProviderTimeout = 30 * time.Second
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = 4000
	}
	if s.Temperature <= 0 {
		s.Temperature = 0.8
	}
	if s.ContextMemoryItems <= 0 {
		s.ContextMemoryItems = 10
	}
	if s.RecallResults <= 0 {
		s.RecallResults = 5
	}
	if s.KeepCount <= 0 {
		s.KeepCount = 100
	}
	return s
}
