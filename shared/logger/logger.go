package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config описывает параметры логгера сервиса.
type Config struct {
	Level       string // Минимальный уровень: debug, info, warn, error
	Encoding    string // json (по умолчанию) или console для локальной отладки
	OutputPath  string // Файл для логов; пусто - stdout
	ServiceName string // Значение поля service во всех записях; пусто - поле не добавляется
}

// New собирает zap.Logger по Config.
// Некорректный уровень не считается ошибкой: логгер стартует с info и сообщает об этом в stderr.
func New(cfg Config) (*zap.Logger, error) {
	// Уровень
	level := zap.NewAtomicLevel()
	logLevel := strings.ToLower(cfg.Level)
	if logLevel == "" {
		logLevel = "info"
	}
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		// Логгера еще нет, поэтому пишем напрямую в stderr
		fmt.Fprintf(os.Stderr, "Invalid log level '%s', using 'info'. Error: %v\n", cfg.Level, err)
		level.SetLevel(zap.InfoLevel)
	}

	// Формат записей: время в ISO8601, уровни заглавными (INFO, WARN)
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	encoding := strings.ToLower(cfg.Encoding)
	if encoding != "console" && encoding != "json" {
		encoding = "json" // По умолчанию
	}

	outputPath := cfg.OutputPath
	if outputPath == "" {
		outputPath = "stdout"
	}

	zapConfig := zap.Config{
		Level:             level,
		DisableCaller:     true, // Без файла и строки вызова
		DisableStacktrace: true, // Стектрейсы выключены и для ошибок
		Encoding:          encoding,
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{outputPath},
		ErrorOutputPaths:  []string{"stderr"}, // Ошибки самого zap
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	if cfg.ServiceName != "" {
		logger = logger.With(zap.String("service", cfg.ServiceName))
	}
	return logger, nil
}

// Truncate укорачивает текст ответа модели для логов.
// Режет по рунам, чтобы не ломать китайский текст посередине символа.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
