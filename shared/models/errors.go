package models

import "errors"

// Ошибки контракта: вызывающий код нарушил порядок стадий или передал неверные данные.
// Локально не восстанавливаются и пробрасываются наверх как есть.
var (
	ErrInvalidTheme      = errors.New("invalid story theme")
	ErrMissingTheme      = errors.New("story theme is required")
	ErrInvalidStageOrder = errors.New("invalid stage order")
	ErrUnknownChoice     = errors.New("unknown choice id")
	ErrStoryEnded        = errors.New("story has already ended")
	ErrEmptyChoice       = errors.New("either choice id or custom action is required")
)

// Ошибки хранилища памяти
var (
	ErrNotFound          = errors.New("resource not found")
	ErrEmbeddingFailed   = errors.New("embedding generation failed")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrEmptyContent      = errors.New("memory content is empty")
	ErrMissingStoryID    = errors.New("story id is required")
)

// Ошибки провайдера генерации
var (
	ErrGenerationFailed = errors.New("text generation failed")
	ErrEmptyResponse    = errors.New("provider returned empty response")
)

var contractErrors = []error{
	ErrInvalidTheme,
	ErrMissingTheme,
	ErrInvalidStageOrder,
	ErrUnknownChoice,
	ErrStoryEnded,
	ErrEmptyChoice,
}

// IsContractError сообщает, является ли ошибка ошибкой контракта (категория "programming error").
func IsContractError(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range contractErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
