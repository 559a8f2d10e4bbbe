package provider

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter оценивает число токенов в тексте.
type TokenCounter interface {
	Count(text string) int
}

// tiktokenCounter лениво загружает кодировку модели.
// Если модель неизвестна tiktoken, используется cl100k_base, а при ошибке загрузки - оценка по рунам.
type tiktokenCounter struct {
	model string
	once  sync.Once
	enc   *tiktoken.Tiktoken
}

// NewTiktokenCounter создает счетчик токенов для модели.
func NewTiktokenCounter(model string) TokenCounter {
	return &tiktokenCounter{model: model}
}

func (c *tiktokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(c.model)
		if err != nil {
			enc, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		}
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return RuneEstimate{}.Count(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// RuneEstimate - грубая оценка без словаря: примерно токен на руну для CJK и на 4 байта для латиницы.
type RuneEstimate struct{}

func (RuneEstimate) Count(text string) int {
	runes := utf8.RuneCountInString(text)
	ascii := 0
	for i := 0; i < len(text); i++ {
		if text[i] < utf8.RuneSelf {
			ascii++
		}
	}
	return (runes - ascii) + (ascii+3)/4
}
