package mocks

import (
	"context"

	"novel-engine/internal/provider"

	"github.com/stretchr/testify/mock"
)

// MockGenerationProvider is a mock type for the GenerationProvider type
type MockGenerationProvider struct {
	mock.Mock
}

// Generate provides a mock function with given fields: ctx, prompt, maxTokens, temperature
func (_m *MockGenerationProvider) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	ret := _m.Called(ctx, prompt, maxTokens, temperature)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, string, int, float64) string); ok {
		r0 = rf(ctx, prompt, maxTokens, temperature)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(string)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string, int, float64) error); ok {
		r1 = rf(ctx, prompt, maxTokens, temperature)
	} else {
		err := ret.Error(1)
		if err != nil {
			r1 = err
		}
	}

	return r0, r1
}

// Embed provides a mock function with given fields: ctx, texts
func (_m *MockGenerationProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ret := _m.Called(ctx, texts)

	var r0 [][]float32
	if rf, ok := ret.Get(0).(func(context.Context, []string) [][]float32); ok {
		r0 = rf(ctx, texts)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([][]float32)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, []string) error); ok {
		r1 = rf(ctx, texts)
	} else {
		err := ret.Error(1)
		if err != nil {
			r1 = err
		}
	}

	return r0, r1
}

// NewMockGenerationProvider creates a new instance of MockGenerationProvider. It also registers a testing interface on the mock.
func NewMockGenerationProvider(t interface {
	mock.TestingT
	Helper()
}) *MockGenerationProvider {
	m := &MockGenerationProvider{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ provider.GenerationProvider = (*MockGenerationProvider)(nil)
