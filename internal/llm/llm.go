// Package llm is the boundary to the external text-generation capability.
// The game only depends on Generator; concrete backends live alongside it.
package llm

import (
	"context"
	"errors"
)

var ErrEmptyPrompt = errors.New("empty prompt")

type Request struct {
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
	// JSON asks the backend for structured output when it supports it.
	JSON bool
}

type Response struct {
	Text       string
	TokensUsed int
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Func adapts a plain function to Generator.
type Func func(ctx context.Context, req Request) (Response, error)

func (f Func) Generate(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
