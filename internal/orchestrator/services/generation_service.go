// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/noldarim/edumesh/internal/config"
	"github.com/noldarim/edumesh/internal/logger"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

var (
	llmLog     *zerolog.Logger
	llmLogOnce sync.Once
)

func getLLMLog() *zerolog.Logger {
	llmLogOnce.Do(func() {
		l := logger.GetLLMLogger()
		llmLog = &l
	})
	return llmLog
}

// GenerationService talks to an OpenAI-compatible chat completion endpoint
// (Ollama exposes one under /v1).
type GenerationService struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int64
	timeout     time.Duration
}

// NewGenerationService builds a client from the LLM configuration.
func NewGenerationService(cfg config.LLMConfig) *GenerationService {
	opts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(2),
	}

	return &GenerationService{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
	}
}

// Generate returns the model's reply to prompt.
func (g *GenerationService) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       openai.ChatModel(g.model),
		Temperature: openai.Float(g.temperature),
	}
	if g.maxTokens > 0 {
		params.MaxTokens = openai.Int(g.maxTokens)
	}

	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		getLLMLog().Error().Err(err).Str("model", g.model).Msg("Chat completion failed")
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: model %s returned no choices", ErrGeneration, g.model)
	}

	text := stripThinking(resp.Choices[0].Message.Content)
	getLLMLog().Debug().
		Str("model", g.model).
		Dur("elapsed", time.Since(start)).
		Int("chars", len(text)).
		Msg("Chat completion finished")
	return text, nil
}

// HealthCheck verifies the endpoint answers a model listing.
func (g *GenerationService) HealthCheck(ctx context.Context) error {
	if _, err := g.client.Models.List(ctx); err != nil {
		return fmt.Errorf("%w: health check: %v", ErrGeneration, err)
	}
	return nil
}

// stripThinking drops the <think>...</think> preamble reasoning models emit.
func stripThinking(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start < 0 {
			break
		}
		end := strings.Index(s[start:], "</think>")
		if end < 0 {
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}

var _ Generator = (*GenerationService)(nil)
