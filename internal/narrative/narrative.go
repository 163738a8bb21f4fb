// Package narrative turns correlation results into a short plain-language
// summary using OpenAI's chat API.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lox/gridweather/internal/models"
)

const systemPrompt = `You are an energy market analyst. You are given Pearson correlation
matrices between hourly settlement prices and weather variables for ERCOT load zones.
Write a short summary (at most 150 words) in plain English. Mention the strongest
price/weather relationship per zone, call out zones with insufficient data, and do not
speculate beyond the numbers given.`

// Summarizer writes a summary of correlation results.
type Summarizer interface {
	Summarize(ctx context.Context, results []models.CorrelationResult) (string, error)
}

type Generator struct {
	client openai.Client
	model  openai.ChatModel
}

// NewGenerator creates a summarizer using apiKey and model.
func NewGenerator(apiKey, model string, opts ...option.RequestOption) (*Generator, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Generator{
		client: openai.NewClient(opts...),
		model:  openai.ChatModel(model),
	}, nil
}

func (g *Generator) Summarize(ctx context.Context, results []models.CorrelationResult) (string, error) {
	prompt := BuildPrompt(results)
	log.Printf("narrative: summarizing %d zones with %s", len(results), g.model)

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion returned")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty completion returned")
	}
	return text, nil
}

// BuildPrompt renders correlation results as compact text tables.
func BuildPrompt(results []models.CorrelationResult) string {
	var b strings.Builder
	for _, res := range results {
		fmt.Fprintf(&b, "Zone %s (%d complete hourly rows)\n", res.ZoneID, res.Rows)
		if res.Insufficient {
			b.WriteString("  insufficient data for correlation\n\n")
			continue
		}
		b.WriteString("  ")
		for _, f := range models.Fields {
			fmt.Fprintf(&b, "%18s", f.String())
		}
		b.WriteString("\n")
		for i, fi := range models.Fields {
			fmt.Fprintf(&b, "  %-16s", fi.String())
			for j := range models.Fields {
				v := res.Matrix[i][j]
				if math.IsNaN(v) {
					fmt.Fprintf(&b, "%18s", "n/a")
				} else {
					fmt.Fprintf(&b, "%18.3f", v)
				}
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}
