package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// Models whose serving stack rejects frequency/presence penalty options.
// Requests to these models are sent without penalties instead of failing.
var modelsWithoutPenalties = []string{
	"gemini-2.0-flash-thinking",
	"gemini-2.5-pro",
	"gemini-2.5-flash",
}

// Options configures a Gemini engine. Zero retry fields take defaults.
type Options struct {
	Model            string
	APIKey           string
	Temperature      float32
	TopP             float32
	MaxOutputTokens  int32
	FrequencyPenalty float32
	PresencePenalty  float32

	MaxAttempts    int           // default 5
	RetryDelay     time.Duration // default 5s
	RateLimitDelay time.Duration // default 10s
}

// Gemini is an Engine backed by the google.golang.org/genai client.
type Gemini struct {
	client *genai.Client
	opts   Options
}

// NewGemini connects a Gemini engine.
func NewGemini(ctx context.Context, opts Options) (*Gemini, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("gemini engine: model name is required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.RateLimitDelay <= 0 {
		opts.RateLimitDelay = 10 * time.Second
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: opts.APIKey})
	if err != nil {
		return nil, fmt.Errorf("gemini engine: create client: %w", err)
	}
	return &Gemini{client: client, opts: opts}, nil
}

// ModelName returns the configured model identifier.
func (g *Gemini) ModelName() string {
	return g.opts.Model
}

// Chat sends the conversation and returns the reply text plus token usage.
// Transient failures are retried with a linear backoff; rate-limit responses
// wait longer between attempts.
func (g *Gemini) Chat(ctx context.Context, messages []Message) (string, Usage, error) {
	contents, cfg := g.buildRequest(messages)

	var lastErr error
	for attempt := 1; attempt <= g.opts.MaxAttempts; attempt++ {
		resp, err := g.client.Models.GenerateContent(ctx, g.opts.Model, contents, cfg)
		if err == nil {
			text := resp.Text()
			if text == "" {
				lastErr = fmt.Errorf("empty response from model %s", g.opts.Model)
			} else {
				return text, usageFrom(resp), nil
			}
		} else {
			lastErr = err
		}

		if attempt == g.opts.MaxAttempts {
			break
		}
		delay := g.opts.RetryDelay
		if isRateLimited(lastErr) {
			delay = g.opts.RateLimitDelay
		}
		log.Warnf("[GATEWAY_RETRY] model=%s attempt=%d/%d delay=%s err=%v",
			g.opts.Model, attempt, g.opts.MaxAttempts, delay, lastErr)
		select {
		case <-ctx.Done():
			return "", Usage{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", Usage{}, fmt.Errorf("%w: model %s after %d attempts: %v",
		ErrRetriesExhausted, g.opts.Model, g.opts.MaxAttempts, lastErr)
}

func (g *Gemini) buildRequest(messages []Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{}
	if g.opts.Temperature != 0 {
		cfg.Temperature = genai.Ptr(g.opts.Temperature)
	}
	if g.opts.TopP != 0 {
		cfg.TopP = genai.Ptr(g.opts.TopP)
	}
	if g.opts.MaxOutputTokens != 0 {
		cfg.MaxOutputTokens = g.opts.MaxOutputTokens
	}
	if supportsPenalties(g.opts.Model) {
		if g.opts.FrequencyPenalty != 0 {
			cfg.FrequencyPenalty = genai.Ptr(g.opts.FrequencyPenalty)
		}
		if g.opts.PresencePenalty != 0 {
			cfg.PresencePenalty = genai.Ptr(g.opts.PresencePenalty)
		}
	}

	var system []string
	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	return contents, cfg
}

func usageFrom(resp *genai.GenerateContentResponse) Usage {
	if resp.UsageMetadata == nil {
		return Usage{}
	}
	return Usage{
		InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
	}
}

func supportsPenalties(model string) bool {
	for _, m := range modelsWithoutPenalties {
		if strings.HasPrefix(model, m) {
			return false
		}
	}
	return true
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}
