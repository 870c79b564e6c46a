// Package llm implements the extraction adapter over an OpenAI-compatible
// chat completions endpoint.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/quay/zlog"
	openai "github.com/sashabaranov/go-openai"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/edusentry/edusentry"
	"github.com/edusentry/edusentry/enricher"
)

const name = `llm`

var _ enricher.Extractor = (*Extractor)(nil)

// Config configures the endpoint and the retry budget.
type Config struct {
	// BaseURL points at an OpenAI-compatible API root. Empty uses the
	// public endpoint.
	BaseURL string `json:"base_url" yaml:"base_url"`
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	// TokenBudget bounds how much article text rides in the prompt.
	TokenBudget int `json:"token_budget" yaml:"token_budget"`
	// MaxRetries bounds attempts per incident for transient and
	// parse/validation failures.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// Defaults.
const (
	DefaultModel       = openai.GPT4oMini
	DefaultTokenBudget = 12000
	DefaultMaxRetries  = 3
	defaultBackoff     = 2 * time.Second
)

// Extractor calls the configured model once per incident, strictly
// sequentially, and standardizes its JSON response into an enricher.Result.
type Extractor struct {
	c       *openai.Client
	model   string
	budget  int
	retries int
	backoff time.Duration
	// breaker trips on rate-limit responses so a halted run stops dialing
	// the endpoint at all.
	breaker *gobreaker.CircuitBreaker[*enricher.Result]
}

// Option adjusts an Extractor.
type Option func(*Extractor)

// WithBackoff overrides the base backoff between retries.
func WithBackoff(d time.Duration) Option {
	return func(e *Extractor) { e.backoff = d }
}

// New returns an Extractor for the configured endpoint.
func New(ctx context.Context, cfg Config, opts ...Option) (*Extractor, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: no api key configured")
	}
	cc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	e := &Extractor{
		c:       openai.NewClientWithConfig(cc),
		model:   cfg.Model,
		budget:  cfg.TokenBudget,
		retries: cfg.MaxRetries,
		backoff: defaultBackoff,
	}
	if e.model == "" {
		e.model = DefaultModel
	}
	if e.budget == 0 {
		e.budget = DefaultTokenBudget
	}
	if e.retries == 0 {
		e.retries = DefaultMaxRetries
	}
	for _, o := range opts {
		o(e)
	}
	e.breaker = gobreaker.NewCircuitBreaker[*enricher.Result](gobreaker.Settings{
		Name: name,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(n string, from, to gobreaker.State) {
			zlog.Info(ctx).
				Str("breaker", n).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("extraction breaker state change")
		},
	})
	zlog.Debug(ctx).
		Str("model", e.model).
		Int("token_budget", e.budget).
		Msg("extraction adapter configured")
	return e, nil
}

// Name implements enricher.Extractor.
func (*Extractor) Name() string { return name }

// Extract implements enricher.Extractor.
//
// Transient and parse failures are retried with exponential backoff up to
// the configured budget; a rate-limit response short-circuits everything as
// enricher.ErrRateLimited.
func (e *Extractor) Extract(ctx context.Context, inc *edusentry.Incident, articles []*edusentry.Article) (*enricher.Result, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "enricher/llm/Extractor.Extract",
		"incident", inc.ID,
	)
	usable := usableArticles(articles)
	if len(usable) == 0 {
		return nil, fmt.Errorf("incident has no fetched articles: %w", enricher.ErrExtractionFailed)
	}
	prompt := buildPrompt(inc, usable, e.budget)

	res, err := e.breaker.Execute(func() (*enricher.Result, error) {
		return e.extractOnce(ctx, prompt, usable)
	})
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, &edusentry.Error{
			Op:    "llm/extract",
			Kind:  edusentry.ErrRateLimit,
			Inner: fmt.Errorf("extraction breaker open: %w", enricher.ErrRateLimited),
		}
	default:
		return nil, err
	}
}

func (e *Extractor) extractOnce(ctx context.Context, prompt string, articles []*edusentry.Article) (*enricher.Result, error) {
	var last error
	for attempt := 0; attempt < e.retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, e.backoff<<(attempt-1)); err != nil {
				return nil, err
			}
		}
		resp, err := e.c.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: e.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if err != nil {
			if isRateLimit(err) {
				return nil, &edusentry.Error{
					Op:    "llm/extract",
					Kind:  edusentry.ErrRateLimit,
					Inner: fmt.Errorf("endpoint refused: %w", enricher.ErrRateLimited),
				}
			}
			last = err
			zlog.Warn(ctx).
				Err(err).
				Int("attempt", attempt).
				Msg("extraction request failed")
			continue
		}
		if len(resp.Choices) == 0 {
			last = errors.New("response carries no choices")
			continue
		}
		res, err := parseResult(resp.Choices[0].Message.Content, articles)
		if err != nil {
			last = err
			zlog.Warn(ctx).
				Err(err).
				Int("attempt", attempt).
				Msg("extraction response rejected")
			continue
		}
		return res, nil
	}
	return nil, &edusentry.Error{
		Op:    "llm/extract",
		Kind:  edusentry.ErrTransient,
		Inner: fmt.Errorf("%w: %v", enricher.ErrExtractionFailed, last),
	}
}

// parseResult decodes and validates one model response. Responses wrapped in
// markdown fences are unwrapped first.
func parseResult(content string, articles []*edusentry.Article) (*enricher.Result, error) {
	content = cleanJSON(content)
	var res enricher.Result
	dec := json.NewDecoder(strings.NewReader(content))
	if err := dec.Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if err := res.Validate(articles); err != nil {
		return nil, fmt.Errorf("response failed validation: %w", err)
	}
	return &res, nil
}

// cleanJSON strips the ```json fences some models insist on.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}

func isRateLimit(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return true
		}
		if strings.Contains(apiErr.Type, "rate_limit") {
			return true
		}
	}
	return false
}

func usableArticles(articles []*edusentry.Article) []*edusentry.Article {
	out := make([]*edusentry.Article, 0, len(articles))
	for _, a := range articles {
		if a.FetchSuccessful && a.Body != "" {
			out = append(out, a)
		}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
