package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Completer sends one prompt to a language model and returns its reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Providers accepted by NewLLM.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// LLM calls an OpenAI-compatible chat completions endpoint or the Anthropic
// messages endpoint.
type LLM struct {
	client   *http.Client
	provider string
	model    string
	apiKey   string
	baseURL  string
}

// NewLLM creates a model client. An empty model picks the provider default.
func NewLLM(provider, model, apiKey, baseURL string, timeout time.Duration) (*LLM, error) {
	switch provider {
	case ProviderOpenAI, "":
		provider = ProviderOpenAI
		if model == "" {
			model = "gpt-4o-mini"
		}
		if baseURL == "" {
			baseURL = "https://api.openai.com"
		}
	case ProviderAnthropic:
		if model == "" {
			model = "claude-sonnet-4-20250514"
		}
		if baseURL == "" {
			baseURL = "https://api.anthropic.com"
		}
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLM{
		client:   &http.Client{Timeout: timeout},
		provider: provider,
		model:    model,
		apiKey:   apiKey,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Complete implements Completer.
func (l *LLM) Complete(ctx context.Context, prompt string) (string, error) {
	if l.provider == ProviderAnthropic {
		return l.callAnthropic(ctx, prompt)
	}
	return l.callOpenAI(ctx, prompt)
}

func (l *LLM) callOpenAI(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model": l.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0,
	}
	headers := map[string]string{"Authorization": "Bearer " + l.apiKey}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := l.post(ctx, "/v1/chat/completions", headers, payload, &result); err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices returned")
	}
	return result.Choices[0].Message.Content, nil
}

func (l *LLM) callAnthropic(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model":      l.model,
		"max_tokens": 2048,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	headers := map[string]string{
		"x-api-key":         l.apiKey,
		"anthropic-version": "2023-06-01",
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := l.post(ctx, "/v1/messages", headers, payload, &result); err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("anthropic: no content returned")
	}
	return result.Content[0].Text, nil
}

func (l *LLM) post(ctx context.Context, path string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp map[string]any
		json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("status %d: %v", resp.StatusCode, errResp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
