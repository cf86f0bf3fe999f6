package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// perplexitySearch implements the realtime search surface over the
// Perplexity chat completions API, which is OpenAI-compatible.
type perplexitySearch struct {
	api   *openai.Client
	model string
}

func newPerplexitySearch(apiKey, model string) *perplexitySearch {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = "https://api.perplexity.ai"
	if model == "" {
		model = "sonar"
	}
	return &perplexitySearch{api: openai.NewClientWithConfig(cfg), model: model}
}

func (p *perplexitySearch) Search(ctx context.Context, query string, maxResults int) (string, error) {
	if maxResults < 1 {
		maxResults = 5
	}
	resp, err := p.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf("You are a realtime web search assistant. "+
					"Answer with up to %d concise, numbered findings with sources. "+
					"Only include current, verifiable information.", maxResults),
			},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
	})
	if err != nil {
		return "", fmt.Errorf("perplexity search: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("perplexity search: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// httpWallet talks to the wallet RPC sidecar over plain HTTP.
type httpWallet struct {
	baseURL string
	client  *http.Client
}

func newHTTPWallet(baseURL string) *httpWallet {
	return &httpWallet{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (w *httpWallet) Address(ctx context.Context) (string, error) {
	return w.get(ctx, "/address")
}

func (w *httpWallet) Balance(ctx context.Context) (string, error) {
	return w.get(ctx, "/balance")
}

func (w *httpWallet) get(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+path, nil)
	if err != nil {
		return "", err
	}
	return doText(w.client, req, "wallet")
}

// httpSocial talks to the social-network bridge over plain HTTP.
type httpSocial struct {
	baseURL string
	client  *http.Client
}

func newHTTPSocial(baseURL string) *httpSocial {
	return &httpSocial{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *httpSocial) Post(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/posts", strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	return doText(s.client, req, "social post")
}

func (s *httpSocial) Timeline(ctx context.Context, limit int) (string, error) {
	if limit < 1 {
		limit = 10
	}
	u := s.baseURL + "/timeline?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	return doText(s.client, req, "social timeline")
}

// httpBrowser talks to the headless-browser sidecar. Page renders are slow;
// the timeout matches the 120s bound on external process invocations.
type httpBrowser struct {
	baseURL string
	client  *http.Client
}

func newHTTPBrowser(baseURL string) *httpBrowser {
	return &httpBrowser{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (b *httpBrowser) Browse(ctx context.Context, pageURL string) (string, error) {
	body, err := json.Marshal(map[string]string{"url": pageURL})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/render", strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	return doText(b.client, req, "browser")
}

func doText(client *http.Client, req *http.Request, label string) (string, error) {
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", label, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%s: read response: %w", label, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: unexpected status %d: %s", label, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return strings.TrimSpace(string(data)), nil
}
