// Package llm is a thin client for the OpenAI-compatible surface exposed by
// the text-understanding, embedding and audio-understanding backends.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/earshot/internal/metrics"
)

// ErrPermanent marks failures that will not succeed on retry (4xx).
// ErrTransient marks network errors and 5xx/429 responses.
var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")
)

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewClient builds a client for the given base URL (e.g. http://host:8000/v1).
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 20 * time.Second},
	}
}

// observe records latency and failure for one backend call.
func observe(backend string, start time.Time, err *error) {
	metrics.Default.RecordRemoteCall(backend, *err, time.Since(start).Seconds())
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type ChatResponse struct {
	Content string
}

func (c *Client) do(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPermanent, err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode error: %v", ErrTransient, err)
		}
		return nil
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	}
	return fmt.Errorf("%w: status %d", ErrPermanent, resp.StatusCode)
}

// CreateChatCompletion issues a chat completion and returns the first
// choice's content.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatRequest) (_ ChatResponse, err error) {
	defer observe("chat", time.Now(), &err)
	if req.MaxTokens <= 0 {
		req.MaxTokens = 512
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.do(ctx, "/chat/completions", req, &out); err != nil {
		return ChatResponse{}, err
	}
	content := ""
	if len(out.Choices) > 0 {
		content = out.Choices[0].Message.Content
	}
	return ChatResponse{Content: content}, nil
}

// CreateEmbeddings returns one vector per input, in input order. The caller
// is responsible for honoring the backend's batch limit.
func (c *Client) CreateEmbeddings(ctx context.Context, model string, inputs []string) (_ [][]float64, err error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	defer observe("embeddings", time.Now(), &err)
	payload := map[string]interface{}{
		"model": model,
		"input": inputs,
	}
	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := c.do(ctx, "/embeddings", payload, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(inputs) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrTransient, len(out.Data), len(inputs))
	}
	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
	vectors := make([][]float64, len(inputs))
	for i, d := range out.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// AudioResult is the one-shot answer of the audio-understanding backend.
type AudioResult struct {
	Transcript string   `json:"transcript"`
	Keywords   []string `json:"keywords"`
}

// ClassifyAudio posts a WAV clip and asks the multimodal backend whether any
// of the watched keywords (or close paraphrases) are spoken in it.
func (c *Client) ClassifyAudio(ctx context.Context, model string, keywords []string, wav []byte) (_ AudioResult, err error) {
	defer observe("audio", time.Now(), &err)
	q := url.Values{}
	if model != "" {
		q.Set("model", model)
	}
	q.Set("keywords", strings.Join(keywords, ","))
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/audio/classifications?"+q.Encode(), bytes.NewReader(wav))
	if err != nil {
		return AudioResult{}, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return AudioResult{}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return AudioResult{}, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return AudioResult{}, fmt.Errorf("%w: status %d", ErrPermanent, resp.StatusCode)
	}
	var out AudioResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return AudioResult{}, fmt.Errorf("%w: decode error: %v", ErrTransient, err)
	}
	return out, nil
}
