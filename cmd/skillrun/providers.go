package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/skillrun/skillrun/internal/llm"
)

// chatProvider talks to an OpenAI-compatible chat completions endpoint.
// Endpoint and key come from SKILLRUN_API_BASE / SKILLRUN_API_KEY.
type chatProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func newProvider() (*chatProvider, error) {
	base := os.Getenv("SKILLRUN_API_BASE")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	key := os.Getenv("SKILLRUN_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("SKILLRUN_API_KEY is not set (put it in the environment or a .env file)")
	}
	return &chatProvider{
		baseURL: base,
		apiKey:  key,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *chatProvider) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload := chatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
	}
	if req.System != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model endpoint unreachable: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("reading model response: %w", err)
	}

	var decoded chatResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("undecodable model response (status %d): %w", httpResp.StatusCode, err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("model endpoint error: %s", decoded.Error.Message)
	}
	if httpResp.StatusCode != http.StatusOK || len(decoded.Choices) == 0 {
		return nil, fmt.Errorf("model endpoint returned status %d with no choices", httpResp.StatusCode)
	}

	return &llm.Response{
		Content:      decoded.Choices[0].Message.Content,
		Model:        decoded.Model,
		InputTokens:  decoded.Usage.PromptTokens,
		OutputTokens: decoded.Usage.CompletionTokens,
	}, nil
}
