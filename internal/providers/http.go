package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProvider is a generic HTTP-backed chat adapter. Real backends
// (OpenAI-, Anthropic-, or Gemini-shaped APIs) differ only in endpoint,
// auth header, and request/response field names, so one struct with a
// pluggable codec covers the whole closed set named in §9.
type HTTPProvider struct {
	ProviderName string
	Model        string
	Endpoint     string
	APIKey       string
	CostPerToken float64
	Client       *http.Client
	Encode       func(req Request) ([]byte, error)
	Decode       func(body []byte) (Response, error)
}

// NewHTTPProvider builds an adapter, defaulting Client to a 30s-timeout
// client if none is supplied.
func NewHTTPProvider(name, model, endpoint, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		ProviderName: name,
		Model:        model,
		Endpoint:     endpoint,
		APIKey:       apiKey,
		Client:       &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *HTTPProvider) Name() string { return p.ProviderName }

// CostPerRequest is a placeholder nominal value used for cost-ascending
// fallback ordering before any real response is observed; actual cost
// comes back in Response.CostUSD.
func (p *HTTPProvider) CostPerRequest() float64 { return p.CostPerToken * 1000 }

// Available reports whether this provider has a usable API key. Per
// §6.7, absence of a key disables the provider without a hard error;
// callers should skip registering a provider for which this is false.
func (p *HTTPProvider) Available() bool { return p.APIKey != "" }

// Chat posts req to Endpoint and decodes the reply. If Encode/Decode
// are nil, a minimal OpenAI-compatible JSON shape is used.
func (p *HTTPProvider) Chat(ctx context.Context, req Request) (Response, error) {
	started := time.Now()

	encode := p.Encode
	if encode == nil {
		encode = p.defaultEncode
	}
	decode := p.Decode
	if decode == nil {
		decode = p.defaultDecode
	}

	body, err := encode(req)
	if err != nil {
		return Response{}, &Failure{Kind: FailureInvalid, Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, &Failure{Kind: FailureInvalid, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, &Failure{Kind: FailureCancelled, Message: ctx.Err().Error()}
		}
		return Response{}, &Failure{Kind: FailureUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &Failure{Kind: FailureUnavailable, Message: err.Error()}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return Response{}, &Failure{Kind: FailureRateLimited, Message: string(respBody)}
	}
	if resp.StatusCode >= 500 {
		return Response{}, &Failure{Kind: FailureUnavailable, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, respBody)}
	}
	if resp.StatusCode >= 400 {
		return Response{}, &Failure{Kind: FailureInvalid, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, respBody)}
	}

	out, err := decode(respBody)
	if err != nil {
		return Response{}, &Failure{Kind: FailureInvalid, Message: err.Error()}
	}
	out.Provider = p.ProviderName
	out.LatencyS = time.Since(started).Seconds()
	return out, nil
}

type openAIChatRequest struct {
	Model       string    `json:"model"`
	Messages    []chatMsg `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Choices []struct {
		Message chatMsg `json:"message"`
	} `json:"choices"`
}

func (p *HTTPProvider) defaultEncode(req Request) ([]byte, error) {
	msgs := make([]chatMsg, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, chatMsg{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, chatMsg{Role: m.Role, Content: m.Content})
	}
	return json.Marshal(openAIChatRequest{Model: p.Model, Messages: msgs, Temperature: req.Temperature})
}

func (p *HTTPProvider) defaultDecode(body []byte) (Response, error) {
	var parsed openAIChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Response{}, err
	}
	var content string
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
	}
	return Response{
		Content:   content,
		Model:     parsed.Model,
		TokensIn:  parsed.Usage.PromptTokens,
		TokensOut: parsed.Usage.CompletionTokens,
		CostUSD:   float64(parsed.Usage.PromptTokens+parsed.Usage.CompletionTokens) * p.CostPerToken,
	}, nil
}
