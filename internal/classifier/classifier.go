// Package classifier asks an OpenAI-compatible chat completions endpoint
// whether a posting is relevant and parses the structured verdict.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobharvest/internal/crawler"
)

// Defaults for Config.
const (
	DefaultEndpoint       = "https://api.openai.com/v1/chat/completions"
	DefaultModel          = "gpt-4o-mini"
	DefaultDescriptionCap = 500
	DefaultSystemPrompt   = "You are a strict tech recruiter looking for junior and entry-level software roles."
)

const userPromptTemplate = `Role: %s
Description context: %s

Decide whether this is a junior role suitable for a graduate or someone with 0-3 years of experience.
Ignore "Senior" in the title if the description asks for 0-2 years. Reject roles that require 4+ years.
Reply with a JSON object with the keys is_relevant (bool), years_required (int, 0 when none is
mentioned), tech_stack (list of strings) and reason (one short sentence).`

// ErrNoAPIKey is returned by New when no key is configured.
var ErrNoAPIKey = errors.New("classifier api key is required")

// Config selects the model endpoint.
type Config struct {
	Endpoint     string
	APIKey       string
	Model        string
	SystemPrompt string
	// DescriptionCap truncates the description sent to the model.
	DescriptionCap int
}

// Client classifies postings.
type Client struct {
	http   *http.Client
	cfg    Config
	logger *zap.Logger
}

// New builds a Client. A nil httpClient uses a 30s timeout client.
func New(httpClient *http.Client, cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.DescriptionCap <= 0 {
		cfg.DescriptionCap = DefaultDescriptionCap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{http: httpClient, cfg: cfg, logger: logger.Named("classifier")}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
	Temperature    float64        `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Classify returns the model's verdict for one posting. An error means no
// verdict was reached; callers keep the job pending rather than rejecting
// it.
func (c *Client) Classify(ctx context.Context, title, description string) (crawler.Classification, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: c.cfg.SystemPrompt},
			{Role: "user", Content: fmt.Sprintf(userPromptTemplate, title, truncate(description, c.cfg.DescriptionCap))},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return crawler.Classification{}, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return crawler.Classification{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return crawler.Classification{}, fmt.Errorf("call model: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return crawler.Classification{}, fmt.Errorf("read response: %w", err)
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return crawler.Classification{}, fmt.Errorf("decode chat response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 {
		msg := http.StatusText(resp.StatusCode)
		if cr.Error != nil && cr.Error.Message != "" {
			msg = cr.Error.Message
		}
		return crawler.Classification{}, fmt.Errorf("model returned %d: %s", resp.StatusCode, msg)
	}
	if len(cr.Choices) == 0 {
		return crawler.Classification{}, errors.New("no choices in chat response")
	}
	return parseVerdict(cr.Choices[0].Message.Content)
}

// parseVerdict decodes the JSON object in content. Models sometimes wrap it
// in a fenced code block.
func parseVerdict(content string) (crawler.Classification, error) {
	content = strings.TrimSpace(content)
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		content = content[start : end+1]
	}
	var verdict struct {
		crawler.Classification
		IsJunior *bool `json:"is_junior"`
	}
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		return crawler.Classification{}, fmt.Errorf("decode verdict: %w", err)
	}
	out := verdict.Classification
	if verdict.IsJunior != nil && !strings.Contains(content, `"is_relevant"`) {
		out.Relevant = *verdict.IsJunior
	}
	return out, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
