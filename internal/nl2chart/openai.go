package nl2chart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type OpenAITranslator struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewOpenAITranslator(cfg OpenAIConfig) (*OpenAITranslator, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-5"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAITranslator{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (t *OpenAITranslator) Translate(ctx context.Context, req Request) (Spec, error) {
	payload, err := buildChartPayload(t.model, t.temperature, req)
	if err != nil {
		return Spec{}, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Spec{}, fmt.Errorf("marshal chart payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Spec{}, fmt.Errorf("build chart request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return Spec{}, fmt.Errorf("request chart completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Spec{}, fmt.Errorf("read chart response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return Spec{}, fmt.Errorf("chart completion failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return Spec{}, fmt.Errorf("decode chart completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Spec{}, fmt.Errorf("empty chart completion choices")
	}

	raw := stripMarkdownJSON(parsed.Choices[0].Message.Content)
	var spec Spec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return Spec{}, fmt.Errorf("decode chart spec: %w", err)
	}
	return spec, nil
}

func buildChartPayload(model string, temperature float64, req Request) (map[string]any, error) {
	sample := req.Table
	limit := req.SampleRows
	if limit <= 0 {
		limit = 10
	}
	if len(sample.Rows) > limit {
		sample.Rows = sample.Rows[:limit]
	}
	tableJSON, err := json.Marshal(sample)
	if err != nil {
		return nil, fmt.Errorf("marshal table sample: %w", err)
	}

	systemPrompt := "You choose a chart for a SQL query result. " +
		`Return ONLY a JSON object {"kind","title","x_field","y_field"} where kind is one of ` +
		strings.Join(knownKinds, ", ") +
		" and x_field/y_field name result columns. No markdown, no explanation."
	userPrompt := fmt.Sprintf(
		"User question:\n%s\n\nQuery result (columns and sample rows, JSON):\n%s\n\nIf no sensible chart exists, return an empty JSON object.",
		strings.TrimSpace(req.Question),
		string(tableJSON),
	)

	return map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"temperature": temperature,
	}, nil
}

func stripMarkdownJSON(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
