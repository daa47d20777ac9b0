package perplexity_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/curator/models"
)

const defaultAPIURL = "https://api.perplexity.ai"

// client implements the oracle surfaces against an OpenAI-compatible API.
type client struct {
	apiKey         string
	baseURL        string
	model          string
	embeddingModel string
	httpClient     *http.Client
}

// Message represents a message in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// request represents a chat-completions request.
type request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// response represents a chat-completions response.
type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// CategorizationItem is one entry of a categorization request.
type CategorizationItem struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Summary         string `json:"summary,omitempty"`
	CurrentCategory string `json:"current_category"`
}

// NewClient creates an oracle client. An empty baseURL targets the hosted
// Perplexity API.
func NewClient(apiKey, baseURL, model, embeddingModel string, timeout time.Duration) *client {
	if baseURL == "" {
		baseURL = defaultAPIURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &client{
		apiKey:         apiKey,
		baseURL:        strings.TrimRight(baseURL, "/"),
		model:          model,
		embeddingModel: embeddingModel,
		httpClient:     &http.Client{Timeout: timeout},
	}
}

const rankSystemPrompt = `You are a news curation judge for a city news digest.
You receive a JSON shortlist of candidate headlines plus a summary of recent category coverage.
Pick the entries most worth promoting and rate each on five axes, 1 (weak) to 5 (strong):
I = impact on readers, N = novelty, D = reporting depth, S = diversity versus recent coverage, U = underserved topic.
Respond with a JSON array only, no prose, one object per picked entry:
[{"id":"01","I":4,"N":3,"D":4,"S":2,"U":5,"score":58}]
"score" must equal I*4 + N*3 + D*2 + S*1 + U*5.`

// Rank sends the shortlist to the ranking oracle and parses its verdicts.
// Any response not matching the contract is returned as an error; the caller
// owns the fallback.
func (c *client) Rank(ctx context.Context, shortlist []models.ShortlistItem, coverage map[string]int, target int) ([]models.OracleSelection, error) {
	payload := map[string]interface{}{
		"shortlist":       shortlist,
		"recent_coverage": coverage,
		"target_count":    target,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal shortlist: %w", err)
	}

	content, err := c.complete(ctx, rankSystemPrompt, string(body))
	if err != nil {
		return nil, err
	}

	var selections []models.OracleSelection
	if err := json.Unmarshal([]byte(stripJSONFence(content)), &selections); err != nil {
		return nil, fmt.Errorf("oracle response is not a selection array: %w", err)
	}
	return selections, nil
}

const categorizeSystemPrompt = `You relabel news articles into exactly one of these categories:
politics, business, tech, health, culture, sports, weather, transport, crime, community.
You receive a JSON array of {id, title, summary, current_category}.
Respond with a JSON array only: [{"id":"...","category":"...","confidence":7}]
confidence is 1..10; keep the current category with low confidence when unsure.`

// Categorize proposes relabelings for the given items.
func (c *client) Categorize(ctx context.Context, items []CategorizationItem) ([]models.CategorySuggestion, error) {
	if len(items) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal items: %w", err)
	}

	content, err := c.complete(ctx, categorizeSystemPrompt, string(body))
	if err != nil {
		return nil, err
	}

	var suggestions []models.CategorySuggestion
	if err := json.Unmarshal([]byte(stripJSONFence(content)), &suggestions); err != nil {
		return nil, fmt.Errorf("categorizer response is not a suggestion array: %w", err)
	}
	return suggestions, nil
}

// CreateEmbedding generates embeddings for the given texts.
func (c *client) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	requestBody := map[string]interface{}{
		"model": c.embeddingModel,
		"input": texts,
	}
	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	var embResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(embResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embResp.Data))
	}

	vectors := make([][]float32, len(embResp.Data))
	for i, d := range embResp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// complete performs one chat-completions round trip and returns the first
// choice's content.
func (c *client) complete(ctx context.Context, system, user string) (string, error) {
	reqBody := request{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.1,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	var chatResp response
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return chatResp.Choices[0].Message.Content, nil
}

// stripJSONFence removes a markdown code fence some models wrap around JSON.
func stripJSONFence(s string) string {
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
