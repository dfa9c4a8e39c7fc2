package retrieval

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

// Client talks to the embedding service and the Qdrant vector store over
// their HTTP APIs.
type Client struct {
	embedURL  string
	qdrantURL string
	client    *http.Client
}

func NewClient(embedURL, qdrantURL string) *Client {
	return &Client{
		embedURL:  strings.TrimRight(embedURL, "/"),
		qdrantURL: strings.TrimRight(qdrantURL, "/"),
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Embed returns the embedding vector for one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(map[string]interface{}{"inputs": []string{text}})
	if err != nil {
		return nil, fmt.Errorf("encode embed request: %w", err)
	}
	var vectors [][]float64
	if err := c.postJSON(ctx, c.embedURL+"/embed", body, &vectors); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embed: empty response")
	}
	return vectors[0], nil
}

// Snippet is one retrieved document fragment.
type Snippet struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

type qdrantSearchResponse struct {
	Result []struct {
		Score   float64                `json:"score"`
		Payload map[string]interface{} `json:"payload"`
	} `json:"result"`
}

// Search queries a Qdrant collection for the nearest points above the score
// threshold and returns their text payloads.
func (c *Client) Search(ctx context.Context, collection string, vector []float64, limit int, scoreThreshold float64) ([]Snippet, error) {
	body, err := json.Marshal(map[string]interface{}{
		"vector":          vector,
		"limit":           limit,
		"score_threshold": scoreThreshold,
		"with_payload":    true,
	})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.qdrantURL, collection)
	var resp qdrantSearchResponse
	if err := c.postJSON(ctx, url, body, &resp); err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	snippets := make([]Snippet, 0, len(resp.Result))
	for _, hit := range resp.Result {
		text, _ := hit.Payload["text"].(string)
		if text == "" {
			continue
		}
		snippets = append(snippets, Snippet{Text: text, Score: hit.Score})
	}
	return snippets, nil
}

// HealthCheck verifies the vector store answers.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.qdrantURL+"/collections", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant health: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qdrant health: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, url string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
