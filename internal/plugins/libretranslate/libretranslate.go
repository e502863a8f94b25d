package libretranslate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/isopen-io/meeshy-sub020/internal/config"
)

// Client talks to a LibreTranslate-compatible HTTP endpoint, which is what
// fronts the ML worker pool.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

func NewClient(cfg config.TranslationConfig) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		http:     &http.Client{},
	}
}

func (c *Client) Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"q":       text,
		"source":  sourceLanguage,
		"target":  targetLanguage,
		"format":  "text",
		"api_key": c.apiKey,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("translate backend status %d", resp.StatusCode)
	}

	var result struct {
		TranslatedText string `json:"translatedText"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if result.TranslatedText == "" {
		return "", fmt.Errorf("translate backend returned empty result")
	}
	return result.TranslatedText, nil
}
