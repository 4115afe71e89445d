// Package builtins implements the spec's required built-in tools:
// search_web, search_news, extract_webpage, set_volume, end_conversation.
package builtins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/glyphoxa/internal/toolruntime"
	"github.com/MrWong99/glyphoxa/pkg/types"
)

// SearchParams is the shared parameter shape for search_web and
// search_news.
type SearchParams struct {
	Query string `json:"query" jsonschema_description:"The search query."`
	MaxResults int `json:"max_results,omitempty" jsonschema_description:"Maximum number of results to return (default 5)."`
}

// SearchResult is one item in a search response.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// searchClient is a minimal HTTP client over a Tavily-shaped search API
// (POST {baseURL} with {api_key, query, topic, max_results} -> {results:
// [{title, url, content}]}). No client SDK for this API appears anywhere
// in the example pack, so the call is hand-rolled against raw JSON, the
// same way the LLM client's openaicompat backend is.
type searchClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

type searchAPIRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	Topic      string `json:"topic"`
	MaxResults int    `json:"max_results"`
}

type searchAPIResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (c *searchClient) search(ctx context.Context, topic, query string, maxResults int) ([]SearchResult, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	body, err := json.Marshal(searchAPIRequest{
		APIKey:     c.apiKey,
		Query:      query,
		Topic:      topic,
		MaxResults: maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	var apiResp searchAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]SearchResult, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return results, nil
}

// NewSearchWeb returns the search_web tool descriptor. baseURL and apiKey
// configure the underlying search API.
func NewSearchWeb(baseURL, apiKey string) toolruntime.Descriptor {
	return newSearchDescriptor("search_web", "general",
		"Searches the public web for up-to-date information and returns titles, URLs, and snippets.",
		baseURL, apiKey)
}

// NewSearchNews returns the search_news tool descriptor.
func NewSearchNews(baseURL, apiKey string) toolruntime.Descriptor {
	return newSearchDescriptor("search_news", "news",
		"Searches recent news articles and returns titles, URLs, and snippets.",
		baseURL, apiKey)
}

func newSearchDescriptor(name, topic, description, baseURL, apiKey string) toolruntime.Descriptor {
	client := &searchClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}

	handler := func(ctx context.Context, jsonArgs string) (string, error) {
		var params SearchParams
		if err := json.Unmarshal([]byte(jsonArgs), &params); err != nil {
			return "", fmt.Errorf("%w: %v", toolruntime.ErrInvalidInput, err)
		}
		if strings.TrimSpace(params.Query) == "" {
			return "", fmt.Errorf("%w: query must not be empty", toolruntime.ErrInvalidInput)
		}

		results, err := client.search(ctx, topic, params.Query, params.MaxResults)
		if err != nil {
			return "", err
		}

		out, err := json.Marshal(results)
		if err != nil {
			return "", fmt.Errorf("marshal results: %w", err)
		}
		return string(out), nil
	}

	return toolruntime.Descriptor{
		Definition: toolDefinition(name, description, &SearchParams{}),
		Handler:    handler,
	}
}

func toolDefinition(name, description string, paramsStruct any) types.ToolDefinition {
	return types.ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  toolruntime.Schema(paramsStruct),
	}
}
