package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/MrWong99/glyphoxa/internal/toolruntime"
)

// ExtractWebpageParams is the parameter shape for extract_webpage.
type ExtractWebpageParams struct {
	URL string `json:"url" jsonschema_description:"The absolute URL of the page to fetch and extract text from."`
}

const maxWebpageBytes = 2 << 20 // 2 MiB

// noTextTags are elements whose content is never meaningful extracted
// body text.
var noTextTags = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"svg": true, "head": true, "template": true,
}

// NewExtractWebpage returns the extract_webpage tool descriptor. It fetches
// the page and returns its visible text content, stripped of markup,
// scripts, and styles.
func NewExtractWebpage() toolruntime.Descriptor {
	client := &http.Client{Timeout: 15 * time.Second}

	handler := func(ctx context.Context, jsonArgs string) (string, error) {
		var params ExtractWebpageParams
		if err := json.Unmarshal([]byte(jsonArgs), &params); err != nil {
			return "", fmt.Errorf("%w: %v", toolruntime.ErrInvalidInput, err)
		}
		if !strings.HasPrefix(params.URL, "http://") && !strings.HasPrefix(params.URL, "https://") {
			return "", fmt.Errorf("%w: url must be absolute http(s)", toolruntime.ErrInvalidInput)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, params.URL, nil)
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("User-Agent", "glyphoxa-voice-agent/1.0")

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("fetch page: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("page returned status %d", resp.StatusCode)
		}

		doc, err := html.Parse(io.LimitReader(resp.Body, maxWebpageBytes))
		if err != nil {
			return "", fmt.Errorf("parse html: %w", err)
		}

		text := extractText(doc)
		if text == "" {
			return "", fmt.Errorf("%w: page had no extractable text", toolruntime.ErrPartialSuccess)
		}
		return text, nil
	}

	return toolruntime.Descriptor{
		Definition: toolDefinition("extract_webpage",
			"Fetches a web page and returns its visible text content with markup stripped.",
			&ExtractWebpageParams{}),
		Handler: handler,
	}
}

// extractText walks the DOM tree collecting visible text nodes, skipping
// script/style/head/svg subtrees, and joins them with single spaces.
func extractText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && noTextTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
