package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const defaultBaseURL = "https://api.tavily.com"

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type searchReq struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
}

type searchResp struct {
	Answer  string   `json:"answer"`
	Results []Result `json:"results"`
}

// Client 是 Tavily 联网搜索客户端，为正文生成提供真实资料。
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// New returns nil when apiKey is empty so callers can treat search as disabled.
func New(apiKey, baseURL string, client *http.Client) *Client {
	if apiKey == "" {
		return nil
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Search runs one query.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	body, err := json.Marshal(searchReq{
		APIKey:        c.apiKey,
		Query:         query,
		MaxResults:    maxResults,
		SearchDepth:   "advanced",
		IncludeAnswer: true,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("research: search %q: HTTP %d", query, resp.StatusCode)
	}
	var data searchResp
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("research: decode response: %w", err)
	}
	return data.Results, nil
}

// Context searches a couple of query variants for subject and formats the
// deduplicated hits as a prompt block. No hits yields "" and no error.
func (c *Client) Context(ctx context.Context, subject string) (string, error) {
	queries := []string{
		subject + " 真实评价 具体地址",
		subject + " 推荐",
	}

	var all []Result
	seen := make(map[string]struct{})
	var errs []error
	for _, q := range queries {
		results, err := c.Search(ctx, q, 3)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, r := range results {
			if _, ok := seen[r.URL]; ok {
				continue
			}
			seen[r.URL] = struct{}{}
			all = append(all, r)
		}
	}
	if len(all) == 0 {
		return "", errors.Join(errs...)
	}
	if len(all) > 6 {
		all = all[:6]
	}

	var sb strings.Builder
	sb.WriteString("以下是联网搜索到的真实资料，请基于这些信息创作内容：\n")
	for i, r := range all {
		sb.WriteString(fmt.Sprintf("\n【来源%d】%s\n", i+1, sourceHost(r.URL)))
		sb.WriteString("标题: " + r.Title + "\n")
		sb.WriteString("内容: " + truncate(r.Content, 300) + "\n")
		sb.WriteString("链接: " + r.URL + "\n")
	}
	return sb.String(), nil
}

func sourceHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "未知来源"
	}
	return u.Host
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
