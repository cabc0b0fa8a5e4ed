package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

// Config 定义地图搜索供应商配置。
type Config struct {
	BaseURL       string  `yaml:"base_url" toml:"base_url"`
	APIKey        string  `yaml:"api_key" toml:"api_key"`
	Timeout       string  `yaml:"timeout" toml:"timeout"`
	RatePerSecond float64 `yaml:"rate_per_second" toml:"rate_per_second"`
	Language      string  `yaml:"language" toml:"language"`
}

// Options 单次查询参数。
type Options struct {
	Limit          int
	Language       string
	Enrichment     []string
	DropDuplicates bool
}

// State 归一化后的供应商请求状态。
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Status 供应商请求的当前状态，成功时 Data 为原始结果（可能多层数组嵌套）。
type Status struct {
	Handle  string
	State   State
	Data    json.RawMessage
	Message string
}

// Client 调用异步地图搜索 API：提交查询得到请求 ID，之后轮询状态。
type Client struct {
	baseURL  string
	apiKey   string
	language string
	client   *http.Client
	limiter  *rate.Limiter
	logger   arbor.ILogger
}

// NewClient 创建供应商客户端，未配置的项使用默认值。
func NewClient(cfg Config, client *http.Client, logger arbor.ILogger) *Client {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	if client == nil {
		timeout := 30 * time.Second
		if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
			timeout = d
		}
		client = &http.Client{Timeout: timeout}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.app.outscraper.com"
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return &Client{
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		language: cfg.Language,
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		logger:   logger,
	}
}

type submitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

type statusResponse struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	Data         json.RawMessage `json:"data"`
	Message      string          `json:"message"`
	ErrorMessage string          `json:"errorMessage"`
}

// Submit 异步提交一条查询，返回请求 ID。
func (c *Client) Submit(ctx context.Context, query string, opts Options) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("submit query: empty query")
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Language == "" {
		opts.Language = c.language
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", strconv.Itoa(opts.Limit))
	params.Set("language", opts.Language)
	params.Set("async", "true")
	params.Set("dropDuplicates", strconv.FormatBool(opts.DropDuplicates))
	if opts.Limit > 20 {
		params.Set("search_depth", "high")
	}
	if len(opts.Enrichment) > 0 {
		params.Set("enrichment", strings.Join(opts.Enrichment, ","))
	}

	var resp submitResponse
	if err := c.get(ctx, "/maps/search-v3?"+params.Encode(), &resp); err != nil {
		return "", fmt.Errorf("submit query: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("submit query: provider error: %s", resp.Error)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("submit query: missing request id")
	}
	c.logger.Debug().Str("query", query).Str("request_id", resp.ID).Int("limit", opts.Limit).Msg("query submitted")
	return resp.ID, nil
}

// Status 查询请求状态。成功但未携带数据时，再从结果端点拉取一次。
func (c *Client) Status(ctx context.Context, handle string) (Status, error) {
	if handle == "" {
		return Status{}, fmt.Errorf("request status: empty handle")
	}
	var resp statusResponse
	if err := c.get(ctx, "/requests/"+url.PathEscape(handle), &resp); err != nil {
		return Status{}, fmt.Errorf("request status: %w", err)
	}

	st := Status{Handle: handle, State: mapState(resp.Status), Data: resp.Data, Message: firstNonEmpty(resp.ErrorMessage, resp.Message)}
	if st.State == StateSucceeded && isMissing(st.Data) {
		var results statusResponse
		if err := c.get(ctx, "/requests/"+url.PathEscape(handle)+"/results", &results); err != nil {
			return Status{}, fmt.Errorf("request results: %w", err)
		}
		st.Data = results.Data
	}
	return st, nil
}

func mapState(s string) State {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "completed", "finished":
		return StateSucceeded
	case "failed", "error", "failure":
		return StateFailed
	default:
		return StateRunning
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	c.logger.Debug().Str("path", strings.SplitN(path, "?", 2)[0]).Int("status", resp.StatusCode).Msg("provider response")
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isMissing(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
