package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 响应包 code，与前端 axios 拦截器约定一致
const (
	CodeSuccess      = 2000
	CodeTokenExpired = 60401
)

// Result 服务端统一响应包
type Result struct {
	Code    int             `json:"code"`
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Config 后端连接配置
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Token 请求上下文中没有调用方 token 时使用的服务 token
	Token string
}

// Client 外部持久化服务的 REST 客户端
// 失败不做自动重试：乐观更新失败后由用户重新编辑
type Client struct {
	httpClient *resty.Client
	token      string
	logger     *zap.Logger
}

// NewClient 创建客户端
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		token:      cfg.Token,
		logger:     logger,
	}
}

type tokenKey struct{}

// WithToken 把调用方的 bearer token 放入 context，后端请求会转发它
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFrom 读取 context 中的 token
func TokenFrom(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey{}).(string)
	return tok
}

// List GET /resources/{type}
func (c *Client) List(ctx context.Context, resource string, params map[string]string) ([]map[string]any, error) {
	raw, err := c.do(ctx, http.MethodGet, resourcePath(resource), params, nil)
	if err != nil {
		return nil, err
	}
	var items []map[string]any
	if len(raw) == 0 || string(raw) == "null" {
		return items, nil
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		// 兼容分页结构 {"items": [...]}
		var paged struct {
			Items []map[string]any `json:"items"`
		}
		if err2 := json.Unmarshal(raw, &paged); err2 != nil {
			return nil, &Error{Kind: KindServer, Status: http.StatusOK, Message: "malformed list response", Err: err}
		}
		items = paged.Items
	}
	return items, nil
}

// Create POST /resources/{type}
func (c *Client) Create(ctx context.Context, resource string, body map[string]any) (map[string]any, error) {
	raw, err := c.do(ctx, http.MethodPost, resourcePath(resource), nil, body)
	if err != nil {
		return nil, err
	}
	return decodeRecord(raw)
}

// Update PATCH /resources/{type}/{id}
func (c *Client) Update(ctx context.Context, resource, id string, patch map[string]any) (map[string]any, error) {
	raw, err := c.do(ctx, http.MethodPatch, resourcePath(resource)+"/"+url.PathEscape(id), nil, patch)
	if err != nil {
		return nil, err
	}
	return decodeRecord(raw)
}

// Delete DELETE /resources/{type}/{id}
func (c *Client) Delete(ctx context.Context, resource, id string) error {
	_, err := c.do(ctx, http.MethodDelete, resourcePath(resource)+"/"+url.PathEscape(id), nil, nil)
	return err
}

func resourcePath(resource string) string {
	return "/resources/" + url.PathEscape(resource)
}

func (c *Client) do(ctx context.Context, method, path string, params map[string]string, body any) (json.RawMessage, error) {
	requestID := uuid.NewString()
	req := c.httpClient.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID)
	if tok := TokenFrom(ctx); tok != "" {
		req.SetAuthToken(tok)
	} else if c.token != "" {
		req.SetAuthToken(c.token)
	}
	if len(params) > 0 {
		req.SetQueryParams(params)
	}
	if body != nil {
		req.SetBody(body)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		c.logger.Warn("Backend request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return nil, &Error{Kind: KindNetwork, Err: err}
	}

	status := resp.StatusCode()
	c.logger.Debug("Backend request",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", requestID),
		zap.Int("status", status),
		zap.Duration("elapsed", time.Since(start)),
	)

	if status == http.StatusUnauthorized {
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	}

	env, wrapped := unwrap(resp.Body())
	if !resp.IsSuccess() {
		msg := env.Message
		if !wrapped {
			msg = strings.TrimSpace(string(resp.Body()))
		}
		return nil, &Error{Kind: KindServer, Status: status, Code: env.Code, Message: msg}
	}
	if !wrapped {
		return resp.Body(), nil
	}
	switch env.Code {
	case CodeSuccess:
		return env.Result, nil
	case CodeTokenExpired:
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	default:
		return nil, &Error{Kind: KindServer, Status: status, Code: env.Code, Message: env.Message}
	}
}

// unwrap 识别 {code, message, result} 响应包；不是响应包时返回 false
func unwrap(body []byte) (Result, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return Result{}, false
	}
	if _, ok := probe["code"]; !ok {
		return Result{}, false
	}
	_, hasResult := probe["result"]
	_, hasMessage := probe["message"]
	if !hasResult && !hasMessage {
		return Result{}, false
	}
	var env Result
	if err := json.Unmarshal(body, &env); err != nil {
		return Result{}, false
	}
	return env, true
}

func decodeRecord(raw json.RawMessage) (map[string]any, error) {
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil || rec == nil {
		return nil, &Error{Kind: KindServer, Status: http.StatusOK, Message: "malformed record response", Err: err}
	}
	return rec, nil
}
