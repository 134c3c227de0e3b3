// Package client 通过 HTTP 与 WebSocket 访问聊天室服务端，实现 chat 包需要的接口。
package client

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
	"sync"
	"time"

	"aichatroom/internal/chat"
	"aichatroom/internal/models"
	"aichatroom/internal/theme"
)

// APIError 携带服务端返回的 error 字符串，调用方直接展示给用户。
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return e.Message
}

type Tokens struct {
	AccessToken  string `json:"access_token" toml:"access_token"`
	RefreshToken string `json:"refresh_token" toml:"refresh_token"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client

	mu       sync.RWMutex
	tokens   Tokens
	onTokens func(Tokens)
}

var (
	_ chat.Backend = (*Client)(nil)
	_ chat.Auth    = (*Client)(nil)
	_ chat.AI      = (*Client)(nil)
	_ chat.Feed    = (*Client)(nil)
)

func New(baseURL string, tokens Tokens) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 90 * time.Second},
		tokens:     tokens,
	}
}

// OnTokens 在登录或刷新拿到新 token 后被调用，用于持久化。
func (c *Client) OnTokens(fn func(Tokens)) { c.onTokens = fn }

func (c *Client) Tokens() Tokens {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens
}

func (c *Client) setTokens(t Tokens) {
	c.mu.Lock()
	c.tokens = t
	c.mu.Unlock()
	if c.onTokens != nil {
		c.onTokens(t)
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if at := c.Tokens().AccessToken; at != "" {
		req.Header.Set("Authorization", "Bearer "+at)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c *Client) Register(ctx context.Context, username, password string) (*chat.User, error) {
	var out chat.User
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/register", credentials{username, password}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login 登录并保存 token 对。
func (c *Client) Login(ctx context.Context, username, password string) (*chat.User, error) {
	var out struct {
		Tokens
		User chat.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", credentials{username, password}, &out); err != nil {
		return nil, err
	}
	c.setTokens(out.Tokens)
	return &out.User, nil
}

// Refresh 用 refresh token 换取新的 token 对。
func (c *Client) Refresh(ctx context.Context) error {
	rt := c.Tokens().RefreshToken
	if rt == "" {
		return chat.ErrUnauthenticated
	}
	var out Tokens
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/refresh", map[string]string{"refresh_token": rt}, &out); err != nil {
		return err
	}
	c.setTokens(out)
	return nil
}

// CurrentUser 未登录或 token 失效时返回 nil, nil。
func (c *Client) CurrentUser(ctx context.Context) (*chat.User, error) {
	if c.Tokens().AccessToken == "" {
		return nil, nil
	}
	var out struct {
		User chat.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/auth/user", nil, &out); err != nil {
		if e, ok := err.(*APIError); ok && e.Status == http.StatusUnauthorized {
			return nil, nil
		}
		return nil, err
	}
	return &out.User, nil
}

func (c *Client) ListMessages(ctx context.Context) ([]models.Message, error) {
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/messages", nil, &out)
	return out.Messages, err
}

func (c *Client) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var out struct {
		Message models.Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/messages/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

type contentBody struct {
	Content string `json:"content"`
}

func (c *Client) SendMessage(ctx context.Context, content string) (*models.Message, error) {
	var out struct {
		Message models.Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/messages", contentBody{content}, &out); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

func (c *Client) EditMessage(ctx context.Context, id, content string) (*models.Message, error) {
	var out struct {
		Message models.Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodPatch, "/api/v1/messages/"+url.PathEscape(id), contentBody{content}, &out); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/messages/"+url.PathEscape(id), nil, nil)
}

func (c *Client) AIInteractions(ctx context.Context) ([]models.AIInteraction, error) {
	var out struct {
		Interactions []models.AIInteraction `json:"interactions"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/ai/interactions", nil, &out)
	return out.Interactions, err
}

func (c *Client) UpsertTyping(ctx context.Context, username string) error {
	return c.do(ctx, http.MethodPut, "/api/v1/typing", map[string]string{"username": username}, nil)
}

func (c *Client) DeleteTyping(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/typing", nil, nil)
}

func (c *Client) SweepTyping(ctx context.Context, olderThan time.Duration) error {
	path := "/api/v1/typing/stale?older_than_ms=" + strconv.FormatInt(olderThan.Milliseconds(), 10)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) ActiveTyping(ctx context.Context, window time.Duration) ([]models.TypingIndicator, time.Time, error) {
	var out struct {
		Typing []models.TypingIndicator `json:"typing"`
		Now    time.Time                `json:"now"`
	}
	path := "/api/v1/typing?window_ms=" + strconv.FormatInt(window.Milliseconds(), 10)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Typing, out.Now, err
}

func (c *Client) Profiles(ctx context.Context, ids []string) ([]models.Profile, error) {
	var out struct {
		Profiles []models.Profile `json:"profiles"`
	}
	q := url.Values{"ids": {strings.Join(ids, ",")}}
	err := c.do(ctx, http.MethodGet, "/api/v1/profiles?"+q.Encode(), nil, &out)
	return out.Profiles, err
}

func (c *Client) MyProfile(ctx context.Context) (*models.Profile, error) {
	var out struct {
		Profile models.Profile `json:"profile"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/profiles/me", nil, &out); err != nil {
		return nil, err
	}
	return &out.Profile, nil
}

// UpdateProfile 更新用户名、显示名与头像。
func (c *Client) UpdateProfile(ctx context.Context, username, displayName, avatarURL string) (*models.Profile, error) {
	in := map[string]string{"username": username, "display_name": displayName, "avatar_url": avatarURL}
	var out struct {
		Profile models.Profile `json:"profile"`
	}
	if err := c.do(ctx, http.MethodPut, "/api/v1/profiles/me", in, &out); err != nil {
		return nil, err
	}
	return &out.Profile, nil
}

func (c *Client) SetTheme(ctx context.Context, t theme.Theme) error {
	return c.do(ctx, http.MethodPut, "/api/v1/profiles/me/theme", map[string]theme.Theme{"theme": t}, nil)
}

// aiResult 覆盖 AI 接口的两种响应。
type aiResult struct {
	Success bool            `json:"success"`
	Message *models.Message `json:"message"`
	Summary string          `json:"summary"`
	Error   string          `json:"error"`
}

func (c *Client) Ask(ctx context.Context, prompt, outputMode string) (*models.Message, error) {
	var out aiResult
	in := map[string]string{"message": prompt, "outputMode": outputMode}
	if err := c.do(ctx, http.MethodPost, "/api/v1/ai", in, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, &APIError{Status: http.StatusOK, Message: out.Error}
	}
	return out.Message, nil
}

func (c *Client) Summarize(ctx context.Context, msgs []models.Message) (string, error) {
	var out aiResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/ai/summary", map[string]any{"messages": msgs}, &out); err != nil {
		return "", err
	}
	if !out.Success {
		return "", &APIError{Status: http.StatusOK, Message: out.Error}
	}
	return out.Summary, nil
}
