package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"aichatroom/internal/auth"
	"aichatroom/internal/llm"
	"aichatroom/internal/realtime"
	"aichatroom/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Services 汇总 handler 依赖的业务服务。
type Services struct {
	Users    *service.UserService
	Messages *service.MessageService
	Typing   *service.TypingService
	Profiles *service.ProfileService
	AI       *service.AIService
}

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	svc Services
	hub *realtime.Hub
}

func NewHandler(svc Services, hub *realtime.Hub) *Handler {
	return &Handler{svc: svc, hub: hub}
}

// statusFor 把业务错误映射为 HTTP 状态码。
func statusFor(err error) int {
	var up *llm.UpstreamError
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrMessageNotFound), errors.Is(err, service.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEmptyContent), errors.Is(err, service.ErrInvalidOutputMode), errors.Is(err, service.ErrNoMessages):
		return http.StatusBadRequest
	case errors.Is(err, llm.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.As(err, &up):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail 写出错误响应，5xx 只返回通用文案。
func fail(c *gin.Context, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Str("user_id", auth.GetUserID(c)).Msg(msg)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// aiError 给出 AI 接口对用户展示的错误文案。
func aiError(err error) string {
	var up *llm.UpstreamError
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		return llm.ErrNotConfigured.Error()
	case errors.As(err, &up):
		return up.Error()
	case statusFor(err) == http.StatusBadRequest:
		return err.Error()
	default:
		return "failed to get AI response"
	}
}

// Healthz 返回服务状态以及各表的订阅数。
func (h *Handler) Healthz(c *gin.Context) {
	subs := make(gin.H, len(realtime.Tables))
	for _, t := range realtime.Tables {
		subs[t] = h.hub.Subscribers(t)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "subscribers": subs})
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.Username) < 2 || len(req.Username) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid username"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	result, err := h.svc.Users.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("register")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.svc.Users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user":          gin.H{"id": result.User.ID, "username": result.User.Username},
	})
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.svc.Users.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) CurrentUser(c *gin.Context) {
	user, _ := auth.GetUser(c)
	c.JSON(http.StatusOK, gin.H{"user": gin.H{"id": user.ID, "username": user.Username}})
}

func (h *Handler) ListMessages(c *gin.Context) {
	msgs, err := h.svc.Messages.List(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		fail(c, err, "failed to list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) GetMessage(c *gin.Context) {
	msg, err := h.svc.Messages.Get(c.Request.Context(), auth.GetUserID(c), c.Param("id"))
	if err != nil {
		fail(c, err, "failed to load message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

type contentRequest struct {
	Content string `json:"content"`
}

func (h *Handler) CreateMessage(c *gin.Context) {
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.svc.Messages.Create(c.Request.Context(), auth.GetUserID(c), req.Content)
	if err != nil {
		fail(c, err, "failed to send message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// UpdateMessage 只允许作者修改自己的非 AI 消息。
func (h *Handler) UpdateMessage(c *gin.Context) {
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	msg, err := h.svc.Messages.Update(c.Request.Context(), auth.GetUserID(c), c.Param("id"), req.Content)
	if err != nil {
		fail(c, err, "failed to update message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.Messages.Delete(c.Request.Context(), auth.GetUserID(c), id); err != nil {
		fail(c, err, "failed to delete message")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (h *Handler) ListAIInteractions(c *gin.Context) {
	items, err := h.svc.Messages.ListAIInteractions(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		fail(c, err, "failed to load AI interactions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"interactions": items})
}

// AskAI 调用模型回答问题，成功时返回写入的 AI 消息。
func (h *Handler) AskAI(c *gin.Context) {
	var req struct {
		Message    string `json:"message"`
		OutputMode string `json:"outputMode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid payload"})
		return
	}
	userID := auth.GetUserID(c)
	msg, err := h.svc.AI.Reply(c.Request.Context(), userID, req.Message, req.OutputMode)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("ai reply")
		c.JSON(statusFor(err), gin.H{"success": false, "error": aiError(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
}

// Summarize 对客户端提供的最近消息生成摘要。
func (h *Handler) Summarize(c *gin.Context) {
	var req struct {
		Messages []service.SummaryMessage `json:"messages"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid payload"})
		return
	}
	summary, err := h.svc.AI.Summarize(c.Request.Context(), req.Messages)
	if err != nil {
		log.Warn().Err(err).Str("user_id", auth.GetUserID(c)).Msg("ai summary")
		c.JSON(statusFor(err), gin.H{"success": false, "error": aiError(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "summary": summary})
}

// durationMS 解析毫秒参数，缺省或非法时使用 def。
func durationMS(c *gin.Context, key string, def time.Duration) time.Duration {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

// ListTyping 返回窗口内的输入指示器以及服务端当前时间。
func (h *Handler) ListTyping(c *gin.Context) {
	window := durationMS(c, "window_ms", service.TypingFreshness)
	rows, err := h.svc.Typing.Active(c.Request.Context(), window)
	if err != nil {
		fail(c, err, "failed to list typing indicators")
		return
	}
	c.JSON(http.StatusOK, gin.H{"typing": rows, "now": time.Now().UTC()})
}

// UpsertTyping 刷新当前用户的输入状态，用户名缺省为账号名。
func (h *Handler) UpsertTyping(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	user, _ := auth.GetUser(c)
	name := strings.TrimSpace(req.Username)
	if name == "" {
		name = user.Username
	}
	row, err := h.svc.Typing.Upsert(c.Request.Context(), user.ID, name)
	if err != nil {
		fail(c, err, "failed to update typing indicator")
		return
	}
	c.JSON(http.StatusOK, gin.H{"typing": row})
}

func (h *Handler) DeleteTyping(c *gin.Context) {
	if err := h.svc.Typing.Delete(c.Request.Context(), auth.GetUserID(c)); err != nil {
		fail(c, err, "failed to clear typing indicator")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// SweepTyping 清理过期的输入指示器，任何登录用户都可以触发。
func (h *Handler) SweepTyping(c *gin.Context) {
	n, err := h.svc.Typing.Sweep(c.Request.Context(), durationMS(c, "older_than_ms", service.TypingFreshness))
	if err != nil {
		fail(c, err, "failed to sweep typing indicators")
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

func (h *Handler) ListProfiles(c *gin.Context) {
	var ids []string
	for _, id := range strings.Split(c.Query("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) > 200 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many ids"})
		return
	}
	profiles, err := h.svc.Profiles.Batch(c.Request.Context(), ids)
	if err != nil {
		fail(c, err, "failed to load profiles")
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles})
}

func (h *Handler) MyProfile(c *gin.Context) {
	p, err := h.svc.Profiles.Get(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		fail(c, err, "failed to load profile")
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

func (h *Handler) UpdateMyProfile(c *gin.Context) {
	var req service.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(req.Username) > 64 || len(req.DisplayName) > 128 || len(req.AvatarURL) > 512 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "field too long"})
		return
	}
	p, err := h.svc.Profiles.Update(c.Request.Context(), auth.GetUserID(c), req)
	if err != nil {
		fail(c, err, "failed to update profile")
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": p})
}

// SetMyTheme 接受主题对象或旧版的模式字符串，返回规范化后的主题。
func (h *Handler) SetMyTheme(c *gin.Context) {
	var req struct {
		Theme json.RawMessage `json:"theme"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	t, err := h.svc.Profiles.SetTheme(c.Request.Context(), auth.GetUserID(c), string(req.Theme))
	if err != nil {
		fail(c, err, "failed to save theme")
		return
	}
	c.JSON(http.StatusOK, gin.H{"theme": t})
}
