package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aichatroom/internal/metrics"
	"aichatroom/internal/models"
)

var ErrNoMessages = errors.New("no messages provided")

const (
	summaryPrefix    = "Please provide a brief summary (2-3 sentences) of the following conversation:\n\n"
	summaryWindow    = 20
	summaryMaxTokens = 150
)

// Completer 是语言模型的最小接口。
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// AIService 负责调用模型，并把回复作为 AI 消息写回。
type AIService struct {
	llm  Completer
	msgs *MessageService
}

func NewAIService(llm Completer, msgs *MessageService) *AIService {
	return &AIService{llm: llm, msgs: msgs}
}

// Reply 调用模型回答 prompt，回复以 AI 消息插入，mode 为空时为 private。
func (s *AIService) Reply(ctx context.Context, userID, prompt, mode string) (*models.Message, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyContent
	}
	if mode == "" {
		mode = models.OutputPrivate
	}
	if mode != models.OutputPublic && mode != models.OutputPrivate {
		return nil, ErrInvalidOutputMode
	}
	output, err := s.llm.Complete(ctx, prompt, 0)
	metrics.ObserveAI("reply", err)
	if err != nil {
		return nil, fmt.Errorf("ai reply: %w", err)
	}
	return s.msgs.CreateAI(ctx, userID, prompt, output, mode)
}

// SummaryMessage 是摘要请求中的一条消息。
type SummaryMessage struct {
	Content     string `json:"content"`
	IsAIMessage bool   `json:"is_ai_message"`
}

// SummaryPrompt 只取非 AI 消息的最后 20 条拼接成摘要提示词。
func SummaryPrompt(msgs []SummaryMessage) string {
	contents := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.IsAIMessage {
			continue
		}
		contents = append(contents, m.Content)
	}
	if len(contents) > summaryWindow {
		contents = contents[len(contents)-summaryWindow:]
	}
	return summaryPrefix + strings.Join(contents, "\n")
}

// Summarize 生成对话摘要。
func (s *AIService) Summarize(ctx context.Context, msgs []SummaryMessage) (string, error) {
	if len(msgs) == 0 {
		return "", ErrNoMessages
	}
	summary, err := s.llm.Complete(ctx, SummaryPrompt(msgs), summaryMaxTokens)
	metrics.ObserveAI("summary", err)
	if err != nil {
		return "", fmt.Errorf("ai summary: %w", err)
	}
	return summary, nil
}
