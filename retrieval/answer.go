package retrieval

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/jpeg"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"visualMem/config"
)

// Answerer synthesizes a natural-language answer from the query and the
// refined frames.
type Answerer interface {
	Answer(ctx context.Context, query string, frames []LoadedFrame) (string, error)
}

// VLMAnswerer 视觉语言模型问答：帧图片作为多模态消息传入
type VLMAnswerer struct {
	oa    *openai.Client
	model string
}

func NewVLMAnswerer(cfg *config.Config) *VLMAnswerer {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &VLMAnswerer{
		oa:    openai.NewClientWithConfig(clientConfig),
		model: cfg.VLMModel,
	}
}

func (a *VLMAnswerer) Answer(ctx context.Context, query string, frames []LoadedFrame) (string, error) {
	var sb strings.Builder
	sb.WriteString("以下是按时间排列的屏幕截图，请根据截图内容回答用户问题。\n截图时间：\n")
	for i, f := range frames {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, f.Timestamp.Local().Format(time.DateTime))
	}
	fmt.Fprintf(&sb, "\n用户问题：%s", query)

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: sb.String()},
	}
	for _, f := range frames {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: 80}); err != nil {
			return "", fmt.Errorf("encode frame %s: %w", f.FrameID, err)
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
			},
		})
	}

	resp, err := a.oa.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		MaxTokens: 1000,
	})
	if err != nil {
		return "", fmt.Errorf("VLM call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("VLM returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
