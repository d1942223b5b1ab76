package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"visualMem/config"
	"visualMem/core"
)

// RewriteResult 查询改写 + 时间范围解析结果
type RewriteResult struct {
	Queries []string
	Window  core.TimeWindow
}

// Rewriter expands a free-text query into variants and extracts a time
// window the model infers from it. Callers must tolerate failure: a broken
// rewrite means the original query and an absent window, never a fatal error.
type Rewriter interface {
	Rewrite(ctx context.Context, query string, now time.Time) (RewriteResult, error)
}

// LLMRewriter go-openai chat 实现，要求模型输出严格 JSON
type LLMRewriter struct {
	oa         *openai.Client
	model      string
	expandN    int
	expandMode bool
}

func NewLLMRewriter(cfg *config.Config) *LLMRewriter {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &LLMRewriter{
		oa:         openai.NewClientWithConfig(clientConfig),
		model:      cfg.ChatModel,
		expandN:    cfg.QueryRewriteNum,
		expandMode: cfg.EnableRewrite,
	}
}

type rewritePayload struct {
	Queries   []string `json:"queries"`
	TimeRange *struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"time_range"`
}

func (r *LLMRewriter) Rewrite(ctx context.Context, query string, now time.Time) (RewriteResult, error) {
	prompt := fmt.Sprintf(`你是屏幕记忆检索系统的查询解析器。当前时间：%s。
用户查询：%s

输出严格 JSON（不要输出其他内容）：
{"queries": [最多%d个检索用改写查询], "time_range": {"start": "ISO-8601或空串", "end": "ISO-8601或空串"} 或 null}

查询中没有时间含义时 time_range 为 null。`, now.Format(time.RFC3339), query, r.expandN)

	resp, err := r.oa.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   500,
		Temperature: 0.1,
	})
	if err != nil {
		return RewriteResult{}, fmt.Errorf("rewrite call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return RewriteResult{}, fmt.Errorf("rewrite returned no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var payload rewritePayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return RewriteResult{}, fmt.Errorf("rewrite output not valid JSON: %w", err)
	}

	out := RewriteResult{Queries: []string{query}}
	// 是否采用扩写结果由 ENABLE_LLM_REWRITE 决定；时间解析总是生效
	if r.expandMode && len(payload.Queries) > 0 {
		out.Queries = payload.Queries
		if len(out.Queries) > r.expandN {
			out.Queries = out.Queries[:r.expandN]
		}
	}
	if payload.TimeRange != nil {
		if t, err := time.Parse(time.RFC3339, payload.TimeRange.Start); err == nil {
			t = t.UTC()
			out.Window.Start = &t
		}
		if t, err := time.Parse(time.RFC3339, payload.TimeRange.End); err == nil {
			t = t.UTC()
			out.Window.End = &t
		}
	}
	return out, nil
}
