package retrieval

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"time"
)

// Reranker reorders candidate frames by relevance to the query. Input order
// is the merge order; output is best-first.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []LoadedFrame) ([]LoadedFrame, error)
}

// HTTPReranker 调用多模态重排服务：POST {base}/rerank，
// 返回按相关性排序的候选下标。
type HTTPReranker struct {
	baseURL string
	client  *http.Client
}

func NewHTTPReranker(baseURL string) *HTTPReranker {
	return &HTTPReranker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Images    []string `json:"images"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"relevance_score"`
	} `json:"results"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []LoadedFrame) ([]LoadedFrame, error) {
	if len(candidates) <= 1 {
		return candidates, nil
	}

	req := rerankRequest{Query: query}
	for _, c := range candidates {
		req.Documents = append(req.Documents, c.OCRText)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, c.Image, &jpeg.Options{Quality: 80}); err != nil {
			return nil, fmt.Errorf("encode candidate image: %w", err)
		}
		req.Images = append(req.Images, base64.StdEncoding.EncodeToString(buf.Bytes()))
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var rerankResp rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rerankResp); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	ordered := make([]LoadedFrame, 0, len(candidates))
	for _, res := range rerankResp.Results {
		if res.Index < 0 || res.Index >= len(candidates) {
			return nil, fmt.Errorf("rerank returned out-of-range index %d", res.Index)
		}
		c := candidates[res.Index]
		c.Score = res.Score
		ordered = append(ordered, c)
	}
	if len(ordered) == 0 {
		return nil, fmt.Errorf("rerank returned no results")
	}
	return ordered, nil
}
