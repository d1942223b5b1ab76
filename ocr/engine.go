package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"time"
)

// Result OCR 识别结果
type Result struct {
	Text       string  `json:"text"`
	TextJSON   string  `json:"text_json"`
	Confidence float64 `json:"confidence"`
	Engine     string  `json:"engine"`
}

// Engine runs text recognition on a frame image. The recognition internals
// live behind an HTTP service; this package only holds the contract.
type Engine interface {
	Recognize(ctx context.Context, img image.Image) (Result, error)
}

// ========== HTTP engine ==========

type httpEngineRequest struct {
	ImageBase64 string `json:"image_base64"`
}

// HTTPEngine 调用外部 OCR 服务（POST /ocr，JPEG base64 入参）
type HTTPEngine struct {
	baseURL string
	client  *http.Client
}

func NewHTTPEngine(baseURL string) *HTTPEngine {
	return &HTTPEngine{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (e *HTTPEngine) Recognize(ctx context.Context, img image.Image) (Result, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return Result{}, fmt.Errorf("encode image for ocr: %w", err)
	}

	reqBody, err := json.Marshal(httpEngineRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal ocr request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/ocr", bytes.NewReader(reqBody))
	if err != nil {
		return Result{}, fmt.Errorf("create ocr request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("ocr request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("ocr service returned status %d: %s", resp.StatusCode, string(body))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decode ocr response: %w", err)
	}
	return result, nil
}

// ========== Dummy engine ==========

// DummyEngine 空实现，OCR 服务不可用时的兜底
type DummyEngine struct{}

func (DummyEngine) Recognize(ctx context.Context, img image.Image) (Result, error) {
	return Result{Engine: "dummy"}, nil
}
