package retrieval

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

	openai "github.com/sashabaranov/go-openai"

	"visualMem/config"
)

// Encoder 多模态 embedding：查询文本和帧图片编码到同一向量空间
type Encoder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedImage(ctx context.Context, img image.Image) ([]float32, error)
}

// APIEncoder 文本走 OpenAI 兼容 embeddings 接口，
// 图片走 CLIP 编码服务（图文对齐，维度一致）。
type APIEncoder struct {
	oa            *openai.Client
	model         string
	imageEmbedURL string
	client        *http.Client
}

func NewAPIEncoder(cfg *config.Config) *APIEncoder {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &APIEncoder{
		oa:            openai.NewClientWithConfig(clientConfig),
		model:         cfg.EmbeddingModel,
		imageEmbedURL: cfg.ImageEmbedURL,
		client:        &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *APIEncoder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	}
	resp, err := e.oa.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("embedding API failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Data[0].Embedding, nil
}

type imageEmbedRequest struct {
	Model       string `json:"model,omitempty"`
	ImageBase64 string `json:"image_base64"`
}

type imageEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *APIEncoder) EmbedImage(ctx context.Context, img image.Image) ([]float32, error) {
	if e.imageEmbedURL == "" {
		return nil, fmt.Errorf("image embedding service not configured")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	reqBody, err := json.Marshal(imageEmbedRequest{
		Model:       e.model,
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.imageEmbedURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("image embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("image embed service returned status %d: %s", resp.StatusCode, string(body))
	}

	var embedResp imageEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(embedResp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return embedResp.Data[0].Embedding, nil
}
