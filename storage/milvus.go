package storage

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"visualMem/config"
	"visualMem/core"
)

// MilvusIndex 主向量索引。整批一次列式 Insert，压缩效率高；
// 时间窗口用布尔表达式下推到 Milvus。
type MilvusIndex struct {
	mc   client.Client
	coll string
	dim  int
}

func NewMilvusIndex(cfg *config.Config) (*MilvusIndex, error) {
	addr := os.Getenv("MILVUS_ADDR")
	if addr == "" {
		addr = "localhost:19530"
	}
	username := os.Getenv("MILVUS_USERNAME")
	password := os.Getenv("MILVUS_PASSWORD")
	apiKey := os.Getenv("MILVUS_API_KEY") // For Zilliz Cloud
	coll := os.Getenv("MILVUS_COLLECTION")
	if coll == "" {
		coll = "visual_frames"
	}

	mc, err := client.NewClient(context.Background(), client.Config{
		Address: addr, Username: username, Password: password, APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}

	s := &MilvusIndex{mc: mc, coll: coll, dim: cfg.EmbeddingDim}
	if err := s.ensureSchemaAndIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MilvusIndex) ensureSchemaAndIndex() error {
	ctx := context.Background()
	has, err := s.mc.HasCollection(ctx, s.coll)
	if err != nil {
		return err
	}
	if !has {
		schema := entity.NewSchema()
		schema.WithField(entity.NewField().WithName("id").WithIsAutoID(true).WithIsPrimaryKey(true).WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("frame_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(64))
		// ts 为 unix 微秒，窗口过滤直接比较整数
		schema.WithField(entity.NewField().WithName("ts").WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("image_path").WithDataType(entity.FieldTypeVarChar).WithMaxLength(1024))
		schema.WithField(entity.NewField().WithName("ocr_text").WithDataType(entity.FieldTypeVarChar).WithMaxLength(8192))
		schema.WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dim)))

		if err := s.mc.CreateCollection(ctx, schema, int32(2)); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
	if err != nil {
		return fmt.Errorf("new hnsw index: %w", err)
	}
	if err := s.mc.CreateIndex(ctx, s.coll, "vector", idx, false, client.WithIndexName("idx_vector")); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := s.mc.LoadCollection(ctx, s.coll, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

// BatchInsert writes the whole batch in a single columnar insert. The batch
// either goes in as a unit or the error fails it as a unit; there is no
// partial-row rollback here.
func (s *MilvusIndex) BatchInsert(ctx context.Context, frames []*core.Frame) error {
	if len(frames) == 0 {
		return nil
	}

	frameIDs := make([]string, 0, len(frames))
	tss := make([]int64, 0, len(frames))
	paths := make([]string, 0, len(frames))
	texts := make([]string, 0, len(frames))
	vectors := make([][]float32, 0, len(frames))

	for _, f := range frames {
		if len(f.Embedding) != s.dim {
			return fmt.Errorf("frame %s embedding dim %d, index expects %d", f.FrameID, len(f.Embedding), s.dim)
		}
		frameIDs = append(frameIDs, f.FrameID)
		tss = append(tss, f.Timestamp.UnixMicro())
		paths = append(paths, f.ImagePath)
		texts = append(texts, f.OCRText)
		vectors = append(vectors, f.Embedding)
	}

	_, err := s.mc.Insert(ctx, s.coll, "",
		entity.NewColumnVarChar("frame_id", frameIDs),
		entity.NewColumnInt64("ts", tss),
		entity.NewColumnVarChar("image_path", paths),
		entity.NewColumnVarChar("ocr_text", texts),
		entity.NewColumnFloatVector("vector", s.dim, vectors),
	)
	if err != nil {
		return fmt.Errorf("milvus batch insert: %w", err)
	}
	return nil
}

func (s *MilvusIndex) Search(ctx context.Context, vector []float32, topK int, window core.TimeWindow) ([]core.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	sp, _ := entity.NewIndexHNSWSearchParam(74)

	expr := ""
	if window.Start != nil {
		expr = fmt.Sprintf("ts >= %d", window.Start.UnixMicro())
	}
	if window.End != nil {
		if expr != "" {
			expr += " && "
		}
		expr += fmt.Sprintf("ts <= %d", window.End.UnixMicro())
	}

	res, err := s.mc.Search(ctx, s.coll, []string{}, expr,
		[]string{"frame_id", "ts", "image_path", "ocr_text"},
		[]entity.Vector{entity.FloatVector(vector)}, "vector", entity.COSINE, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus search: %w", err)
	}

	var hits []core.SearchResult
	for _, r := range res {
		cols := map[string]entity.Column{}
		for _, c := range r.Fields {
			cols[c.Name()] = c
		}
		for i := 0; i < r.ResultCount; i++ {
			var frameID, path, text string
			var ts int64
			if c, ok := cols["frame_id"].(*entity.ColumnVarChar); ok {
				if data := c.Data(); i < len(data) {
					frameID = data[i]
				}
			}
			if c, ok := cols["ts"].(*entity.ColumnInt64); ok {
				if data := c.Data(); i < len(data) {
					ts = data[i]
				}
			}
			if c, ok := cols["image_path"].(*entity.ColumnVarChar); ok {
				if data := c.Data(); i < len(data) {
					path = data[i]
				}
			}
			if c, ok := cols["ocr_text"].(*entity.ColumnVarChar); ok {
				if data := c.Data(); i < len(data) {
					text = data[i]
				}
			}
			hits = append(hits, core.SearchResult{
				FrameID:   frameID,
				Timestamp: time.UnixMicro(ts).UTC(),
				ImagePath: path,
				OCRText:   text,
				Score:     float64(r.Scores[i]),
				Source:    core.SourceDense,
			})
		}
	}
	return hits, nil
}

func (s *MilvusIndex) Count(ctx context.Context) (int64, error) {
	stats, err := s.mc.GetCollectionStatistics(ctx, s.coll)
	if err != nil {
		return 0, fmt.Errorf("milvus stats: %w", err)
	}
	var n int64
	fmt.Sscanf(stats["row_count"], "%d", &n)
	return n, nil
}
