package server

import (
	"log/slog"
	"net/http"

	"visualMem/config"
	"visualMem/pipeline"
	"visualMem/retrieval"
	"visualMem/storage"
)

// Server HTTP 服务：依赖全部注入，不持有全局状态
type Server struct {
	cfg *config.Config
	log *slog.Logger

	ingestor  *pipeline.Ingestor
	rewriter  retrieval.Rewriter
	retriever *retrieval.HybridRetriever
	refiner   *retrieval.Refiner
	answerer  retrieval.Answerer

	vector storage.VectorIndex
	meta   storage.MetadataIndex
	buffer *storage.BatchWriteBuffer
	images *storage.ImageStore

	// 队列深度探针（OCR 关闭时为 nil）
	queueDepth func() int

	// /api/recording/stop 的回调：停采集并同步落盘
	stopRecording func()
}

type Options struct {
	Config        *config.Config
	Log           *slog.Logger
	Ingestor      *pipeline.Ingestor
	Rewriter      retrieval.Rewriter
	Retriever     *retrieval.HybridRetriever
	Refiner       *retrieval.Refiner
	Answerer      retrieval.Answerer
	Vector        storage.VectorIndex
	Meta          storage.MetadataIndex
	Buffer        *storage.BatchWriteBuffer
	Images        *storage.ImageStore
	QueueDepth    func() int
	StopRecording func()
}

func New(opts Options) *Server {
	return &Server{
		cfg:           opts.Config,
		log:           opts.Log,
		ingestor:      opts.Ingestor,
		rewriter:      opts.Rewriter,
		retriever:     opts.Retriever,
		refiner:       opts.Refiner,
		answerer:      opts.Answerer,
		vector:        opts.Vector,
		meta:          opts.Meta,
		buffer:        opts.Buffer,
		images:        opts.Images,
		queueDepth:    opts.QueueDepth,
		stopRecording: opts.StopRecording,
	}
}

// Routes 注册所有端点
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	// ========== 入库 ==========
	mux.HandleFunc("/api/store_frame", s.handleStoreFrame)
	mux.HandleFunc("/api/recording/stop", s.handleStopRecording)

	// ========== 查询 ==========
	mux.HandleFunc("/api/query_rag_with_time", s.handleQueryRAG)

	// ========== 浏览 ==========
	mux.HandleFunc("/api/frames", s.handleFramesInRange)
	mux.HandleFunc("/api/frames/date", s.handleFramesByDate)
	mux.HandleFunc("/api/frames/date/count", s.handleCountByDate)
	mux.HandleFunc("/api/recent_frames", s.handleRecentFrames)
	mux.HandleFunc("/api/date-range", s.handleDateRange)
	mux.HandleFunc("/api/image", s.handleImage)

	// ========== 运维 ==========
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/health", s.handleHealth)

	return mux
}
