package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"visualMem/capture"
	"visualMem/config"
	"visualMem/core"
	"visualMem/ocr"
	"visualMem/pipeline"
	"visualMem/retrieval"
	"visualMem/server"
	"visualMem/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := core.NewLogger(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// ========== 存储层 ==========
	images, err := storage.NewImageStore(cfg.ImageStoragePath, cfg.ImageQuality)
	if err != nil {
		log.Error("init image store failed", "error", err)
		os.Exit(1)
	}
	vector := storage.NewVectorIndex(cfg, log)
	meta, err := storage.NewPostgresMeta(ctx, cfg)
	if err != nil {
		log.Error("init postgres failed", "error", err)
		os.Exit(1)
	}
	defer meta.Close()

	buffer := storage.NewBatchWriteBuffer(vector, meta, cfg.BatchSize,
		time.Duration(cfg.FlushIntervalSeconds)*time.Second, log)
	buffer.Start()

	// ========== OCR ==========
	var dispatcher *ocr.Dispatcher
	if cfg.EnableOCR {
		var engine ocr.Engine = ocr.DummyEngine{}
		if cfg.OCRServiceURL != "" {
			engine = ocr.NewHTTPEngine(cfg.OCRServiceURL)
		} else {
			log.Warn("OCR enabled but OCR_SERVICE_URL not set, using dummy engine")
		}
		dispatcher = ocr.NewDispatcher(engine, meta, cfg.OCRQueueSize, cfg.OCRWorkers, log)
	}

	// ========== 入库 / 检索管线 ==========
	encoder := retrieval.NewAPIEncoder(cfg)
	ingestor := pipeline.NewIngestor(images, encoder, buffer, dispatcher, log)

	rewriter := retrieval.NewLLMRewriter(cfg)
	retriever := retrieval.NewHybridRetriever(encoder, vector, meta, cfg.MaxImagesToLoad, log)

	var reranker retrieval.Reranker
	if cfg.RerankURL != "" {
		reranker = retrieval.NewHTTPReranker(cfg.RerankURL)
	}
	refiner := retrieval.NewRefiner(images, reranker, cfg.RerankTopK, cfg.MaxImagesToLoad, log)
	answerer := retrieval.NewVLMAnswerer(cfg)

	// ========== 采集循环（可选）==========
	var recorder *capture.Recorder
	var stopRecorder sync.Once
	if cfg.CaptureCommand != "" {
		source := capture.NewCommandSource(cfg.CaptureCommand)
		filter := capture.NewFilter(cfg.DiffThreshold)
		recorder = capture.NewRecorder(source, filter, ingestor,
			time.Duration(cfg.CaptureIntervalSeconds)*time.Second, log)
		recorder.Start(ctx)
		log.Info("capture loop started",
			"interval", cfg.CaptureIntervalSeconds,
			"diff_threshold", cfg.DiffThreshold)
	} else {
		log.Info("no capture command configured, push-only mode")
	}
	stopRecording := func() {
		if recorder != nil {
			stopRecorder.Do(recorder.Stop)
		}
	}

	// ========== HTTP 服务 ==========
	queueDepth := func() int { return 0 }
	if dispatcher != nil {
		queueDepth = dispatcher.QueueDepth
	}
	srv := server.New(server.Options{
		Config:        cfg,
		Log:           log,
		Ingestor:      ingestor,
		Rewriter:      rewriter,
		Retriever:     retriever,
		Refiner:       refiner,
		Answerer:      answerer,
		Vector:        vector,
		Meta:          meta,
		Buffer:        buffer,
		Images:        images,
		QueueDepth:    queueDepth,
		StopRecording: stopRecording,
	})

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	httpServer := &http.Server{Addr: addr, Handler: srv.Routes()}

	go func() {
		log.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// 关停顺序：先停采集，再排空 OCR，最后把缓冲区刷盘
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	stopRecording()
	if dispatcher != nil {
		dispatcher.Shutdown(20 * time.Second)
	}
	buffer.Stop()
	log.Info("shutdown complete")
}
