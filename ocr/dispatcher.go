package ocr

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"time"
)

// ResultSink 接收识别完成的结果（由二级索引实现）。
// 结果可能先于帧元数据行落库，实现方必须能独立落下 OCR 字段。
type ResultSink interface {
	WriteOCR(ctx context.Context, frameID string, ts time.Time, res Result) error
}

// Task 一次 OCR 任务
type Task struct {
	FrameID   string
	Timestamp time.Time
	Image     image.Image
}

// Dispatcher hands frames to a bounded OCR worker pool without ever blocking
// ingestion. Backpressure policy is drop, never block: a full queue rejects
// the submission and the frame keeps its pending OCR fields forever.
type Dispatcher struct {
	engine  Engine
	sink    ResultSink
	queue   chan Task
	workers int
	log     *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(engine Engine, sink ResultSink, queueSize, workers int, log *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 100
	}
	if workers <= 0 {
		workers = 1
	}
	d := &Dispatcher{
		engine:  engine,
		sink:    sink,
		queue:   make(chan Task, queueSize),
		workers: workers,
		log:     log,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Submit enqueues a task without blocking. Returns false when the queue is
// full or the dispatcher is shut down; the caller must not retry.
func (d *Dispatcher) Submit(task Task) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- task:
		return true
	default:
		d.log.Warn("ocr queue full, dropping frame", "frame_id", task.FrameID)
		return false
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for task := range d.queue {
		res, err := d.engine.Recognize(context.Background(), task.Image)
		if err != nil {
			d.log.Error("ocr failed", "frame_id", task.FrameID, "error", err)
			continue
		}
		if err := d.sink.WriteOCR(context.Background(), task.FrameID, task.Timestamp, res); err != nil {
			d.log.Error("write ocr result failed", "frame_id", task.FrameID, "error", err)
			continue
		}
		d.log.Debug("ocr done", "frame_id", task.FrameID,
			"text_len", len(res.Text), "confidence", res.Confidence)
	}
}

// Shutdown stops accepting submissions and waits up to timeout for the
// queue to drain. Tasks still queued at timeout are abandoned; work already
// picked up by a worker is not cancelled mid-flight.
func (d *Dispatcher) Shutdown(timeout time.Duration) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		d.log.Warn("ocr drain timed out, abandoning queued frames", "remaining", len(d.queue))
	}
}

// QueueDepth 当前排队任务数（用于 stats）
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}
