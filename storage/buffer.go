package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"visualMem/core"
)

// BatchWriteBuffer 批量写入缓冲区：累积帧，达到批次大小或刷新间隔时
// 批量写入两个后端。向量索引整批一次写入，二级索引逐行写入。
type BatchWriteBuffer struct {
	vector VectorIndex
	meta   MetadataIndex
	log    *slog.Logger

	batchSize int
	interval  time.Duration

	mu        sync.Mutex
	entries   []*core.Frame
	lastFlush time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewBatchWriteBuffer(vector VectorIndex, meta MetadataIndex, batchSize int, interval time.Duration, log *slog.Logger) *BatchWriteBuffer {
	if batchSize <= 0 {
		batchSize = 10
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &BatchWriteBuffer{
		vector:    vector,
		meta:      meta,
		log:       log,
		batchSize: batchSize,
		interval:  interval,
		lastFlush: time.Now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start 启动后台定时刷新（每秒检查一次间隔）
func (b *BatchWriteBuffer) Start() {
	go func() {
		defer close(b.done)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-b.stop:
				return
			case <-ticker.C:
				b.mu.Lock()
				due := time.Since(b.lastFlush) >= b.interval && len(b.entries) > 0
				b.mu.Unlock()
				if due {
					b.log.Info("flush interval reached, flushing batch")
					b.Flush()
				}
			}
		}
	}()
}

// Add appends an entry. When the buffer reaches the batch size the calling
// goroutine performs the flush synchronously before Add returns.
func (b *BatchWriteBuffer) Add(frame *core.Frame) {
	b.mu.Lock()
	b.entries = append(b.entries, frame)
	shouldFlush := len(b.entries) >= b.batchSize
	b.mu.Unlock()

	if shouldFlush {
		b.log.Info("buffer reached batch size, flushing", "batch_size", b.batchSize)
		b.Flush()
	}
}

// Flush writes out everything currently buffered. Contents are swapped out
// and the timer reset under the lock; all I/O happens after the lock is
// released so producers never wait on the backends. No-op when empty.
func (b *BatchWriteBuffer) Flush() {
	b.mu.Lock()
	if len(b.entries) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.entries
	b.entries = nil
	b.lastFlush = time.Now()
	b.mu.Unlock()

	ctx := context.Background()

	// 向量索引：整批一次写入，失败即整批失败，不做行级回滚
	if err := b.vector.BatchInsert(ctx, batch); err != nil {
		b.log.Error("vector batch write failed", "count", len(batch), "error", err)
	} else {
		b.log.Info("vector batch written", "count", len(batch))
	}

	// 二级索引：逐行写入，单行失败只丢该行
	for _, frame := range batch {
		if err := b.meta.InsertFrame(ctx, frame); err != nil {
			b.log.Error("metadata write failed", "frame_id", frame.FrameID, "error", err)
		}
	}

	// 帧已持久化，释放像素数据
	for _, frame := range batch {
		frame.Image = nil
	}
}

// Len 当前缓冲帧数
func (b *BatchWriteBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Stop halts the ticker and forces a final flush.
func (b *BatchWriteBuffer) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		<-b.done
		b.Flush()
	})
}
