package capture

import (
	"context"
	"log/slog"
	"time"

	"visualMem/core"
)

// Sink 接收通过帧差过滤的帧（由 ingest 管道实现）
type Sink interface {
	Ingest(ctx context.Context, frame *core.RawFrame) (*core.Frame, error)
}

// Recorder 采集循环：严格串行，同一时刻最多一帧在途，
// 每次迭代之间按固定间隔休眠。
type Recorder struct {
	source   FrameSource
	filter   *Filter
	sink     Sink
	interval time.Duration
	log      *slog.Logger

	stop chan struct{}
	done chan struct{}
}

func NewRecorder(source FrameSource, filter *Filter, sink Sink, interval time.Duration, log *slog.Logger) *Recorder {
	return &Recorder{
		source:   source,
		filter:   filter,
		sink:     sink,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the capture loop until Stop is called. Capture failures are
// transient: log, wait one interval, try again.
func (r *Recorder) Start(ctx context.Context) {
	go r.run(ctx)
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)
	kept := 0

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		frame, err := r.source.Capture(ctx)
		if err != nil {
			r.log.Warn("capture failed", "error", err)
			r.sleep()
			continue
		}

		if !r.filter.Keep(frame.Image) {
			r.log.Debug("frame filtered", "timestamp", frame.Timestamp)
			r.sleep()
			continue
		}

		stored, err := r.sink.Ingest(ctx, frame)
		if err != nil {
			r.log.Error("ingest failed", "error", err)
			r.sleep()
			continue
		}

		kept++
		r.log.Info("frame stored", "frame_id", stored.FrameID, "total", kept)
		r.sleep()
	}
}

func (r *Recorder) sleep() {
	select {
	case <-time.After(r.interval):
	case <-r.stop:
	}
}

// Stop halts the loop and waits for the in-flight iteration to finish.
func (r *Recorder) Stop() {
	close(r.stop)
	<-r.done
}
