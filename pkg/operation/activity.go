package operation

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Activity 进度报告的工厂
type Activity interface {
	Start(ctx context.Context, name string, total int64) Tracker
}

// Tracker 报告一项工作的进度，同时也是取消信号的检查点
// 调用方在两个完整的工作单元之间调用 Worked，不会在单个对象中途检查
type Tracker interface {
	// Worked 记录完成了 n 个单元，返回非 nil 表示应该停止
	Worked(n int64) error
	Done()
}

// NopActivity 只检查取消，不报告
type NopActivity struct{}

func (NopActivity) Start(ctx context.Context, name string, total int64) Tracker {
	return nopTracker{ctx: ctx}
}

type nopTracker struct{ ctx context.Context }

func (t nopTracker) Worked(int64) error { return t.ctx.Err() }
func (t nopTracker) Done()              {}

// LogActivity 把进度写到 slog
type LogActivity struct {
	Logger *slog.Logger
	// Every 两次进度日志之间至少间隔多久
	Every time.Duration
}

func (a LogActivity) Start(ctx context.Context, name string, total int64) Tracker {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	every := a.Every
	if every <= 0 {
		every = 2 * time.Second
	}
	logger.Debug("activity started", "name", name, "total", total)
	now := time.Now()
	t := &logTracker{ctx: ctx, logger: logger, name: name, total: total, start: now, every: every}
	t.last.Store(now.UnixNano())
	return t
}

type logTracker struct {
	ctx    context.Context
	logger *slog.Logger
	name   string
	total  int64
	start  time.Time
	every  time.Duration

	done atomic.Int64
	last atomic.Int64
}

func (t *logTracker) Worked(n int64) error {
	done := t.done.Add(n)
	now := time.Now().UnixNano()
	last := t.last.Load()
	if time.Duration(now-last) >= t.every && t.last.CompareAndSwap(last, now) {
		t.logger.Info("progress", "name", t.name, "done", done, "total", t.total)
	}
	return t.ctx.Err()
}

func (t *logTracker) Done() {
	t.logger.Info("activity finished",
		"name", t.name,
		"done", t.done.Load(),
		"elapsed", time.Since(t.start).Round(time.Millisecond),
	)
}
