package operation

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// TaskGroup 有界的并发任务组
// Wait 会等所有已经启动的任务结束，再返回第一个错误
type TaskGroup struct {
	g   *errgroup.Group
	ctx context.Context
}

// NewTaskGroup limit <= 0 时使用 CPU 数
// 任何一个任务失败后，传给其余任务的 ctx 会被取消
func NewTaskGroup(ctx context.Context, limit int) *TaskGroup {
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	return &TaskGroup{g: g, ctx: gctx}
}

// Go 启动一个任务，达到并发上限时阻塞
func (t *TaskGroup) Go(fn func(ctx context.Context) error) {
	t.g.Go(func() error {
		if err := t.ctx.Err(); err != nil {
			return err
		}
		return fn(t.ctx)
	})
}

func (t *TaskGroup) Wait() error {
	return t.g.Wait()
}
