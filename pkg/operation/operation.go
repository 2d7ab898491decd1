// Package operation 定义在 hive 上执行的工作单元
//
// 每个操作是一个不可变的配置结构体：先 Validate，再拿着 Env (对象库、Manifest 数据库、
// 进度报告) 运行。加锁和缓存失效由 hive 包在外层统一处理。
package operation

import (
	"context"
	"errors"
	"fmt"

	"hive/pkg/manifest"
	"hive/pkg/scanner"
	"hive/pkg/storage"
)

// ErrPrecondition 操作参数不完整或不合法，立即失败，不重试
var ErrPrecondition = errors.New("precondition failed")

// Require 断言前置条件
func Require(cond bool, format string, args ...any) error {
	if cond {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

// Operation 返回 R 的工作单元
type Operation[R any] interface {
	// Validate 检查参数，失败时返回包装了 ErrPrecondition 的错误
	Validate() error
	Run(ctx context.Context, env *Env) (R, error)
}

// Exclusive 由需要独占整个 hive 的操作实现 (fsck 修复、prune)
type Exclusive interface {
	Exclusive() bool
}

// Mutating 由会在外部缓存之外修改对象库的操作实现，执行前后都要清空缓存
type Mutating interface {
	Mutating() bool
}

// Env 操作运行时可以使用的协作者
type Env struct {
	Objects   storage.Store
	Manifests manifest.Database
	Activity  Activity
	// Refs Manifest 传递引用的缓存，可以为 nil
	Refs *manifest.RefCache
	// MarkerRoot 标记数据库的根目录，为空表示没有标记数据库
	MarkerRoot string
}

// Scanner 基于本环境创建扫描器
func (e *Env) Scanner(opts scanner.Options) *scanner.Scanner {
	s := scanner.New(e.Objects, e.Manifests, opts)
	if e.Refs != nil && !opts.SkipReferences {
		s.WithRefCache(e.Refs)
	}
	return s
}

// Track 开始一项进度报告，Activity 为空时使用 NopActivity
func (e *Env) Track(ctx context.Context, name string, total int64) Tracker {
	if e.Activity == nil {
		return NopActivity{}.Start(ctx, name, total)
	}
	return e.Activity.Start(ctx, name, total)
}

// Invalidate 清空所有缓存
func (e *Env) Invalidate(ctx context.Context) error {
	if e.Refs != nil {
		e.Refs.Invalidate()
	}
	if err := storage.Invalidate(ctx, e.Objects); err != nil {
		return fmt.Errorf("invalidate object cache: %w", err)
	}
	if err := manifest.Invalidate(ctx, e.Manifests); err != nil {
		return fmt.Errorf("invalidate manifest cache: %w", err)
	}
	return nil
}

// Execute 校验并运行一个操作，不处理加锁
func Execute[R any](ctx context.Context, env *Env, op Operation[R]) (R, error) {
	var zero R
	if err := Require(env != nil && env.Objects != nil && env.Manifests != nil,
		"operation needs an object store and a manifest database"); err != nil {
		return zero, err
	}
	if err := op.Validate(); err != nil {
		return zero, err
	}
	return op.Run(ctx, env)
}

// IsExclusive 操作是否需要独占
func IsExclusive(op any) bool {
	e, ok := op.(Exclusive)
	return ok && e.Exclusive()
}

// IsMutating 操作是否需要前后清空缓存
func IsMutating(op any) bool {
	m, ok := op.(Mutating)
	return ok && m.Mutating()
}
