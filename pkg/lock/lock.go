// Package lock 实现基于锁文件的目录互斥协议
//
// 每个受保护的目录下有一个 .lock 文件，内容是持有者的身份描述。
// 加锁依赖 O_CREATE|O_EXCL 的原子创建；已有锁文件时由调用方提供的
// Validator 判断它是否已经失效 (持有者已经不在了)。
package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// FileName 锁文件名
const FileName = ".lock"

// breakerSuffix 清理失效锁时持有的短期互斥文件
const breakerSuffix = ".break"

var (
	// ErrTimeout 重试次数耗尽，需要人工介入
	ErrTimeout = errors.New("lock timeout")
	// ErrInterrupted 等待过程中被取消
	ErrInterrupted = errors.New("lock wait interrupted")
	// ErrNotHeld 释放一个没有持有的锁
	ErrNotHeld = errors.New("lock not held")
)

const (
	DefaultGracePeriod   = 10 * time.Second
	DefaultRetryInterval = 100 * time.Millisecond
	DefaultMaxRetries    = 600
)

// Validator 判断锁文件内容对应的持有者是否仍然有效
type Validator func(content string) bool

// EmptyPolicy 决定宽限期内空内容的锁文件如何处理
// 创建锁文件和写入内容不是一个原子操作，中间会短暂出现空文件
type EmptyPolicy string

const (
	EmptyValid EmptyPolicy = "valid" // 宽限期内的空文件视为有效 (默认)
	EmptyStale EmptyPolicy = "stale" // 空文件一律交给 Validator 判断
)

// ParseEmptyPolicy 解析配置值，空字符串返回默认值
func ParseEmptyPolicy(s string) (EmptyPolicy, error) {
	switch EmptyPolicy(s) {
	case "", EmptyValid:
		return EmptyValid, nil
	case EmptyStale:
		return EmptyStale, nil
	default:
		return "", fmt.Errorf("unknown empty lock policy %q (want %q or %q)", s, EmptyValid, EmptyStale)
	}
}

type Options struct {
	// Content 写入锁文件的持有者身份
	Content string
	// Validator 为 nil 时任何已存在的锁都视为有效，调用方只能等待
	Validator Validator
	// GracePeriod 比这个更新的锁文件即使内容不对也视为有效
	GracePeriod   time.Duration
	RetryInterval time.Duration
	MaxRetries    int
	EmptyInGrace  EmptyPolicy
}

func (o Options) withDefaults() Options {
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.EmptyInGrace == "" {
		o.EmptyInGrace = EmptyValid
	}
	return o
}

// DirLock 保护一个目录
type DirLock struct {
	path string
	opts Options
	held bool
}

// New 为 dir 创建锁对象，不会触碰文件系统
func New(dir string, opts Options) *DirLock {
	return &DirLock{
		path: filepath.Join(dir, FileName),
		opts: opts.withDefaults(),
	}
}

// Acquire 创建并立即加锁
func Acquire(ctx context.Context, dir string, opts Options) (*DirLock, error) {
	l := New(dir, opts)
	if err := l.Lock(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Path 锁文件路径
func (l *DirLock) Path() string { return l.path }

// Held 当前对象是否持有锁
func (l *DirLock) Held() bool { return l.held }

// Lock 阻塞直到拿到锁，或者重试耗尽/被取消
func (l *DirLock) Lock(ctx context.Context) error {
	if l.held {
		return fmt.Errorf("lock %s already held by this handle", l.path)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}

	for attempt := 0; ; attempt++ {
		// 1. 尝试原子创建
		created, err := l.tryCreate()
		if err != nil {
			return err
		}
		if created {
			l.held = true
			return nil
		}

		// 2. 已存在：检查是否失效
		st, err := l.inspect()
		if err != nil {
			return err
		}
		if st.gone {
			continue
		}
		if st.stale {
			retry, err := l.removeStale(st.content)
			if err != nil {
				return err
			}
			if retry {
				continue
			}
		}

		// 3. 有效的锁：等待后重试
		if attempt >= l.opts.MaxRetries {
			return fmt.Errorf("%w: could not lock %s after %d attempts; inspect the lock file and remove it manually if its owner is gone",
				ErrTimeout, l.path, attempt+1)
		}
		if err := sleep(ctx, l.opts.RetryInterval); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInterrupted, l.path, err)
		}
	}
}

// Await 只等待锁消失或失效，不会尝试加锁
// 被取消时直接返回 nil
func (l *DirLock) Await(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		st, err := l.inspect()
		if err != nil {
			return err
		}
		if st.gone || st.stale {
			return nil
		}
		if attempt >= l.opts.MaxRetries {
			return fmt.Errorf("%w: %s still locked after %d attempts; inspect the lock file and remove it manually if its owner is gone",
				ErrTimeout, l.path, attempt+1)
		}
		if err := sleep(ctx, l.opts.RetryInterval); err != nil {
			slog.Debug("lock await interrupted", "path", l.path)
			return nil
		}
	}
}

// Release 删除锁文件，失败时按 RetryInterval 重试
// 锁文件已经被别人接管 (内容不一致) 时不删除
func (l *DirLock) Release() error {
	if !l.held {
		return ErrNotHeld
	}
	l.held = false

	var lastErr error
	for range 10 {
		content, err := os.ReadFile(l.path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err == nil && string(content) != l.opts.Content {
			slog.Warn("lock file was taken over, leaving it in place", "path", l.path)
			return nil
		}
		if err == nil {
			err = os.Remove(l.path)
			if err == nil || errors.Is(err, fs.ErrNotExist) {
				return nil
			}
		}
		lastErr = err
		time.Sleep(l.opts.RetryInterval)
	}
	return fmt.Errorf("release lock %s: %w", l.path, lastErr)
}

func (l *DirLock) tryCreate() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create lock %s: %w", l.path, err)
	}
	_, werr := f.WriteString(l.opts.Content)
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(l.path)
		return false, fmt.Errorf("write lock %s: %w", l.path, werr)
	}
	return true, nil
}

type lockState struct {
	content string
	stale   bool
	gone    bool // 检查期间锁文件已经消失
}

// inspect 读取已有锁文件并判断是否失效
func (l *DirLock) inspect() (lockState, error) {
	info, err := os.Stat(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return lockState{gone: true}, nil
	}
	if err != nil {
		return lockState{}, fmt.Errorf("stat lock %s: %w", l.path, err)
	}
	content, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return lockState{gone: true}, nil
	}
	if err != nil {
		return lockState{}, fmt.Errorf("read lock %s: %w", l.path, err)
	}
	return lockState{
		content: string(content),
		stale:   l.isStale(string(content), time.Since(info.ModTime())),
	}, nil
}

// removeStale 删除内容为 seen 的失效锁，返回 true 表示应该立即重试加锁
//
// 读内容和删除不是一个原子操作，所以:
//  1. 同一时刻只有持有 breaker 文件的等待者可以清理
//  2. 锁文件先被 rename 到唯一的墓碑名，确认移走的就是 seen 之后才删除，
//     否则用 Link (不覆盖) 放回原处
func (l *DirLock) removeStale(seen string) (bool, error) {
	breaker := l.path + breakerSuffix
	ok, err := l.acquireBreaker(breaker)
	if err != nil || !ok {
		return false, err
	}
	defer os.Remove(breaker)

	current, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read lock %s: %w", l.path, err)
	}
	if string(current) != seen {
		return true, nil
	}

	tomb := tombstone(l.path)
	if err := os.Rename(l.path, tomb); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("move stale lock %s: %w", l.path, err)
	}
	defer os.Remove(tomb)

	moved, err := os.ReadFile(tomb)
	if err != nil || string(moved) != seen {
		// 移走的是别人刚拿到的锁，放回去
		if lerr := os.Link(tomb, l.path); lerr != nil {
			slog.Error("failed to restore lock moved during stale cleanup", "path", l.path, "error", lerr)
		}
		return true, nil
	}
	slog.Warn("removing stale lock", "path", l.path, "owner", seen)
	return true, nil
}

// acquireBreaker 尝试创建 breaker 文件，已被别人持有时返回 false
// 超过 GracePeriod 的 breaker 视为清理者中途崩溃留下的，同样先移到墓碑再确认
func (l *DirLock) acquireBreaker(path string) (bool, error) {
	for range 2 {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			return true, f.Close()
		}
		if !errors.Is(err, fs.ErrExist) {
			return false, fmt.Errorf("create lock breaker %s: %w", path, err)
		}

		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("stat lock breaker %s: %w", path, err)
		}
		if time.Since(info.ModTime()) < l.opts.GracePeriod {
			return false, nil
		}

		tomb := tombstone(path)
		if err := os.Rename(path, tomb); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return false, fmt.Errorf("move abandoned lock breaker %s: %w", path, err)
		}
		if moved, err := os.Stat(tomb); err == nil && time.Since(moved.ModTime()) < l.opts.GracePeriod {
			_ = os.Link(tomb, path)
		}
		os.Remove(tomb)
	}
	return false, nil
}

func tombstone(path string) string {
	return path + ".stale-" + uuid.NewString()
}

func (l *DirLock) isStale(content string, age time.Duration) bool {
	if l.opts.Validator == nil {
		return false
	}
	if age < l.opts.GracePeriod {
		if content == "" && l.opts.EmptyInGrace == EmptyStale {
			return !l.opts.Validator(content)
		}
		return false
	}
	return !l.opts.Validator(content)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
