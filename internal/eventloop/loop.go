// Package eventloop 单线程事件队列：传输层帧、HTTP 响应与控制接口调用都投递到这里，
// 由唯一的 goroutine 依次执行，列表状态只在该 goroutine 内修改，无需加锁。
package eventloop

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("eventloop: closed")

type Loop struct {
	events chan func()
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	log    *zap.Logger
}

func New(size int, log *zap.Logger) *Loop {
	if size <= 0 {
		size = 1024
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		events: make(chan func(), size),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		log:    log,
	}
}

// Run 阻塞执行事件，直到 ctx 取消或 Close
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.quit:
			return
		case fn := <-l.events:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("event handler panic", zap.Any("panic", r))
		}
	}()
	fn()
}

// Post 投递一个事件；队列满时阻塞（背压），循环已关闭返回 false。
// 不要在循环 goroutine 内对已满队列 Post。
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	case <-l.done:
		return false
	default:
	}
	select {
	case l.events <- fn:
		return true
	case <-l.quit:
		return false
	case <-l.done:
		return false
	}
}

// Call 投递事件并等待其执行完成
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// 事件可能在关闭前刚好执行完
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Close 停止循环，未执行的事件被丢弃
func (l *Loop) Close() {
	l.once.Do(func() { close(l.quit) })
}

// Done 循环退出后关闭
func (l *Loop) Done() <-chan struct{} { return l.done }
