package pagination

import (
	"context"
	"time"

	"go-imsync/internal/eventloop"
	"go-imsync/internal/metrics"

	"go.uber.org/zap"
)

const DefaultPageSize = 30

type Outcome int

const (
	OutcomeSkipped   Outcome = iota // 已终止或在途，调用被吞掉
	OutcomeApplied                  // 合并了一页
	OutcomeExhausted                // 合并后到达末尾
	OutcomeFailed                   // 拉取失败，列表被标记为终止
	OutcomeStale                    // 响应到达时列表已被重置或释放
	OutcomeUnknownList
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeApplied:
		return "applied"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeFailed:
		return "failed"
	case OutcomeStale:
		return "stale"
	case OutcomeUnknownList:
		return "unknown_list"
	}
	return "unknown"
}

type Result struct {
	Outcome Outcome
	Added   int
	Err     error
}

type EngineOptions struct {
	PageSize     int
	FetchTimeout time.Duration
	Logger       *zap.Logger
}

// Engine 驱动同一类列表的向后分页。LoadMore 与 LoadPinned 必须在事件循环内调用，
// 网络请求在独立 goroutine 中执行，结果再投递回事件循环，应用前校验代际。
type Engine[T Item] struct {
	loop     *eventloop.Loop
	reg      *Registry[T]
	base     context.Context
	pageSize int
	timeout  time.Duration
	log      *zap.Logger

	// OnPage 一页合并后在事件循环内回调；first 表示这是列表的第一页
	OnPage func(l *List[T], added []T, first bool)
}

func NewEngine[T Item](ctx context.Context, loop *eventloop.Loop, reg *Registry[T], opts EngineOptions) *Engine[T] {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine[T]{
		loop:     loop,
		reg:      reg,
		base:     ctx,
		pageSize: opts.PageSize,
		timeout:  opts.FetchTimeout,
		log:      opts.Logger,
	}
}

func (e *Engine[T]) Registry() *Registry[T] { return e.reg }

func done(r Result) <-chan Result {
	ch := make(chan Result, 1)
	ch <- r
	return ch
}

// LoadMore 用当前游标拉取下一页。已终止或已有在途请求时直接返回 Skipped。
func (e *Engine[T]) LoadMore(id string) <-chan Result {
	l, ok := e.reg.Get(id)
	if !ok {
		return done(Result{Outcome: OutcomeUnknownList})
	}
	if l.exhausted || l.inFlight {
		return done(Result{Outcome: OutcomeSkipped})
	}
	l.inFlight = true
	gen, cur, strategy := l.gen, l.cursor, l.strategy
	kind := string(strategy.Kind())
	out := make(chan Result, 1)

	go func() {
		ctx, cancel := context.WithTimeout(e.base, e.timeout)
		defer cancel()
		start := time.Now()
		page, err := strategy.Fetch(ctx, cur)
		metrics.FetchLatency.WithLabelValues(kind).Observe(float64(time.Since(start).Milliseconds()))
		if !e.loop.Post(func() { out <- e.apply(id, l, gen, cur, page, err) }) {
			out <- Result{Outcome: OutcomeStale, Err: eventloop.ErrClosed}
		}
	}()
	return out
}

func (e *Engine[T]) apply(id string, l *List[T], gen uint64, cur Cursor, page Page[T], err error) Result {
	kind := string(l.strategy.Kind())
	if !e.reg.current(id, l, gen) {
		metrics.StaleDiscardsTotal.WithLabelValues(kind).Inc()
		e.log.Debug("stale page discarded", zap.String("list", id), zap.Uint64("gen", gen))
		return Result{Outcome: OutcomeStale}
	}
	l.inFlight = false
	if err != nil {
		// 无法区分暂时失败与没有更多数据，按终止处理，游标不前进
		l.exhausted = true
		metrics.FetchTotal.WithLabelValues(kind, OutcomeFailed.String()).Inc()
		e.log.Warn("page fetch failed, list closed", zap.String("list", id), zap.String("cursor", cur.String()), zap.Error(err))
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	added := l.mergePage(page.Items, l.strategy.Placement())
	if page.HasNext {
		l.cursor = page.Next
	}
	if !page.HasNext || len(page.Items) < e.pageSize {
		l.exhausted = true
	}
	outcome := OutcomeApplied
	if l.exhausted {
		outcome = OutcomeExhausted
	}
	metrics.FetchTotal.WithLabelValues(kind, outcome.String()).Inc()
	if e.OnPage != nil {
		e.OnPage(l, added, cur.Kind == CursorStart)
	}
	return Result{Outcome: outcome, Added: len(added)}
}

// LoadPinned 加载置顶段（如置顶评论），只替换 top，不影响游标与终止标记
func (e *Engine[T]) LoadPinned(id string, fetch func(ctx context.Context) ([]T, error)) <-chan Result {
	l, ok := e.reg.Get(id)
	if !ok {
		return done(Result{Outcome: OutcomeUnknownList})
	}
	gen := l.gen
	out := make(chan Result, 1)
	go func() {
		ctx, cancel := context.WithTimeout(e.base, e.timeout)
		defer cancel()
		items, err := fetch(ctx)
		posted := e.loop.Post(func() {
			if !e.reg.current(id, l, gen) {
				metrics.StaleDiscardsTotal.WithLabelValues(string(l.strategy.Kind())).Inc()
				out <- Result{Outcome: OutcomeStale}
				return
			}
			if err != nil {
				e.log.Warn("pinned fetch failed", zap.String("list", id), zap.Error(err))
				out <- Result{Outcome: OutcomeFailed, Err: err}
				return
			}
			l.SetTop(items)
			out <- Result{Outcome: OutcomeApplied, Added: len(items)}
		})
		if !posted {
			out <- Result{Outcome: OutcomeStale, Err: eventloop.ErrClosed}
		}
	}()
	return out
}
