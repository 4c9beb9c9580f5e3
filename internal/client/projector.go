package client

import (
	"context"
	"time"

	"go-imsync/internal/metrics"
	"go-imsync/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sink 投影输出（Redis、MySQL、Mongo、Kafka、NATS）。Handle 在独立 goroutine 中调用，
// 失败只记录，不影响事件循环。
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev models.ProjectionEvent) error
}

const projectorBuffer = 256

type projector struct {
	owner int64
	sinks []Sink
	ch    chan models.ProjectionEvent
	log   *zap.Logger
}

func newProjector(owner int64, sinks []Sink, log *zap.Logger) *projector {
	return &projector{owner: owner, sinks: sinks, ch: make(chan models.ProjectionEvent, projectorBuffer), log: log}
}

// emit 在事件循环内调用，缓冲满时丢弃
func (p *projector) emit(kind string, fill func(*models.ProjectionEvent)) {
	if len(p.sinks) == 0 {
		return
	}
	ev := models.ProjectionEvent{ID: uuid.NewString(), Kind: kind, OwnerID: p.owner, At: time.Now().UnixMilli()}
	fill(&ev)
	select {
	case p.ch <- ev:
	default:
		p.log.Warn("projection buffer full, event dropped", zap.String("kind", kind))
	}
}

func (p *projector) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.ch:
			p.dispatch(ctx, ev)
		}
	}
}

func (p *projector) dispatch(ctx context.Context, ev models.ProjectionEvent) {
	for _, s := range p.sinks {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := s.Handle(sctx, ev)
		cancel()
		if err != nil {
			metrics.SinkErrorsTotal.WithLabelValues(s.Name()).Inc()
			p.log.Warn("projection sink failed", zap.String("sink", s.Name()), zap.String("kind", ev.Kind), zap.Error(err))
		}
	}
}
