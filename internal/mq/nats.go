package mq

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go-imsync/internal/models"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSPublisher 投影事件发布到 <subject>.<owner>.<kind>
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

func NewNATSPublisher(url, subject string, log *zap.Logger) (*NATSPublisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("imsync"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

func Subject(base string, owner int64, kind string) string {
	return base + "." + strconv.FormatInt(owner, 10) + "." + kind
}

func (p *NATSPublisher) Name() string { return "nats" }

func (p *NATSPublisher) Handle(_ context.Context, ev models.ProjectionEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.nc.Publish(Subject(p.subject, ev.OwnerID, ev.Kind), body)
}

// Close 发送缓冲区中的消息后断开
func (p *NATSPublisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
