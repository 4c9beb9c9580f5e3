// Package subscription 把“视图”（当前房间、全局用户通道）映射到它订阅的主题集合。
// 视图切换时先退订旧主题再订阅新主题；推送处理时用代际判断视图是否仍然有效。
package subscription

import (
	"fmt"
	"strconv"
	"sync"

	"go-imsync/internal/metrics"
	"go-imsync/internal/transport/ws"

	"go.uber.org/zap"
)

const (
	ViewUser = "user"
	ViewRoom = "room"

	TopicNotify = "/user/queue/notify"
)

func ChatTopic(roomID int64) string    { return "/topic/chat/" + strconv.FormatInt(roomID, 10) }
func MembersTopic(roomID int64) string { return "/topic/members/info/" + strconv.FormatInt(roomID, 10) }

type Transport interface {
	Subscribe(topic string, h ws.Handler) (*ws.Subscription, error)
	Unsubscribe(sub *ws.Subscription) error
}

// Topic Handler 携带订阅时的视图代际
type Topic struct {
	Name    string
	Handler func(gen uint64, m *ws.Message) error
}

type view struct {
	gen    uint64
	subs   []*ws.Subscription
	topics []string
}

type Registry struct {
	mu        sync.Mutex
	transport Transport
	views     map[string]*view
	nextGen   uint64
	log       *zap.Logger
}

func New(t Transport, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{transport: t, views: make(map[string]*view), log: log}
}

// ActivateView 激活视图并返回新代际；视图已激活时先拆掉旧的主题集合。
// 任一主题订阅失败会回滚本次已建立的订阅。
func (r *Registry) ActivateView(viewID string, topics []Topic) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.views[viewID]; ok {
		delete(r.views, viewID)
		r.unsubscribeAll(viewID, old.subs)
	}

	r.nextGen++
	gen := r.nextGen
	v := &view{gen: gen}
	for _, tp := range topics {
		h := tp.Handler
		sub, err := r.transport.Subscribe(tp.Name, func(m *ws.Message) error { return h(gen, m) })
		if err != nil {
			r.unsubscribeAll(viewID, v.subs)
			r.updateGauge()
			return 0, fmt.Errorf("activate view %s: subscribe %s: %w", viewID, tp.Name, err)
		}
		v.subs = append(v.subs, sub)
		v.topics = append(v.topics, tp.Name)
	}
	r.views[viewID] = v
	r.log.Debug("view activated", zap.String("view", viewID), zap.Uint64("gen", gen), zap.Int("topics", len(v.subs)))
	r.updateGauge()
	return gen, nil
}

// DeactivateView 先从表中移除（之后到达的帧在 IsCurrent 检查处被丢弃），再退订。重复调用无副作用。
func (r *Registry) DeactivateView(viewID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[viewID]
	if !ok {
		return
	}
	delete(r.views, viewID)
	r.unsubscribeAll(viewID, v.subs)
	r.updateGauge()
}

func (r *Registry) unsubscribeAll(viewID string, subs []*ws.Subscription) {
	for _, s := range subs {
		if err := r.transport.Unsubscribe(s); err != nil {
			r.log.Warn("unsubscribe failed", zap.String("view", viewID), zap.Error(err))
		}
	}
}

// IsCurrent 推送处理前调用，判断该代际的视图是否仍然激活
func (r *Registry) IsCurrent(viewID string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[viewID]
	return ok && v.gen == gen
}

func (r *Registry) Active(viewID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.views[viewID]
	return ok
}

// Topics 视图当前订阅的主题
func (r *Registry) Topics(viewID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[viewID]
	if !ok {
		return nil
	}
	return append([]string(nil), v.topics...)
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, v := range r.views {
		delete(r.views, id)
		r.unsubscribeAll(id, v.subs)
	}
	r.updateGauge()
}

// updateGauge 订阅数指标只由这里写入，按激活视图的主题计数
func (r *Registry) updateGauge() {
	n := 0
	for _, v := range r.views {
		n += len(v.subs)
	}
	metrics.SubscriptionsActive.Set(float64(n))
}
