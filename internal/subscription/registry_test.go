package subscription

import (
	"errors"
	"sync"
	"testing"

	"go-imsync/internal/metrics"
	"go-imsync/internal/transport/ws"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeTransport struct {
	mu      sync.Mutex
	active  map[*ws.Subscription]string
	handler map[*ws.Subscription]ws.Handler
	log     []string
	failOn  string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{active: map[*ws.Subscription]string{}, handler: map[*ws.Subscription]ws.Handler{}}
}

func (f *fakeTransport) Subscribe(topic string, h ws.Handler) (*ws.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if topic == f.failOn {
		return nil, errors.New("refused")
	}
	s := new(ws.Subscription)
	f.active[s] = topic
	f.handler[s] = h
	f.log = append(f.log, "+"+topic)
	return s, nil
}

func (f *fakeTransport) Unsubscribe(s *ws.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if topic, ok := f.active[s]; ok {
		f.log = append(f.log, "-"+topic)
		delete(f.active, s)
	}
	return nil
}

func (f *fakeTransport) deliver(topic string) error {
	f.mu.Lock()
	var h ws.Handler
	for s, t := range f.active {
		if t == topic {
			h = f.handler[s]
		}
	}
	f.mu.Unlock()
	if h == nil {
		return errors.New("no subscription")
	}
	return h(&ws.Message{Destination: topic})
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

func roomTopics(roomID int64, seen *[]uint64) []Topic {
	h := func(gen uint64, _ *ws.Message) error {
		*seen = append(*seen, gen)
		return nil
	}
	return []Topic{{Name: ChatTopic(roomID), Handler: h}, {Name: MembersTopic(roomID), Handler: h}}
}

func TestActivateViewSwitchTearsDownPrevious(t *testing.T) {
	ft := newFakeTransport()
	r := New(ft, nil)
	var seen []uint64

	g1, err := r.ActivateView(ViewRoom, roomTopics(1, &seen))
	if err != nil {
		t.Fatal(err)
	}
	g2, err := r.ActivateView(ViewRoom, roomTopics(2, &seen))
	if err != nil {
		t.Fatal(err)
	}
	if ft.count() != 2 {
		t.Fatalf("active subscriptions = %d, want 2", ft.count())
	}
	if got := r.Topics(ViewRoom); got[0] != "/topic/chat/2" || got[1] != "/topic/members/info/2" {
		t.Fatalf("topics = %v", got)
	}
	if r.IsCurrent(ViewRoom, g1) || !r.IsCurrent(ViewRoom, g2) {
		t.Fatal("generation check")
	}
	if err := ft.deliver("/topic/chat/2"); err != nil || seen[0] != g2 {
		t.Fatalf("deliver = %v seen = %v", err, seen)
	}
	want := []string{"+/topic/chat/1", "+/topic/members/info/1", "-/topic/chat/1", "-/topic/members/info/1", "+/topic/chat/2", "+/topic/members/info/2"}
	for i := range want {
		if ft.log[i] != want[i] {
			t.Fatalf("log = %v", ft.log)
		}
	}
}

func TestDeactivateIsIdempotent(t *testing.T) {
	ft := newFakeTransport()
	r := New(ft, nil)
	var seen []uint64
	gen, _ := r.ActivateView(ViewRoom, roomTopics(3, &seen))
	r.DeactivateView(ViewRoom)
	r.DeactivateView(ViewRoom)
	if ft.count() != 0 || r.Active(ViewRoom) || r.IsCurrent(ViewRoom, gen) {
		t.Fatal("view still active after deactivate")
	}
}

func TestActivateRollsBackOnFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.failOn = MembersTopic(4)
	r := New(ft, nil)
	var seen []uint64
	if _, err := r.ActivateView(ViewRoom, roomTopics(4, &seen)); err == nil {
		t.Fatal("expected error")
	}
	if ft.count() != 0 || r.Active(ViewRoom) {
		t.Fatal("partial subscription leaked")
	}
}

func TestCloseAll(t *testing.T) {
	ft := newFakeTransport()
	r := New(ft, nil)
	var seen []uint64
	_, _ = r.ActivateView(ViewUser, []Topic{{Name: TopicNotify, Handler: func(uint64, *ws.Message) error { return nil }}})
	_, _ = r.ActivateView(ViewRoom, roomTopics(5, &seen))
	r.CloseAll()
	if ft.count() != 0 || r.Active(ViewUser) {
		t.Fatal("CloseAll left subscriptions")
	}
}

func noop(uint64, *ws.Message) error { return nil }

func TestSubscriptionGaugeFollowsViews(t *testing.T) {
	ft := newFakeTransport()
	r := New(ft, nil)
	gauge := func() int { return int(testutil.ToFloat64(metrics.SubscriptionsActive)) }

	if _, err := r.ActivateView(ViewUser, []Topic{{Name: TopicNotify, Handler: noop}}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ActivateView(ViewRoom, []Topic{{Name: ChatTopic(1), Handler: noop}, {Name: MembersTopic(1), Handler: noop}}); err != nil {
		t.Fatal(err)
	}
	if gauge() != 3 {
		t.Fatalf("gauge = %d, want 3", gauge())
	}

	// 切换房间失败：旧视图已拆除，新视图回滚，只剩用户视图
	ft.failOn = MembersTopic(2)
	if _, err := r.ActivateView(ViewRoom, []Topic{{Name: ChatTopic(2), Handler: noop}, {Name: MembersTopic(2), Handler: noop}}); err == nil {
		t.Fatal("expected failure")
	}
	if gauge() != 1 {
		t.Fatalf("gauge after rollback = %d, want 1", gauge())
	}
	r.CloseAll()
	if gauge() != 0 {
		t.Fatalf("gauge after CloseAll = %d", gauge())
	}
}
