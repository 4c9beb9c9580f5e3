package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go-imsync/internal/models"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type fakeMarkers struct {
	calls map[int64][]models.ReadMarker
	fail  error
}

func (f *fakeMarkers) ApplyMarkersInChunks(ctx context.Context, owner int64, ms []models.ReadMarker, _, _, _ int) error {
	if f.fail != nil {
		return f.fail
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.calls[owner] = append(f.calls[owner], ms...)
	return nil
}

// fakeSession 只实现 ConsumeClaim 用到的方法
type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	ch chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.ch }

func markerEvent(t *testing.T, owner int64, offset int64) *sarama.ConsumerMessage {
	ev := models.ProjectionEvent{Kind: models.EventReadMarker, OwnerID: owner, Marker: &models.ReadMarker{RoomID: 2, MemberID: 3, LastReadMessageID: 9}}
	return &sarama.ConsumerMessage{Offset: offset, Value: encode(t, ev)}
}

type fakeArchive struct{ msgs []models.Message }

func (f *fakeArchive) Append(_ context.Context, _ int64, m models.Message) error {
	f.msgs = append(f.msgs, m)
	return nil
}

func encode(t *testing.T, ev models.ProjectionEvent) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestRouteAndFlush(t *testing.T) {
	fm := &fakeMarkers{calls: map[int64][]models.ReadMarker{}}
	fa := &fakeArchive{}
	h := &handler{markers: fm, archive: fa, batchSize: 10, log: zap.NewNop()}
	b := newBatch()
	ctx := context.Background()

	events := []models.ProjectionEvent{
		{Kind: models.EventReadMarker, OwnerID: 1, Marker: &models.ReadMarker{RoomID: 2, MemberID: 3, LastReadMessageID: 9}},
		{Kind: models.EventReadMarker, OwnerID: 2, Marker: &models.ReadMarker{RoomID: 5, MemberID: 6, LastReadMessageID: 1}},
		{Kind: models.EventMessageMerged, OwnerID: 1, Message: &models.Message{ID: 4}},
		{Kind: models.EventRoomsChanged, OwnerID: 1},
	}
	for _, ev := range events {
		if err := h.route(ctx, encode(t, ev), b); err != nil {
			t.Fatal(err)
		}
	}
	if b.size != 2 || len(fa.msgs) != 1 {
		t.Fatalf("batch size = %d archived = %d", b.size, len(fa.msgs))
	}
	if err := h.flush(ctx, b); err != nil {
		t.Fatal(err)
	}
	if len(fm.calls[1]) != 1 || len(fm.calls[2]) != 1 || b.size != 0 {
		t.Fatalf("flushed = %v", fm.calls)
	}
}

func TestRouteRejectsBadEvents(t *testing.T) {
	h := &handler{log: zap.NewNop()}
	if err := h.route(context.Background(), []byte(`{bad`), newBatch()); err == nil {
		t.Fatal("malformed payload accepted")
	}
	err := h.route(context.Background(), []byte(`{"kind":"other"}`), newBatch())
	if !errors.Is(err, errUnknownKind) {
		t.Fatalf("err = %v", err)
	}
}

func TestFailedFlushDoesNotMarkOffset(t *testing.T) {
	fm := &fakeMarkers{calls: map[int64][]models.ReadMarker{}, fail: errors.New("mysql down")}
	h := &handler{markers: fm, batchSize: 1, flushWait: time.Hour, log: zap.NewNop()}
	sess := &fakeSession{ctx: context.Background()}
	claim := &fakeClaim{ch: make(chan *sarama.ConsumerMessage, 1)}
	claim.ch <- markerEvent(t, 1, 7)

	if err := h.ConsumeClaim(sess, claim); err == nil {
		t.Fatal("ConsumeClaim returned nil after failed persistence")
	}
	if len(sess.marked) != 0 {
		t.Fatalf("marked offsets = %v", sess.marked)
	}
}

func TestFlushKeepsFailedOwners(t *testing.T) {
	fm := &fakeMarkers{calls: map[int64][]models.ReadMarker{}, fail: errors.New("mysql down")}
	h := &handler{markers: fm, log: zap.NewNop()}
	b := newBatch()
	b.markers[1] = []models.ReadMarker{{RoomID: 2, MemberID: 3, LastReadMessageID: 9}}
	b.size = 1
	if err := h.flush(context.Background(), b); err == nil {
		t.Fatal("flush error swallowed")
	}
	if b.size != 1 || len(b.markers[1]) != 1 {
		t.Fatalf("batch = %+v", b)
	}
	fm.fail = nil
	if err := h.flush(context.Background(), b); err != nil || b.size != 0 || len(fm.calls[1]) != 1 {
		t.Fatalf("retry flush = %v, batch = %+v", err, b)
	}
}

func TestFinalFlushAfterSessionEnds(t *testing.T) {
	fm := &fakeMarkers{calls: map[int64][]models.ReadMarker{}}
	h := &handler{markers: fm, batchSize: 100, flushWait: time.Hour, log: zap.NewNop()}
	ctx, cancel := context.WithCancel(context.Background())
	sess := &fakeSession{ctx: ctx}
	claim := &fakeClaim{ch: make(chan *sarama.ConsumerMessage, 2)}
	claim.ch <- markerEvent(t, 1, 3)
	claim.ch <- markerEvent(t, 1, 4)

	done := make(chan error, 1)
	go func() { done <- h.ConsumeClaim(sess, claim) }()
	deadline := time.Now().Add(3 * time.Second)
	for len(claim.ch) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if len(fm.calls[1]) != 2 {
		t.Fatalf("persisted = %v", fm.calls)
	}
	if len(sess.marked) != 1 || sess.marked[0] != 4 {
		t.Fatalf("marked = %v", sess.marked)
	}
}

func TestArchiveFailureStopsClaim(t *testing.T) {
	h := &handler{archive: failingArchive{}, batchSize: 10, flushWait: time.Hour, log: zap.NewNop()}
	sess := &fakeSession{ctx: context.Background()}
	claim := &fakeClaim{ch: make(chan *sarama.ConsumerMessage, 2)}
	bad := &sarama.ConsumerMessage{Offset: 1, Value: []byte(`{bad`)}
	msg := &sarama.ConsumerMessage{Offset: 2, Value: encode(t, models.ProjectionEvent{Kind: models.EventMessageMerged, OwnerID: 1, Message: &models.Message{ID: 4}})}
	claim.ch <- bad
	claim.ch <- msg

	if err := h.ConsumeClaim(sess, claim); err == nil {
		t.Fatal("archive failure ignored")
	}
	if len(sess.marked) != 0 {
		t.Fatalf("marked = %v", sess.marked)
	}
}

type failingArchive struct{}

func (failingArchive) Append(context.Context, int64, models.Message) error {
	return errors.New("mongo down")
}
