package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go-imsync/internal/client"
	"go-imsync/internal/models"
	"go-imsync/internal/pagination"

	"github.com/gin-gonic/gin"
)

// fakeSync 只实现测试用到的方法，其余调用会 panic
type fakeSync struct {
	SyncService
	connected bool
	active    int64
	sent      []string
	patched   []models.PostPatch
	viewedAt  time.Time
}

func (f *fakeSync) Connected() bool { return f.connected }

func (f *fakeSync) ActivateRoom(_ context.Context, id int64) (pagination.Result, error) {
	f.active = id
	return pagination.Result{Outcome: pagination.OutcomeApplied, Added: 30}, nil
}

func (f *fakeSync) LoadMoreHistory(context.Context) (pagination.Result, error) {
	if f.active == 0 {
		return pagination.Result{}, client.ErrNoActiveRoom
	}
	return pagination.Result{Outcome: pagination.OutcomeFailed, Err: context.Canceled}, context.Canceled
}

func (f *fakeSync) SendMessage(_ context.Context, text string) (models.PendingMessage, error) {
	if len(f.sent) > 0 {
		return models.PendingMessage{}, client.ErrRateLimited
	}
	f.sent = append(f.sent, text)
	return models.PendingMessage{ClientMsgID: "c1", RoomID: f.active, Text: text}, nil
}

func (f *fakeSync) SeenBy(_ context.Context, id int64) (int, error) { return int(id % 3), nil }

func (f *fakeSync) UpdatePost(_ context.Context, p models.PostPatch) (bool, error) {
	f.patched = append(f.patched, p)
	return p.ID == 1, nil
}

func (f *fakeSync) RecordView(_ context.Context, _ int64, at time.Time) (bool, error) {
	f.viewedAt = at
	return true, nil
}

func (f *fakeSync) Rooms(context.Context) ([]models.Room, error) {
	return []models.Room{{ID: 1, Title: "a"}}, nil
}

func newRouter(f *fakeSync) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewSyncHandler(f)
	r.GET("/healthz", h.Health)
	h.Register(r)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := &fakeSync{}
	r := newRouter(f)
	if w := do(r, http.MethodGet, "/healthz", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("disconnected health = %d", w.Code)
	}
	f.connected = true
	if w := do(r, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("connected health = %d", w.Code)
	}
}

func TestActivateAndLoadMore(t *testing.T) {
	f := &fakeSync{}
	r := newRouter(f)

	if w := do(r, http.MethodPost, "/rooms/active/more", ""); w.Code != http.StatusConflict {
		t.Fatalf("load more without room = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/rooms/abc/activate", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id = %d", w.Code)
	}
	w := do(r, http.MethodPost, "/rooms/7/activate", "")
	var resp pageResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != http.StatusOK || resp.Outcome != "applied" || resp.Added != 30 || f.active != 7 {
		t.Fatalf("activate = %d %s", w.Code, w.Body.String())
	}
	// 拉取失败：列表已关闭，接口仍返回 200 与 outcome
	w = do(r, http.MethodPost, "/rooms/active/more", "")
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != http.StatusOK || resp.Outcome != "failed" {
		t.Fatalf("failed page = %d %s", w.Code, w.Body.String())
	}
}

func TestSendMessageStatuses(t *testing.T) {
	f := &fakeSync{}
	r := newRouter(f)
	if w := do(r, http.MethodPost, "/rooms/active/messages", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing message = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/rooms/active/messages", `{"message":"hi"}`); w.Code != http.StatusAccepted {
		t.Fatalf("send = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/rooms/active/messages", `{"message":"again"}`); w.Code != http.StatusTooManyRequests {
		t.Fatalf("limited send = %d", w.Code)
	}
}

func TestSeenByAndRooms(t *testing.T) {
	r := newRouter(&fakeSync{})
	w := do(r, http.MethodGet, "/rooms/active/messages/5/seen", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"unread":2`) {
		t.Fatalf("seen = %d %s", w.Code, w.Body.String())
	}
	w = do(r, http.MethodGet, "/rooms", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"chatroomId":1`) {
		t.Fatalf("rooms = %s", w.Body.String())
	}
}

func TestUpdatePostAndView(t *testing.T) {
	f := &fakeSync{}
	r := newRouter(f)
	if w := do(r, http.MethodPost, "/feed/posts/1", `{"isFavorite":true,"favoriteCount":4}`); w.Code != http.StatusNoContent {
		t.Fatalf("patch = %d", w.Code)
	}
	if p := f.patched[0]; p.ID != 1 || p.IsFavorite == nil || !*p.IsFavorite || *p.FavoriteCount != 4 {
		t.Fatalf("patch = %+v", p)
	}
	if w := do(r, http.MethodPost, "/feed/posts/2", `{"isFavorite":false}`); w.Code != http.StatusNotFound {
		t.Fatalf("missing post = %d", w.Code)
	}
	w := do(r, http.MethodPost, "/feed/posts/1/view", `{"openedAt":"2026-01-02T03:04:05Z"}`)
	if w.Code != http.StatusOK || f.viewedAt.Year() != 2026 {
		t.Fatalf("view = %d %v", w.Code, f.viewedAt)
	}
}
