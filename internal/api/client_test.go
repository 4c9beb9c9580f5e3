package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"go-imsync/internal/models"
)

type recorded struct {
	method string
	path   string
	query  url.Values
	auth   string
	body   map[string]any
}

type fakeBackend struct {
	mu    sync.Mutex
	calls []recorded
	reply map[string]string // path -> JSON body
}

func newFakeBackend(t *testing.T, reply map[string]string) (*fakeBackend, *Client) {
	t.Helper()
	fb := &fakeBackend{reply: reply}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, query: r.URL.Query(), auth: r.Header.Get("Authorization")}
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &rec.body)
		}
		fb.mu.Lock()
		fb.calls = append(fb.calls, rec)
		fb.mu.Unlock()
		body, ok := fb.reply[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return fb, New(Options{BaseURL: srv.URL, Token: "tok", Timeout: 2 * time.Second})
}

func (fb *fakeBackend) last(t *testing.T) recorded {
	t.Helper()
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.calls) == 0 {
		t.Fatal("no calls recorded")
	}
	return fb.calls[len(fb.calls)-1]
}

func TestHistoryQueryAndAuth(t *testing.T) {
	fb, c := newFakeBackend(t, map[string]string{
		"/api/chat/history": `{"code":"SC","list":[{"messageId":12,"senderId":3,"type":"TEXT","message":"b"},{"messageId":11,"senderId":3,"type":"TEXT","message":"a"}]}`,
	})

	msgs, err := c.History(context.Background(), 7, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != 12 || msgs[1].Text != "a" {
		t.Fatalf("msgs = %+v", msgs)
	}
	rec := fb.last(t)
	if rec.auth != "Bearer tok" {
		t.Errorf("auth = %q", rec.auth)
	}
	if rec.query.Get("chatRoomId") != "7" || rec.query.Has("messageId") {
		t.Errorf("first page query = %v", rec.query)
	}

	if _, err := c.History(context.Background(), 7, 11); err != nil {
		t.Fatal(err)
	}
	if got := fb.last(t).query.Get("messageId"); got != "11" {
		t.Errorf("messageId = %q, want 11", got)
	}
}

func TestNonSuccessCode(t *testing.T) {
	_, c := newFakeBackend(t, map[string]string{
		"/api/chat/history": `{"code":"NP","message":"no permission"}`,
	})
	_, err := c.History(context.Background(), 1, 0)
	if !errors.Is(err, ErrNotSuccess) {
		t.Fatalf("err = %v, want ErrNotSuccess", err)
	}
	var ce *CodeError
	if !errors.As(err, &ce) || ce.Code != "NP" {
		t.Fatalf("CodeError = %+v", ce)
	}
}

func TestHTTPErrorWithoutBody(t *testing.T) {
	_, c := newFakeBackend(t, map[string]string{})
	if _, err := c.Rooms(context.Background()); !errors.Is(err, ErrNotSuccess) {
		t.Fatalf("err = %v, want ErrNotSuccess", err)
	}
}

func TestFeedQueryParams(t *testing.T) {
	fb, c := newFakeBackend(t, map[string]string{
		"/api/feed": `{"code":"SC","feed":[{"postId":1}],"pointer":0}`,
	})
	ptr := 1
	pid, fav := int64(117), int64(4)

	cases := []struct {
		name string
		q    FeedQuery
		want url.Values
	}{
		{"first", FeedQuery{}, url.Values{}},
		{"pointer", FeedQuery{Pointer: &ptr}, url.Values{"pages": {"1"}}},
		{"composite", FeedQuery{PostID: &pid, FavoriteCount: &fav}, url.Values{"postId": {"117"}, "favoriteCount": {"4"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := c.Feed(context.Background(), tc.q)
			if err != nil {
				t.Fatal(err)
			}
			if page.Pointer == nil || *page.Pointer != 0 || len(page.Feed) != 1 {
				t.Fatalf("page = %+v", page)
			}
			got := fb.last(t).query
			if len(got) != len(tc.want) {
				t.Fatalf("query = %v, want %v", got, tc.want)
			}
			for k := range tc.want {
				if got.Get(k) != tc.want.Get(k) {
					t.Fatalf("query[%s] = %q, want %q", k, got.Get(k), tc.want.Get(k))
				}
			}
		})
	}

	if _, err := c.Feed(context.Background(), FeedQuery{Pointer: &ptr, PostID: &pid}); !errors.Is(err, ErrMixedCursor) {
		t.Fatalf("mixed cursor err = %v", err)
	}
}

func TestCommentsAndAddComment(t *testing.T) {
	fb, c := newFakeBackend(t, map[string]string{
		"/api/post/comment/pagination-list": `{"code":"SC","list":[{"id":40,"userId":2,"name":"n","content":"c"}]}`,
		"/api/post/comment":                 `{"code":"SC","comment":{"id":99,"userId":1,"name":"me","content":"hello"}}`,
	})

	list, err := c.Comments(context.Background(), 5, 41)
	if err != nil || len(list) != 1 || list[0].Content != "c" {
		t.Fatalf("Comments = %+v, %v", list, err)
	}
	if q := fb.last(t).query; q.Get("postId") != "5" || q.Get("commentId") != "41" {
		t.Fatalf("query = %v", q)
	}

	cm, err := c.AddComment(context.Background(), 5, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if cm.ID != 99 || cm.PostID != 5 {
		t.Fatalf("comment = %+v", cm)
	}
	rec := fb.last(t)
	if rec.method != http.MethodPost || rec.body["comment"] != "hello" || rec.body["postId"].(float64) != 5 {
		t.Fatalf("request = %+v", rec)
	}
}

func TestViewHistory(t *testing.T) {
	fb, c := newFakeBackend(t, map[string]string{"/api/post/view_history": ``})
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := c.ViewHistory(context.Background(), models.ViewRecord{PostID: 8, ViewedAt: at, TimeSpentSeconds: 3}); err != nil {
		t.Fatal(err)
	}
	rec := fb.last(t)
	if rec.body["postId"].(float64) != 8 || rec.body["timeSpentSeconds"].(float64) != 3 {
		t.Fatalf("body = %v", rec.body)
	}
	if rec.body["viewedAt"] != "2026-01-02T03:04:05Z" {
		t.Fatalf("viewedAt = %v", rec.body["viewedAt"])
	}
}

func TestRoomMutations(t *testing.T) {
	fb, c := newFakeBackend(t, map[string]string{
		"/api/chat/update/group/title": `{"code":"SC","title":"new"}`,
		"/api/chat/room/leave":         `{"code":"SC"}`,
	})
	title, err := c.UpdateRoomTitle(context.Background(), 3, "new")
	if err != nil || title != "new" {
		t.Fatalf("UpdateRoomTitle = %q, %v", title, err)
	}
	if err := c.LeaveRoom(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if rec := fb.last(t); rec.method != http.MethodDelete || rec.query.Get("chatRoomId") != "3" {
		t.Fatalf("leave request = %+v", rec)
	}
}
