// Package api 是后端 HTTP 接口的客户端。所有响应都带字符串 code，"SC" 表示成功。
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go-imsync/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const CodeSuccess = "SC"

var (
	// ErrNotSuccess 响应 code 不是 SC
	ErrNotSuccess = errors.New("api: non-success response code")
	// ErrMixedCursor 同一次 feed 请求同时携带 pointer 与组合游标
	ErrMixedCursor = errors.New("api: feed query mixes pointer and composite cursor")
)

// CodeError 后端返回了非成功 code 或非 2xx 状态
type CodeError struct {
	Path   string
	Code   string
	Status int
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("api %s: code=%q status=%d", e.Path, e.Code, e.Status)
}

func (e *CodeError) Unwrap() error { return ErrNotSuccess }

type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Client struct {
	r   *resty.Client
	log *zap.Logger
}

func New(opts Options) *Client {
	var r *resty.Client
	if opts.HTTPClient != nil {
		r = resty.NewWithClient(opts.HTTPClient)
	} else {
		r = resty.New()
	}
	if opts.Timeout > 0 {
		r.SetTimeout(opts.Timeout)
	}
	r.SetBaseURL(opts.BaseURL).
		SetHeader("Accept", "application/json")
	if opts.Token != "" {
		r.SetAuthToken(opts.Token)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{r: r, log: log}
}

type envelope struct {
	Code string `json:"code"`
}

type listEnvelope[T any] struct {
	List []T `json:"list"`
}

// do 发送请求并校验 code；out 为 nil 时只校验
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req := c.r.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		if resp.IsError() {
			return &CodeError{Path: path, Status: resp.StatusCode()}
		}
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	if env.Code != CodeSuccess {
		c.log.Debug("non-success code", zap.String("path", path), zap.String("code", env.Code), zap.Int("status", resp.StatusCode()))
		return &CodeError{Path: path, Code: env.Code, Status: resp.StatusCode()}
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("%s %s: decode: %w", method, path, err)
		}
	}
	return nil
}

func id(v int64) string { return strconv.FormatInt(v, 10) }

// History 拉取房间历史；before 为 0 表示最新一页。返回顺序为服务端顺序（新在前）。
func (c *Client) History(ctx context.Context, roomID, before int64) ([]models.Message, error) {
	q := url.Values{"chatRoomId": {id(roomID)}}
	if before > 0 {
		q.Set("messageId", id(before))
	}
	var out listEnvelope[models.Message]
	if err := c.do(ctx, http.MethodGet, "/api/chat/history", q, nil, &out); err != nil {
		return nil, err
	}
	return out.List, nil
}

// FeedQuery pointer 与 (postId, favoriteCount) 互斥；全空表示第一页
type FeedQuery struct {
	Pointer       *int
	PostID        *int64
	FavoriteCount *int64
}

func (q FeedQuery) values() (url.Values, error) {
	v := url.Values{}
	if q.Pointer != nil && (q.PostID != nil || q.FavoriteCount != nil) {
		return nil, ErrMixedCursor
	}
	if q.Pointer != nil {
		v.Set("pages", strconv.Itoa(*q.Pointer))
	}
	if q.PostID != nil {
		v.Set("postId", id(*q.PostID))
	}
	if q.FavoriteCount != nil {
		v.Set("favoriteCount", id(*q.FavoriteCount))
	}
	return v, nil
}

// FeedPage feed 响应：携带 pointer 表示仍在缓存层，否则给出组合游标
type FeedPage struct {
	Feed              []models.Post `json:"feed"`
	Pointer           *int          `json:"pointer"`
	LastPostID        *int64        `json:"lastPostId"`
	LastFavoriteCount *int64        `json:"lastFavoriteCount"`
}

func (c *Client) Feed(ctx context.Context, q FeedQuery) (FeedPage, error) {
	vals, err := q.values()
	if err != nil {
		return FeedPage{}, err
	}
	var out FeedPage
	if err := c.do(ctx, http.MethodGet, "/api/feed", vals, nil, &out); err != nil {
		return FeedPage{}, err
	}
	return out, nil
}

// TopComments 置顶评论，只加载一次
func (c *Client) TopComments(ctx context.Context, postID int64) ([]models.Comment, error) {
	var out listEnvelope[models.Comment]
	q := url.Values{"postId": {id(postID)}}
	if err := c.do(ctx, http.MethodGet, "/api/post/comment/top-list", q, nil, &out); err != nil {
		return nil, err
	}
	return out.List, nil
}

// Comments 分页评论；after 为上一页最后一条评论 ID，0 表示第一页
func (c *Client) Comments(ctx context.Context, postID, after int64) ([]models.Comment, error) {
	q := url.Values{"postId": {id(postID)}}
	if after > 0 {
		q.Set("commentId", id(after))
	}
	var out listEnvelope[models.Comment]
	if err := c.do(ctx, http.MethodGet, "/api/post/comment/pagination-list", q, nil, &out); err != nil {
		return nil, err
	}
	return out.List, nil
}

// AddComment 发表评论，返回后端生成的评论
func (c *Client) AddComment(ctx context.Context, postID int64, text string) (models.Comment, error) {
	body := map[string]any{"postId": postID, "comment": text}
	var out struct {
		Comment *models.Comment `json:"comment"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/post/comment", nil, body, &out); err != nil {
		return models.Comment{}, err
	}
	if out.Comment == nil {
		return models.Comment{}, &CodeError{Path: "/api/post/comment", Code: CodeSuccess, Status: http.StatusOK}
	}
	cm := *out.Comment
	if cm.PostID == 0 {
		cm.PostID = postID
	}
	return cm, nil
}

func (c *Client) Rooms(ctx context.Context) ([]models.Room, error) {
	var out listEnvelope[models.Room]
	if err := c.do(ctx, http.MethodGet, "/api/chat/getList", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.List, nil
}

// ReadInfo 房间内所有成员的已读水位
func (c *Client) ReadInfo(ctx context.Context, roomID int64) ([]models.MemberRead, error) {
	var out listEnvelope[models.MemberRead]
	q := url.Values{"chatRoomId": {id(roomID)}}
	if err := c.do(ctx, http.MethodGet, "/api/chat/get/members/read_info", q, nil, &out); err != nil {
		return nil, err
	}
	return out.List, nil
}

func (c *Client) Notifications(ctx context.Context) ([]models.Notification, error) {
	var out listEnvelope[models.Notification]
	if err := c.do(ctx, http.MethodGet, "/api/alarm/getList", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.List, nil
}

// UpdateRoomTitle 修改群聊标题，返回后端确认的标题
func (c *Client) UpdateRoomTitle(ctx context.Context, roomID int64, title string) (string, error) {
	body := map[string]any{"chatRoomId": roomID, "updateTitle": title}
	var out struct {
		Title string `json:"title"`
	}
	if err := c.do(ctx, http.MethodPut, "/api/chat/update/group/title", nil, body, &out); err != nil {
		return "", err
	}
	if out.Title == "" {
		out.Title = title
	}
	return out.Title, nil
}

func (c *Client) LeaveRoom(ctx context.Context, roomID int64) error {
	q := url.Values{"chatRoomId": {id(roomID)}}
	return c.do(ctx, http.MethodDelete, "/api/chat/room/leave", q, nil, nil)
}

// ViewHistory 上报浏览时长；该接口不保证返回 code，只看 HTTP 状态
func (c *Client) ViewHistory(ctx context.Context, rec models.ViewRecord) error {
	body := map[string]any{
		"postId":           rec.PostID,
		"viewedAt":         rec.ViewedAt.UTC().Format(time.RFC3339Nano),
		"timeSpentSeconds": rec.TimeSpentSeconds,
	}
	resp, err := c.r.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/api/post/view_history")
	if err != nil {
		return fmt.Errorf("POST /api/post/view_history: %w", err)
	}
	if resp.IsError() {
		return &CodeError{Path: "/api/post/view_history", Status: resp.StatusCode()}
	}
	return nil
}
