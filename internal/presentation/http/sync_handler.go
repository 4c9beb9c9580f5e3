package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go-imsync/internal/api"
	"go-imsync/internal/client"
	"go-imsync/internal/models"
	"go-imsync/internal/pagination"

	"github.com/gin-gonic/gin"
)

// SyncService 控制接口依赖的同步核心操作，*client.Client 满足
type SyncService interface {
	Connected() bool
	Rooms(ctx context.Context) ([]models.Room, error)
	RefreshRooms(ctx context.Context) error
	ActivateRoom(ctx context.Context, roomID int64) (pagination.Result, error)
	DeactivateRoom(ctx context.Context) error
	LoadMoreHistory(ctx context.Context) (pagination.Result, error)
	Messages(ctx context.Context) (client.MessagesView, error)
	SendMessage(ctx context.Context, text string) (models.PendingMessage, error)
	SeenBy(ctx context.Context, messageID int64) (int, error)
	OpenRoomDetails(ctx context.Context) error
	RoomDetailsOpen(ctx context.Context) (bool, error)
	RenameRoom(ctx context.Context, roomID int64, title string) error
	LeaveRoom(ctx context.Context, roomID int64) error
	OpenFeed(ctx context.Context) (pagination.Result, error)
	LoadMoreFeed(ctx context.Context) (pagination.Result, error)
	CloseFeed(ctx context.Context) error
	Feed(ctx context.Context) (client.FeedView, error)
	UpdatePost(ctx context.Context, patch models.PostPatch) (bool, error)
	RecordView(ctx context.Context, postID int64, openedAt time.Time) (bool, error)
	OpenComments(ctx context.Context, postID int64) (pagination.Result, error)
	LoadMoreComments(ctx context.Context, postID int64) (pagination.Result, error)
	CloseComments(ctx context.Context, postID int64) error
	Comments(ctx context.Context, postID int64) (client.CommentsView, error)
	AddComment(ctx context.Context, postID int64, text string) (models.Comment, error)
	Notifications(ctx context.Context) ([]models.Notification, error)
}

// SyncHandler 本地控制接口
type SyncHandler struct {
	svc SyncService
}

func NewSyncHandler(svc SyncService) *SyncHandler {
	return &SyncHandler{svc: svc}
}

// Register 挂载全部路由
func (h *SyncHandler) Register(r gin.IRouter) {
	r.GET("/rooms", h.ListRooms)
	r.POST("/rooms/refresh", h.RefreshRooms)
	r.POST("/rooms/:id/activate", h.ActivateRoom)
	r.PUT("/rooms/:id/title", h.RenameRoom)
	r.DELETE("/rooms/:id", h.LeaveRoom)
	r.POST("/rooms/deactivate", h.DeactivateRoom)
	r.POST("/rooms/active/more", h.LoadMoreHistory)
	r.GET("/rooms/active/messages", h.Messages)
	r.POST("/rooms/active/messages", h.SendMessage)
	r.GET("/rooms/active/messages/:msgId/seen", h.SeenBy)
	r.POST("/rooms/active/details", h.OpenDetails)
	r.GET("/rooms/active/details", h.DetailsOpen)

	r.GET("/feed", h.Feed)
	r.POST("/feed/open", h.OpenFeed)
	r.POST("/feed/more", h.LoadMoreFeed)
	r.POST("/feed/close", h.CloseFeed)
	r.POST("/feed/posts/:id", h.UpdatePost)
	r.POST("/feed/posts/:id/view", h.RecordView)

	r.POST("/posts/:id/comments/open", h.OpenComments)
	r.POST("/posts/:id/comments/more", h.LoadMoreComments)
	r.POST("/posts/:id/comments/close", h.CloseComments)
	r.GET("/posts/:id/comments", h.Comments)
	r.POST("/posts/:id/comments", h.AddComment)

	r.GET("/notifications", h.Notifications)
}

// Health 连接状态
func (h *SyncHandler) Health(c *gin.Context) {
	if !h.svc.Connected() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "disconnected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// fail 错误到状态码的映射
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, client.ErrNoActiveRoom), errors.Is(err, client.ErrUnknownList):
		status = http.StatusConflict
	case errors.Is(err, client.ErrEmptyMessage):
		status = http.StatusBadRequest
	case errors.Is(err, client.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, api.ErrNotSuccess):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

type pageResponse struct {
	Outcome string `json:"outcome"`
	Added   int    `json:"added"`
}

// page 拉取失败时列表已关闭，照常返回 outcome，不视为接口错误
func page(c *gin.Context, r pagination.Result, err error) {
	if err != nil && r.Outcome != pagination.OutcomeFailed {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pageResponse{Outcome: r.Outcome.String(), Added: r.Added})
}

func (h *SyncHandler) ListRooms(c *gin.Context) {
	rooms, err := h.svc.Rooms(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *SyncHandler) RefreshRooms(c *gin.Context) {
	if err := h.svc.RefreshRooms(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SyncHandler) ActivateRoom(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	r, err := h.svc.ActivateRoom(c.Request.Context(), id)
	page(c, r, err)
}

func (h *SyncHandler) RenameRoom(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.RenameRoom(c.Request.Context(), id, req.Title); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SyncHandler) LeaveRoom(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.svc.LeaveRoom(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SyncHandler) DeactivateRoom(c *gin.Context) {
	if err := h.svc.DeactivateRoom(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SyncHandler) LoadMoreHistory(c *gin.Context) {
	r, err := h.svc.LoadMoreHistory(c.Request.Context())
	page(c, r, err)
}

func (h *SyncHandler) Messages(c *gin.Context) {
	v, err := h.svc.Messages(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *SyncHandler) SendMessage(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.svc.SendMessage(c.Request.Context(), req.Message)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, p)
}

func (h *SyncHandler) SeenBy(c *gin.Context) {
	id, ok := idParam(c, "msgId")
	if !ok {
		return
	}
	n, err := h.svc.SeenBy(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messageId": id, "unread": n})
}

func (h *SyncHandler) OpenDetails(c *gin.Context) {
	if err := h.svc.OpenRoomDetails(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SyncHandler) DetailsOpen(c *gin.Context) {
	open, err := h.svc.RoomDetailsOpen(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"open": open})
}

func (h *SyncHandler) Feed(c *gin.Context) {
	v, err := h.svc.Feed(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *SyncHandler) OpenFeed(c *gin.Context) {
	r, err := h.svc.OpenFeed(c.Request.Context())
	page(c, r, err)
}

func (h *SyncHandler) LoadMoreFeed(c *gin.Context) {
	r, err := h.svc.LoadMoreFeed(c.Request.Context())
	page(c, r, err)
}

func (h *SyncHandler) CloseFeed(c *gin.Context) {
	if err := h.svc.CloseFeed(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdatePost 本地乐观修改，如 {"isFavorite":true,"favoriteCount":3}
func (h *SyncHandler) UpdatePost(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var patch models.PostPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	patch.ID = id
	found, err := h.svc.UpdatePost(c.Request.Context(), patch)
	if err != nil {
		fail(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not in feed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// RecordView openedAt 为 RFC3339 时间
func (h *SyncHandler) RecordView(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		OpenedAt time.Time `json:"openedAt" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	recorded, err := h.svc.RecordView(c.Request.Context(), id, req.OpenedAt)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recorded": recorded})
}

func (h *SyncHandler) OpenComments(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	r, err := h.svc.OpenComments(c.Request.Context(), id)
	page(c, r, err)
}

func (h *SyncHandler) LoadMoreComments(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	r, err := h.svc.LoadMoreComments(c.Request.Context(), id)
	page(c, r, err)
}

func (h *SyncHandler) CloseComments(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.svc.CloseComments(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SyncHandler) Comments(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	v, err := h.svc.Comments(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *SyncHandler) AddComment(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Comment string `json:"comment" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cm, err := h.svc.AddComment(c.Request.Context(), id, req.Comment)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cm)
}

func (h *SyncHandler) Notifications(c *gin.Context) {
	list, err := h.svc.Notifications(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}
