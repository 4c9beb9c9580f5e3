// Package client 是同步核心的上下文对象：持有房间列表、当前房间、通知队列、
// 各列表注册表与已读状态。会话开始时创建，登出时 Close，调用方持有引用而非全局单例。
//
// 所有状态只在事件循环 goroutine 内修改；公开方法通过 loop.Call 进入循环，
// 网络请求在循环外完成，结果再投递回循环并按代际校验。
package client

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go-imsync/internal/eventloop"
	"go-imsync/internal/livemerge"
	"go-imsync/internal/metrics"
	"go-imsync/internal/models"
	"go-imsync/internal/pagination"
	"go-imsync/internal/ratelimit"
	"go-imsync/internal/readstate"
	"go-imsync/internal/roomlist"
	"go-imsync/internal/subscription"
	"go-imsync/internal/transport/ws"

	"go.uber.org/zap"
)

var (
	ErrNoActiveRoom   = errors.New("client: no active room")
	ErrRateLimited    = errors.New("client: send rate limited")
	ErrEmptyMessage   = errors.New("client: empty message")
	ErrNotStarted     = errors.New("client: not started")
	ErrUnknownList    = errors.New("client: list is not open")
	ErrAlreadyStarted = errors.New("client: already started")

	errMissingAlarmType = errors.New("notify: missing alarmType")
)

// 上行目的地
const DestinationSend = "/app/send"

// Transport 传输会话的最小接口，*ws.Session 满足
type Transport interface {
	Subscribe(topic string, h ws.Handler) (*ws.Subscription, error)
	Unsubscribe(sub *ws.Subscription) error
	Publish(ctx context.Context, destination string, payload any) error
	OnStateChange(fn func(ws.State))
}

// Backend 后端 HTTP 接口，*api.Client 满足
type Backend interface {
	pagination.HistoryFetcher
	pagination.FeedFetcher
	pagination.CommentFetcher
	TopComments(ctx context.Context, postID int64) ([]models.Comment, error)
	AddComment(ctx context.Context, postID int64, text string) (models.Comment, error)
	Rooms(ctx context.Context) ([]models.Room, error)
	ReadInfo(ctx context.Context, roomID int64) ([]models.MemberRead, error)
	Notifications(ctx context.Context) ([]models.Notification, error)
	UpdateRoomTitle(ctx context.Context, roomID int64, title string) (string, error)
	LeaveRoom(ctx context.Context, roomID int64) error
	ViewHistory(ctx context.Context, rec models.ViewRecord) error
}

// RoomsCache 上次运行留下的房间列表快照；启动时先填充，再由接口结果覆盖
type RoomsCache interface {
	Rooms(ctx context.Context, owner int64) ([]models.Room, error)
}

type Options struct {
	UserID                int64
	PageSize              int
	EventQueueSize        int
	NotificationQueueSize int
	FetchTimeout          time.Duration
	ViewMinDuration       time.Duration
	Limiter               ratelimit.Limiter
	Sinks                 []Sink
	RoomsCache            RoomsCache
	Logger                *zap.Logger
	Now                   func() time.Time
}

// SendPayload /app/send 的消息体
type SendPayload struct {
	ChatRoomID  int64  `json:"chatRoomId"`
	Message     string `json:"message"`
	ClientMsgID string `json:"clientMsgId"`
}

const feedListID = "feed"

func commentsListID(postID int64) string { return "comments:" + strconv.FormatInt(postID, 10) }

type Client struct {
	opts      Options
	log       *zap.Logger
	transport Transport
	backend   Backend

	loop     *eventloop.Loop
	views    *subscription.Registry
	messages *pagination.Engine[models.Message]
	posts    *pagination.Engine[models.Post]
	comments *pagination.Engine[models.Comment]
	merge    *livemerge.Engine
	reads    *readstate.Reconciler
	summary  *roomlist.Synchronizer
	proj     *projector

	// 以下字段只在事件循环内访问
	activeRoom    int64
	roomViewGen   uint64
	detailsOpen   bool
	lostConn      bool
	roomsGen      uint64
	pending       map[string]models.PendingMessage
	notifications []models.Notification

	connected atomic.Bool
	started   atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func New(t Transport, b Backend, opts Options) *Client {
	if opts.PageSize <= 0 {
		opts.PageSize = pagination.DefaultPageSize
	}
	if opts.NotificationQueueSize <= 0 {
		opts.NotificationQueueSize = 200
	}
	if opts.ViewMinDuration <= 0 {
		opts.ViewMinDuration = time.Second
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	log := opts.Logger.With(zap.Int64("user", opts.UserID))

	c := &Client{
		opts:      opts,
		log:       log,
		transport: t,
		backend:   b,
		loop:      eventloop.New(opts.EventQueueSize, log),
		views:     subscription.New(t, log),
		summary:   roomlist.New(),
		pending:   make(map[string]models.PendingMessage),
		proj:      newProjector(opts.UserID, opts.Sinks, log),
		ctx:       ctx,
		cancel:    cancel,
	}
	eo := pagination.EngineOptions{PageSize: opts.PageSize, FetchTimeout: opts.FetchTimeout, Logger: log}
	c.messages = pagination.NewEngine[models.Message](ctx, c.loop, pagination.NewRegistry[models.Message](), eo)
	c.posts = pagination.NewEngine[models.Post](ctx, c.loop, pagination.NewRegistry[models.Post](), eo)
	c.comments = pagination.NewEngine[models.Comment](ctx, c.loop, pagination.NewRegistry[models.Comment](), eo)

	c.reads = readstate.New(opts.UserID, c.publishRead)
	c.merge = livemerge.New(c.messages.Registry(), c.reads, c.summary, log)

	c.messages.OnPage = c.onHistoryPage
	c.merge.OnMerged = c.onMerged
	c.merge.OnMembership = c.onMembership
	c.merge.OnGap = c.resyncRoom
	c.reads.OnChange = func(m models.ReadMarker) {
		c.proj.emit(models.EventReadMarker, func(ev *models.ProjectionEvent) { ev.Marker = &m })
	}
	c.summary.OnChange = func(rooms []models.Room) {
		c.proj.emit(models.EventRoomsChanged, func(ev *models.ProjectionEvent) { ev.Rooms = rooms })
	}
	return c
}

// Start 启动事件循环，订阅用户通知通道并加载房间列表与通知
func (c *Client) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.loop.Run(c.ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.proj.run(c.ctx)
	}()
	c.transport.OnStateChange(c.onTransportState)

	var err error
	if cerr := c.loop.Call(ctx, func() {
		_, err = c.views.ActivateView(subscription.ViewUser, []subscription.Topic{
			{Name: subscription.TopicNotify, Handler: c.handleNotify},
		})
	}); cerr != nil {
		return cerr
	}
	if err != nil {
		return err
	}

	if c.opts.RoomsCache != nil {
		c.seedRooms(ctx)
	}
	if err := c.RefreshRooms(ctx); err != nil {
		c.log.Warn("initial room list load failed", zap.Error(err))
	}
	if list, err := c.backend.Notifications(ctx); err != nil {
		c.log.Warn("initial notification load failed", zap.Error(err))
	} else {
		_ = c.loop.Call(ctx, func() {
			for _, n := range list {
				c.pushNotification(n)
			}
		})
	}
	c.log.Info("sync client started")
	return nil
}

func (c *Client) seedRooms(ctx context.Context) {
	rooms, err := c.opts.RoomsCache.Rooms(ctx, c.opts.UserID)
	if err != nil {
		c.log.Warn("cached room list unavailable", zap.Error(err))
		return
	}
	if len(rooms) == 0 {
		return
	}
	_ = c.loop.Call(ctx, func() { c.summary.Replace(rooms) })
	c.log.Debug("room list seeded from cache", zap.Int("rooms", len(rooms)))
}

// Close 退订所有主题并停止事件循环；传输会话由调用方关闭
func (c *Client) Close() {
	if c.started.Load() {
		_ = c.loop.Call(context.Background(), func() { c.views.CloseAll() })
	}
	c.loop.Close()
	c.cancel()
	c.wg.Wait()
	c.log.Info("sync client closed")
}

// Connected 传输会话当前是否已连接
func (c *Client) Connected() bool { return c.connected.Load() }

func (c *Client) call(ctx context.Context, fn func()) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	return c.loop.Call(ctx, fn)
}

func await(ctx context.Context, ch <-chan pagination.Result) (pagination.Result, error) {
	select {
	case r := <-ch:
		return r, r.Err
	case <-ctx.Done():
		return pagination.Result{}, ctx.Err()
	}
}

// onTransportState 在会话 goroutine 中回调。断线期间可能漏掉推送，
// 重新连上后对当前房间做重同步并刷新房间列表。
func (c *Client) onTransportState(s ws.State) {
	c.connected.Store(s == ws.StateConnected)
	c.loop.Post(func() {
		switch s {
		case ws.StateReconnecting, ws.StateDisconnected:
			c.lostConn = true
		case ws.StateConnected:
			if !c.lostConn {
				return
			}
			c.lostConn = false
			c.log.Info("transport reconnected, resyncing")
			if c.activeRoom != 0 {
				if l, ok := c.messages.Registry().Get(livemerge.ListID(c.activeRoom)); ok {
					l.FlagResync()
				}
				c.resyncRoom(c.activeRoom)
			}
			c.refreshRooms()
		}
	})
}

func (c *Client) publish(destination string, payload any) error {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.FetchTimeout)
	defer cancel()
	err := c.transport.Publish(ctx, destination, payload)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.PublishTotal.WithLabelValues(destination, result).Inc()
	return err
}

// publishRead 由 Reconciler 在循环内调用，网络写入放到循环外
func (c *Client) publishRead(roomID, messageID int64) {
	payload := readstate.ReadPayload{ChatRoomID: roomID, MessageID: messageID}
	go func() {
		if err := c.publish(readstate.DestinationRead, payload); err != nil {
			c.log.Debug("read receipt not sent", zap.Int64("room", roomID), zap.Int64("msg", messageID), zap.Error(err))
		}
	}()
}
