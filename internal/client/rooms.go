package client

import (
	"bytes"
	"context"
	"sort"
	"strconv"
	"strings"

	"go-imsync/internal/livemerge"
	"go-imsync/internal/metrics"
	"go-imsync/internal/models"
	"go-imsync/internal/pagination"
	"go-imsync/internal/subscription"
	"go-imsync/internal/transport/ws"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MessagesView 当前房间的消息快照
type MessagesView struct {
	RoomID      int64                   `json:"chatRoomId"`
	Items       []models.Message        `json:"items"`
	Pending     []models.PendingMessage `json:"pending"`
	Exhausted   bool                    `json:"exhausted"`
	Loading     bool                    `json:"loading"`
	NeedsResync bool                    `json:"needsResync"`
}

// ActivateRoom 打开房间：释放上一个房间的列表，订阅新房间主题，加载第一页历史与成员已读水位。
// 返回第一页的加载结果。
func (c *Client) ActivateRoom(ctx context.Context, roomID int64) (pagination.Result, error) {
	var (
		ch  <-chan pagination.Result
		err error
	)
	if cerr := c.call(ctx, func() { ch, err = c.activateRoom(roomID) }); cerr != nil {
		return pagination.Result{}, cerr
	}
	if err != nil {
		return pagination.Result{}, err
	}
	return await(ctx, ch)
}

func (c *Client) activateRoom(roomID int64) (<-chan pagination.Result, error) {
	if c.activeRoom != 0 {
		c.releaseRoom(c.activeRoom)
	}
	c.activeRoom = roomID
	c.detailsOpen = false
	c.summary.Activate(roomID)

	id := livemerge.ListID(roomID)
	c.messages.Registry().Open(id, &pagination.HistoryStrategy{RoomID: roomID, API: c.backend})
	gen, err := c.views.ActivateView(subscription.ViewRoom, []subscription.Topic{
		{Name: subscription.ChatTopic(roomID), Handler: c.chatHandler(roomID)},
		{Name: subscription.MembersTopic(roomID), Handler: c.membersHandler(roomID)},
	})
	if err != nil {
		c.releaseRoom(roomID)
		c.activeRoom = 0
		c.summary.Deactivate()
		return nil, err
	}
	c.roomViewGen = gen
	c.loadReadInfo(roomID, gen)
	c.log.Debug("room activated", zap.Int64("room", roomID), zap.Uint64("gen", gen))
	return c.messages.LoadMore(id), nil
}

func (c *Client) releaseRoom(roomID int64) {
	c.messages.Registry().Release(livemerge.ListID(roomID))
	c.reads.Release(roomID)
	for k, p := range c.pending {
		if p.RoomID == roomID {
			delete(c.pending, k)
		}
	}
}

// DeactivateRoom 离开当前房间视图；之后到达的该房间推送只更新房间摘要
func (c *Client) DeactivateRoom(ctx context.Context) error {
	return c.call(ctx, c.deactivateRoom)
}

func (c *Client) deactivateRoom() {
	c.views.DeactivateView(subscription.ViewRoom)
	if c.activeRoom != 0 {
		c.releaseRoom(c.activeRoom)
	}
	c.activeRoom = 0
	c.roomViewGen = 0
	c.detailsOpen = false
	c.summary.Deactivate()
}

// ActiveRoom 当前房间 ID，0 表示没有
func (c *Client) ActiveRoom(ctx context.Context) (int64, error) {
	var id int64
	err := c.call(ctx, func() { id = c.activeRoom })
	return id, err
}

// LoadMoreHistory 向上翻页加载更早的消息
func (c *Client) LoadMoreHistory(ctx context.Context) (pagination.Result, error) {
	var ch <-chan pagination.Result
	var err error
	if cerr := c.call(ctx, func() {
		if c.activeRoom == 0 {
			err = ErrNoActiveRoom
			return
		}
		ch = c.messages.LoadMore(livemerge.ListID(c.activeRoom))
	}); cerr != nil {
		return pagination.Result{}, cerr
	}
	if err != nil {
		return pagination.Result{}, err
	}
	return await(ctx, ch)
}

// loadReadInfo 拉取成员已读水位；响应到达时房间视图已切换则丢弃
func (c *Client) loadReadInfo(roomID int64, gen uint64) {
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.FetchTimeout)
		defer cancel()
		reads, err := c.backend.ReadInfo(ctx, roomID)
		c.loop.Post(func() {
			if !c.views.IsCurrent(subscription.ViewRoom, gen) || c.activeRoom != roomID {
				metrics.StaleDiscardsTotal.WithLabelValues("read_info").Inc()
				return
			}
			if err != nil {
				c.log.Warn("read info fetch failed", zap.Int64("room", roomID), zap.Error(err))
				return
			}
			c.reads.Seed(roomID, reads)
		})
	}()
}

// onHistoryPage 第一页历史加载后把最后一条标记为已读
func (c *Client) onHistoryPage(l *pagination.List[models.Message], added []models.Message, first bool) {
	for _, m := range added {
		c.confirmPending(m)
	}
	if !first {
		return
	}
	hs, ok := l.Strategy().(*pagination.HistoryStrategy)
	if !ok {
		return
	}
	if tail, ok := l.Tail(); ok {
		c.reads.PublishRead(hs.RoomID, tail.ID)
	}
}

// resyncRoom 丢弃房间当前内容，以新代际重新加载第一页
func (c *Client) resyncRoom(roomID int64) {
	if roomID != c.activeRoom {
		return
	}
	id := livemerge.ListID(roomID)
	if _, ok := c.messages.Registry().Reset(id); !ok {
		return
	}
	metrics.ResyncsTotal.Inc()
	c.log.Info("room resync", zap.Int64("room", roomID))
	c.messages.LoadMore(id)
	c.loadReadInfo(roomID, c.roomViewGen)
}

func (c *Client) chatHandler(roomID int64) func(uint64, *ws.Message) error {
	return func(gen uint64, raw *ws.Message) error {
		var m models.Message
		if err := raw.Decode(&m); err != nil {
			return err
		}
		c.loop.Post(func() {
			if !c.views.IsCurrent(subscription.ViewRoom, gen) || c.activeRoom != roomID {
				metrics.PushTotal.WithLabelValues("stale_view").Inc()
				return
			}
			c.merge.OnPushEvent(c.activeRoom, roomID, m)
		})
		return nil
	}
}

// membersHandler 成员已读推送可能是单条或数组
func (c *Client) membersHandler(roomID int64) func(uint64, *ws.Message) error {
	return func(gen uint64, raw *ws.Message) error {
		var reads []models.MemberRead
		body := bytes.TrimSpace(raw.Body)
		if len(body) > 0 && body[0] == '[' {
			if err := raw.Decode(&reads); err != nil {
				return err
			}
		} else {
			var one models.MemberRead
			if err := raw.Decode(&one); err != nil {
				return err
			}
			reads = append(reads, one)
		}
		c.loop.Post(func() {
			if !c.views.IsCurrent(subscription.ViewRoom, gen) || c.activeRoom != roomID {
				return
			}
			for _, r := range reads {
				c.reads.OnRemoteReadUpdate(roomID, r.UserID, r.LastReadMessageID)
			}
		})
		return nil
	}
}

func (c *Client) onMerged(m models.Message) {
	c.confirmPending(m)
	c.proj.emit(models.EventMessageMerged, func(ev *models.ProjectionEvent) { ev.Message = &m })
}

// onMembership 成员变更：关闭房间详情并刷新房间列表
func (c *Client) onMembership(models.Message) {
	c.detailsOpen = false
	c.refreshRooms()
}

// SendMessage 乐观发送：先登记待确认条目，收到带同一 clientMsgId（或同发送者同文本）的推送后确认
func (c *Client) SendMessage(ctx context.Context, text string) (models.PendingMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.PendingMessage{}, ErrEmptyMessage
	}
	if c.opts.Limiter != nil && !c.opts.Limiter.Allow(ctx, "send:"+formatID(c.opts.UserID)) {
		return models.PendingMessage{}, ErrRateLimited
	}

	var p models.PendingMessage
	var err error
	if cerr := c.call(ctx, func() {
		if c.activeRoom == 0 {
			err = ErrNoActiveRoom
			return
		}
		p = models.PendingMessage{ClientMsgID: uuid.NewString(), RoomID: c.activeRoom, Text: text, SentAt: c.opts.Now()}
		c.pending[p.ClientMsgID] = p
	}); cerr != nil {
		return models.PendingMessage{}, cerr
	}
	if err != nil {
		return models.PendingMessage{}, err
	}

	if err := c.publish(DestinationSend, SendPayload{ChatRoomID: p.RoomID, Message: p.Text, ClientMsgID: p.ClientMsgID}); err != nil {
		c.loop.Post(func() { delete(c.pending, p.ClientMsgID) })
		return models.PendingMessage{}, err
	}
	return p, nil
}

func (c *Client) confirmPending(m models.Message) {
	if len(c.pending) == 0 {
		return
	}
	if m.ClientMsgID != "" {
		if _, ok := c.pending[m.ClientMsgID]; ok {
			delete(c.pending, m.ClientMsgID)
			return
		}
	}
	if m.SenderID != c.opts.UserID {
		return
	}
	var oldest *models.PendingMessage
	for k := range c.pending {
		p := c.pending[k]
		if p.RoomID == m.RoomID && p.Text == m.Text && (oldest == nil || p.SentAt.Before(oldest.SentAt)) {
			oldest = &p
		}
	}
	if oldest != nil {
		delete(c.pending, oldest.ClientMsgID)
	}
}

// Messages 当前房间消息快照
func (c *Client) Messages(ctx context.Context) (MessagesView, error) {
	var v MessagesView
	var err error
	cerr := c.call(ctx, func() {
		if c.activeRoom == 0 {
			err = ErrNoActiveRoom
			return
		}
		v.RoomID = c.activeRoom
		if l, ok := c.messages.Registry().Get(livemerge.ListID(c.activeRoom)); ok {
			v.Items = l.Items()
			v.Exhausted = l.Exhausted()
			v.Loading = l.InFlight()
			v.NeedsResync = l.NeedsResync()
		}
		for _, p := range c.pending {
			if p.RoomID == c.activeRoom {
				v.Pending = append(v.Pending, p)
			}
		}
		sortPending(v.Pending)
	})
	if cerr != nil {
		return MessagesView{}, cerr
	}
	return v, err
}

// SeenBy 当前房间内尚未读到该消息的成员数
func (c *Client) SeenBy(ctx context.Context, messageID int64) (int, error) {
	var n int
	var err error
	cerr := c.call(ctx, func() {
		if c.activeRoom == 0 {
			err = ErrNoActiveRoom
			return
		}
		n = c.reads.UnreadBy(c.activeRoom, messageID)
	})
	if cerr != nil {
		return 0, cerr
	}
	return n, err
}

// OpenRoomDetails 打开当前房间详情（成员列表）；成员变更推送会将其关闭
func (c *Client) OpenRoomDetails(ctx context.Context) error {
	var err error
	cerr := c.call(ctx, func() {
		if c.activeRoom == 0 {
			err = ErrNoActiveRoom
			return
		}
		c.detailsOpen = true
	})
	if cerr != nil {
		return cerr
	}
	return err
}

func (c *Client) RoomDetailsOpen(ctx context.Context) (bool, error) {
	var open bool
	err := c.call(ctx, func() { open = c.detailsOpen })
	return open, err
}

// Rooms 房间列表快照（最近活跃在前）
func (c *Client) Rooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	err := c.call(ctx, func() { rooms = c.summary.Snapshot() })
	return rooms, err
}

// RefreshRooms 重新拉取房间列表；并发刷新只应用最后一次发起的结果
func (c *Client) RefreshRooms(ctx context.Context) error {
	var ch <-chan error
	if err := c.call(ctx, func() { ch = c.refreshRooms() }); err != nil {
		return err
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) refreshRooms() <-chan error {
	c.roomsGen++
	gen := c.roomsGen
	out := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.FetchTimeout)
		defer cancel()
		rooms, err := c.backend.Rooms(ctx)
		if !c.loop.Post(func() {
			if gen != c.roomsGen {
				out <- nil
				return
			}
			if err == nil {
				c.summary.Replace(rooms)
			}
			out <- err
		}) {
			out <- err
		}
	}()
	return out
}

// RenameRoom 修改群聊标题
func (c *Client) RenameRoom(ctx context.Context, roomID int64, title string) error {
	got, err := c.backend.UpdateRoomTitle(ctx, roomID, title)
	if err != nil {
		return err
	}
	return c.call(ctx, func() { c.summary.Rename(roomID, got) })
}

// LeaveRoom 退出房间；若为当前房间则一并关闭视图
func (c *Client) LeaveRoom(ctx context.Context, roomID int64) error {
	if err := c.backend.LeaveRoom(ctx, roomID); err != nil {
		return err
	}
	return c.call(ctx, func() {
		if c.activeRoom == roomID {
			c.deactivateRoom()
		}
		c.summary.Remove(roomID)
	})
}

func (c *Client) handleNotify(gen uint64, raw *ws.Message) error {
	var n models.Notification
	if err := raw.Decode(&n); err != nil {
		return err
	}
	if n.AlarmType == "" {
		return errMissingAlarmType
	}
	n.ReceivedAt = c.opts.Now()
	c.loop.Post(func() {
		if !c.views.IsCurrent(subscription.ViewUser, gen) {
			return
		}
		c.pushNotification(n)
		switch {
		case n.AlarmType == models.AlarmChat:
			if !c.summary.Has(n.RoomID) {
				c.refreshRooms()
				return
			}
			c.summary.ApplyMessage(n.RoomID, n.Message)
		case n.AlarmType.RefreshesRooms():
			c.refreshRooms()
		}
	})
	return nil
}

// pushNotification 有界队列，满时丢弃最旧的
func (c *Client) pushNotification(n models.Notification) {
	if len(c.notifications) >= c.opts.NotificationQueueSize {
		drop := len(c.notifications) - c.opts.NotificationQueueSize + 1
		c.notifications = append(c.notifications[:0], c.notifications[drop:]...)
	}
	c.notifications = append(c.notifications, n)
}

// Notifications 通知队列快照（旧在前）
func (c *Client) Notifications(ctx context.Context) ([]models.Notification, error) {
	var out []models.Notification
	err := c.call(ctx, func() { out = append(out, c.notifications...) })
	return out, err
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

func sortPending(p []models.PendingMessage) {
	sort.Slice(p, func(i, j int) bool { return p[i].SentAt.Before(p[j].SentAt) })
}
