// Package livemerge 把实时推送的消息拼接到当前房间的分页列表中。
// 推送只追加到末尾；疑似缺口时标记重同步而不猜测位置。只在事件循环内调用。
package livemerge

import (
	"strconv"

	"go-imsync/internal/domain/valueobjects"
	"go-imsync/internal/metrics"
	"go-imsync/internal/models"
	"go-imsync/internal/pagination"

	"go.uber.org/zap"
)

type Outcome int

const (
	Merged    Outcome = iota
	Duplicate         // 列表中已存在（重连后的重复投递等）
	Inactive          // 非当前房间，只更新房间摘要
	Gap               // 早于末尾且不在列表中，需要重同步
)

func (o Outcome) String() string {
	switch o {
	case Merged:
		return "merged"
	case Duplicate:
		return "duplicate"
	case Inactive:
		return "inactive"
	case Gap:
		return "gap"
	}
	return "unknown"
}

// ReadPublisher 活跃房间收到新消息即视为已读
type ReadPublisher interface {
	PublishRead(roomID, messageID int64)
}

// SummaryUpdater 房间列表摘要（预览与未读数）
type SummaryUpdater interface {
	ApplyMessage(roomID int64, preview string) bool
}

func ListID(roomID int64) string { return "room:" + strconv.FormatInt(roomID, 10) }

type Engine struct {
	rooms   *pagination.Registry[models.Message]
	reads   ReadPublisher
	summary SummaryUpdater
	log     *zap.Logger

	OnMerged     func(m models.Message)
	OnMembership func(m models.Message) // INVITE/LEAVE 系统消息，成员变更
	OnGap        func(roomID int64)
}

func New(rooms *pagination.Registry[models.Message], reads ReadPublisher, summary SummaryUpdater, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{rooms: rooms, reads: reads, summary: summary, log: log}
}

// OnPushEvent 处理一条房间消息推送。activeRoom 为 0 表示没有打开的房间。
func (e *Engine) OnPushEvent(activeRoom, roomID int64, m models.Message) Outcome {
	if m.RoomID == 0 {
		m.RoomID = roomID
	}
	out := e.merge(activeRoom, roomID, m)
	// 重复投递与缺口消息都不是新消息，不能改动摘要
	if e.summary != nil && (out == Merged || out == Inactive) {
		e.summary.ApplyMessage(roomID, Preview(m))
	}
	metrics.PushTotal.WithLabelValues(out.String()).Inc()
	return out
}

func (e *Engine) merge(activeRoom, roomID int64, m models.Message) Outcome {
	if activeRoom == 0 || roomID != activeRoom {
		return Inactive
	}
	l, ok := e.rooms.Get(ListID(roomID))
	if !ok {
		return Inactive
	}
	if l.Contains(m.ID) {
		return Duplicate
	}
	if tail, ok := l.Tail(); ok && m.ID < tail.ID {
		l.FlagResync()
		e.log.Warn("message gap detected", zap.Int64("room", roomID), zap.Int64("msg", m.ID), zap.Int64("tail", tail.ID))
		if e.OnGap != nil {
			e.OnGap(roomID)
		}
		return Gap
	}

	l.AppendTail(m)
	if e.reads != nil {
		e.reads.PublishRead(roomID, m.ID)
	}
	if e.OnMerged != nil {
		e.OnMerged(m)
	}
	if m.Type.IsMembership() && e.OnMembership != nil {
		e.OnMembership(m)
	}
	return Merged
}

// Preview 房间列表中展示的最后一条消息摘要
func Preview(m models.Message) string {
	switch m.Type {
	case valueobjects.MessageTypeImage:
		return "[image]"
	case valueobjects.MessageTypeFile:
		if len(m.Attachments) > 0 && m.Attachments[0].Name != "" {
			return "[file] " + m.Attachments[0].Name
		}
		return "[file]"
	}
	return m.Text
}
