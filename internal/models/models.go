package models

import (
	"time"

	"go-imsync/internal/domain/valueobjects"
)

// Room/Message/ReadMarker/Post/Comment 为同步核心的领域模型，JSON 字段与后端接口保持一致。
// 所有 ID 均为后端分配的 int64；消息 ID 在同一房间内严格递增。

type Room struct {
	ID            int64                 `json:"chatroomId"`
	Type          valueobjects.RoomType `json:"type"`
	Title         string                `json:"title"`
	Members       []int64               `json:"members,omitempty"`
	ProfileImages []string              `json:"profileImages,omitempty"`
	LastMessage   string                `json:"lastMessage"`
	UnreadCount   int                   `json:"unreadCount"`
}

type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Message 房间内的一条消息。
// - ClientMsgID 仅由本端发送的消息携带（后端回显），用于确认乐观发送
type Message struct {
	ID                 int64                    `json:"messageId"`
	RoomID             int64                    `json:"chatroomId"`
	SenderID           int64                    `json:"senderId"`
	SenderName         string                   `json:"senderName,omitempty"`
	SenderProfileImage string                   `json:"senderProfileImage,omitempty"`
	Type               valueobjects.MessageType `json:"type"`
	Text               string                   `json:"message"`
	CreatedAt          string                   `json:"createAt,omitempty"`
	Attachments        []Attachment             `json:"attachments,omitempty"`
	ClientMsgID        string                   `json:"clientMsgId,omitempty"`
}

func (m Message) ItemID() int64 { return m.ID }

// PendingMessage 已发出但尚未被推送确认的消息
type PendingMessage struct {
	ClientMsgID string    `json:"clientMsgId"`
	RoomID      int64     `json:"chatroomId"`
	Text        string    `json:"message"`
	SentAt      time.Time `json:"sentAt"`
}

// MemberRead 成员已读水位（/api/chat/get/members/read_info 与 /topic/members/info/{roomId}）
type MemberRead struct {
	UserID            int64 `json:"userId"`
	LastReadMessageID int64 `json:"lastReadMessageId"`
}

// ReadMarker (room, member) 维度的已读水位
type ReadMarker struct {
	RoomID            int64 `json:"chatroomId"`
	MemberID          int64 `json:"userId"`
	LastReadMessageID int64 `json:"lastReadMessageId"`
}

type Post struct {
	ID            int64    `json:"postId"`
	UserID        int64    `json:"userId,omitempty"`
	Name          string   `json:"name,omitempty"`
	ProfileImage  string   `json:"profileImage,omitempty"`
	Content       string   `json:"content,omitempty"`
	Images        []string `json:"images,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	FavoriteCount int64    `json:"favoriteCount"`
	CommentCount  int64    `json:"commentCount"`
	IsFavorite    bool     `json:"isFavorite"`
	CreatedAt     string   `json:"createAt,omitempty"`
}

func (p Post) ItemID() int64 { return p.ID }

// PostPatch 本地乐观更新（点赞/评论数），nil 字段保持不变
type PostPatch struct {
	ID            int64  `json:"postId"`
	FavoriteCount *int64 `json:"favoriteCount,omitempty"`
	CommentCount  *int64 `json:"commentCount,omitempty"`
	IsFavorite    *bool  `json:"isFavorite,omitempty"`
}

// Apply 将补丁合并到帖子上
func (pp PostPatch) Apply(p Post) Post {
	if pp.FavoriteCount != nil {
		p.FavoriteCount = *pp.FavoriteCount
	}
	if pp.CommentCount != nil {
		p.CommentCount = *pp.CommentCount
	}
	if pp.IsFavorite != nil {
		p.IsFavorite = *pp.IsFavorite
	}
	return p
}

type Comment struct {
	ID           int64  `json:"id"`
	PostID       int64  `json:"postId,omitempty"`
	UserID       int64  `json:"userId"`
	Name         string `json:"name"`
	Content      string `json:"content"`
	ProfileImage string `json:"profileImage,omitempty"`
	CreatedAt    string `json:"createAt,omitempty"`
}

func (c Comment) ItemID() int64 { return c.ID }

// ViewRecord 帖子浏览时长上报
type ViewRecord struct {
	PostID           int64     `json:"postId"`
	ViewedAt         time.Time `json:"viewedAt"`
	TimeSpentSeconds int       `json:"timeSpentSeconds"`
}

type AlarmType string

const (
	AlarmChat       AlarmType = "CHAT"
	AlarmCreateRoom AlarmType = "CREATE_ROOM"
	AlarmInviteRoom AlarmType = "INVITE_ROOM"
	AlarmLeaveRoom  AlarmType = "LEAVE_ROOM"
	AlarmFollow     AlarmType = "FOLLOW"
)

// RefreshesRooms 建房/邀请/退出通知需要重新拉取房间列表
func (a AlarmType) RefreshesRooms() bool {
	return a == AlarmCreateRoom || a == AlarmInviteRoom || a == AlarmLeaveRoom
}

// Notification /user/queue/notify 推送与 /api/alarm/getList 的条目
type Notification struct {
	AlarmType  AlarmType `json:"alarmType"`
	RoomID     int64     `json:"chatRoomId,omitempty"`
	Message    string    `json:"message,omitempty"`
	UserID     int64     `json:"userId,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// 投影事件种类
const (
	EventRoomsChanged  = "rooms_changed"
	EventMessageMerged = "message_merged"
	EventReadMarker    = "read_marker"
)

// ProjectionEvent 同步核心对外输出的投影事件（Redis/Kafka/NATS 共用同一编码）
type ProjectionEvent struct {
	ID      string      `json:"id"`
	Kind    string      `json:"kind"`
	OwnerID int64       `json:"ownerId"`
	At      int64       `json:"at"`
	Rooms   []Room      `json:"rooms,omitempty"`
	Message *Message    `json:"message,omitempty"`
	Marker  *ReadMarker `json:"marker,omitempty"`
}
