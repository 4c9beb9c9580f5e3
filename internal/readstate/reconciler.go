// Package readstate 维护每个房间内各成员的已读水位。
// 合并规则单调：只接受更大的消息 ID，本地乐观推进不会被旧的远端值回退。
package readstate

import (
	"sort"

	"go-imsync/internal/models"
)

// DestinationRead 上行已读回执
const DestinationRead = "/app/update/read"

// ReadPayload /app/update/read 的消息体
type ReadPayload struct {
	ChatRoomID int64 `json:"chatRoomId"`
	MessageID  int64 `json:"messageId"`
}

// Reconciler 只在事件循环内访问
type Reconciler struct {
	self    int64
	markers map[int64]map[int64]int64 // room -> member -> lastRead
	publish func(roomID, messageID int64)

	OnChange func(models.ReadMarker)
}

// New publish 负责把已读回执发到传输层，可为 nil
func New(self int64, publish func(roomID, messageID int64)) *Reconciler {
	return &Reconciler{self: self, markers: make(map[int64]map[int64]int64), publish: publish}
}

func (r *Reconciler) room(roomID int64) map[int64]int64 {
	m, ok := r.markers[roomID]
	if !ok {
		m = make(map[int64]int64)
		r.markers[roomID] = m
	}
	return m
}

func (r *Reconciler) advance(roomID, memberID, messageID int64) bool {
	m := r.room(roomID)
	if cur, ok := m[memberID]; ok && messageID <= cur {
		return false
	}
	m[memberID] = messageID
	if r.OnChange != nil {
		r.OnChange(models.ReadMarker{RoomID: roomID, MemberID: memberID, LastReadMessageID: messageID})
	}
	return true
}

// PublishRead 打开历史或活跃房间收到新消息时调用：本地推进自己的水位并发布回执。
// 回执总是发送，服务端同样按单调规则合并。
func (r *Reconciler) PublishRead(roomID, messageID int64) {
	if messageID <= 0 {
		return
	}
	r.advance(roomID, r.self, messageID)
	if r.publish != nil {
		r.publish(roomID, messageID)
	}
}

// OnRemoteReadUpdate 合并推送来的水位，返回是否发生变化
func (r *Reconciler) OnRemoteReadUpdate(roomID, memberID, messageID int64) bool {
	return r.advance(roomID, memberID, messageID)
}

// Seed 合并接口拉取到的全量水位
func (r *Reconciler) Seed(roomID int64, reads []models.MemberRead) {
	m := r.room(roomID)
	for _, mr := range reads {
		if _, ok := m[mr.UserID]; !ok {
			m[mr.UserID] = 0
		}
		r.advance(roomID, mr.UserID, mr.LastReadMessageID)
	}
}

func (r *Reconciler) LastRead(roomID, memberID int64) int64 {
	return r.markers[roomID][memberID]
}

// UnreadBy 尚未读到该消息的成员数（lastRead < messageID），即“未读人数”角标
func (r *Reconciler) UnreadBy(roomID, messageID int64) int {
	n := 0
	for _, last := range r.markers[roomID] {
		if last < messageID {
			n++
		}
	}
	return n
}

// Members 按成员 ID 排序的水位快照
func (r *Reconciler) Members(roomID int64) []models.MemberRead {
	m := r.markers[roomID]
	out := make([]models.MemberRead, 0, len(m))
	for id, last := range m {
		out = append(out, models.MemberRead{UserID: id, LastReadMessageID: last})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Release 房间视图失活时释放
func (r *Reconciler) Release(roomID int64) {
	delete(r.markers, roomID)
}
