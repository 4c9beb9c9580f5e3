// Package roomlist 维护房间列表摘要：按最近活跃排序、最后一条预览与未读数。
package roomlist

import "go-imsync/internal/models"

// State 房间未读状态：normal --未读推送--> hasUnread --打开房间--> normal
type State int

const (
	StateNormal State = iota
	StateHasUnread
)

func (s State) String() string {
	if s == StateHasUnread {
		return "has_unread"
	}
	return "normal"
}

// Synchronizer 只在事件循环内访问
type Synchronizer struct {
	rooms  []models.Room
	active int64

	OnChange func([]models.Room)
}

func New() *Synchronizer { return &Synchronizer{} }

func (s *Synchronizer) changed() {
	if s.OnChange != nil {
		s.OnChange(s.Snapshot())
	}
}

func (s *Synchronizer) index(roomID int64) int {
	for i := range s.rooms {
		if s.rooms[i].ID == roomID {
			return i
		}
	}
	return -1
}

// Replace 用接口拉取的完整列表替换；当前打开的房间未读数保持为 0
func (s *Synchronizer) Replace(rooms []models.Room) {
	s.rooms = append(s.rooms[:0:0], rooms...)
	if i := s.index(s.active); i >= 0 {
		s.rooms[i].UnreadCount = 0
	}
	s.changed()
}

func (s *Synchronizer) moveToFront(i int) {
	if i == 0 {
		return
	}
	r := s.rooms[i]
	copy(s.rooms[1:i+1], s.rooms[:i])
	s.rooms[0] = r
}

// ApplyMessage 新消息更新预览；非当前房间未读数加一。
// 只有预览或未读数确实变化时才移到最前，返回是否变化。
func (s *Synchronizer) ApplyMessage(roomID int64, preview string) bool {
	i := s.index(roomID)
	if i < 0 {
		return false
	}
	r := &s.rooms[i]
	changed := false
	if r.LastMessage != preview {
		r.LastMessage = preview
		changed = true
	}
	if roomID != s.active {
		r.UnreadCount++
		changed = true
	}
	if !changed {
		return false
	}
	s.moveToFront(i)
	s.changed()
	return true
}

// Activate 打开房间，未读清零
func (s *Synchronizer) Activate(roomID int64) {
	s.active = roomID
	if i := s.index(roomID); i >= 0 && s.rooms[i].UnreadCount != 0 {
		s.rooms[i].UnreadCount = 0
		s.changed()
	}
}

func (s *Synchronizer) Deactivate()   { s.active = 0 }
func (s *Synchronizer) Active() int64 { return s.active }

func (s *Synchronizer) Has(roomID int64) bool { return s.index(roomID) >= 0 }

func (s *Synchronizer) State(roomID int64) State {
	if i := s.index(roomID); i >= 0 && s.rooms[i].UnreadCount > 0 {
		return StateHasUnread
	}
	return StateNormal
}

func (s *Synchronizer) Rename(roomID int64, title string) bool {
	i := s.index(roomID)
	if i < 0 || s.rooms[i].Title == title {
		return false
	}
	s.rooms[i].Title = title
	s.changed()
	return true
}

func (s *Synchronizer) SetProfileImages(roomID int64, images []string) bool {
	i := s.index(roomID)
	if i < 0 {
		return false
	}
	s.rooms[i].ProfileImages = append([]string(nil), images...)
	s.changed()
	return true
}

// Remove 退出或被移出房间
func (s *Synchronizer) Remove(roomID int64) bool {
	i := s.index(roomID)
	if i < 0 {
		return false
	}
	s.rooms = append(s.rooms[:i], s.rooms[i+1:]...)
	if s.active == roomID {
		s.active = 0
	}
	s.changed()
	return true
}

func (s *Synchronizer) Get(roomID int64) (models.Room, bool) {
	if i := s.index(roomID); i >= 0 {
		return s.rooms[i], true
	}
	return models.Room{}, false
}

func (s *Synchronizer) Snapshot() []models.Room {
	out := make([]models.Room, len(s.rooms))
	copy(out, s.rooms)
	return out
}
