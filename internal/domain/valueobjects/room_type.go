package valueobjects

import "errors"

// RoomType 聊天室类型值对象
type RoomType string

const (
	RoomTypeDirect RoomType = "DIRECT"
	RoomTypeGroup  RoomType = "GROUP"
)

// NewRoomType 创建聊天室类型值对象
func NewRoomType(value string) (RoomType, error) {
	rt := RoomType(value)
	if !rt.IsValid() {
		return "", errors.New("无效的聊天室类型")
	}
	return rt, nil
}

// IsValid 验证聊天室类型是否有效
func (rt RoomType) IsValid() bool {
	switch rt {
	case RoomTypeDirect, RoomTypeGroup:
		return true
	default:
		return false
	}
}

func (rt RoomType) String() string { return string(rt) }

// IsDirect 是否为单聊
func (rt RoomType) IsDirect() bool { return rt == RoomTypeDirect }

// IsGroup 是否为群聊
func (rt RoomType) IsGroup() bool { return rt == RoomTypeGroup }
