package valueobjects

import "errors"

// MessageType 消息类型值对象
type MessageType string

const (
	MessageTypeText   MessageType = "TEXT"
	MessageTypeImage  MessageType = "IMAGE"
	MessageTypeFile   MessageType = "FILE"
	MessageTypeInvite MessageType = "INVITE"
	MessageTypeLeave  MessageType = "LEAVE"
)

// NewMessageType 创建消息类型值对象
func NewMessageType(value string) (MessageType, error) {
	mt := MessageType(value)
	if !mt.IsValid() {
		return "", errors.New("无效的消息类型")
	}
	return mt, nil
}

// IsValid 验证消息类型是否有效
func (mt MessageType) IsValid() bool {
	switch mt {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeInvite, MessageTypeLeave:
		return true
	default:
		return false
	}
}

func (mt MessageType) String() string { return string(mt) }

// IsMembership 成员变更类系统消息（邀请/退出）
func (mt MessageType) IsMembership() bool {
	return mt == MessageTypeInvite || mt == MessageTypeLeave
}

// HasAttachments 图片与文件消息携带附件列表
func (mt MessageType) HasAttachments() bool {
	return mt == MessageTypeImage || mt == MessageTypeFile
}
