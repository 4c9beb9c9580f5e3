package store

import (
	"context"
	"time"

	"go-imsync/internal/domain/valueobjects"
	"go-imsync/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageArchive 合并进房间列表的消息归档（MongoDB）。
// - (owner_id, room_id, message_id) 唯一索引保障幂等，重连后的重复投递不会产生重复文档
// - 写入使用 upsert + $setOnInsert
type MessageArchive struct {
	DB *mongo.Database
}

func NewMessageArchive(db *mongo.Database) *MessageArchive {
	return &MessageArchive{DB: db}
}

type archivedMessage struct {
	ID          primitive.ObjectID  `bson:"_id,omitempty"`
	OwnerID     int64               `bson:"owner_id"`
	RoomID      int64               `bson:"room_id"`
	MessageID   int64               `bson:"message_id"`
	SenderID    int64               `bson:"sender_id"`
	SenderName  string              `bson:"sender_name,omitempty"`
	Type        string              `bson:"type"`
	Text        string              `bson:"text"`
	CreatedAt   string              `bson:"created_at,omitempty"`
	Attachments []models.Attachment `bson:"attachments,omitempty"`
	ClientMsgID string              `bson:"client_msg_id,omitempty"`
	ArchivedAt  time.Time           `bson:"archived_at"`
}

func (s *MessageArchive) collection() *mongo.Collection {
	return s.DB.Collection("messages")
}

func (s *MessageArchive) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "room_id", Value: 1}, {Key: "message_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_owner_room_msg"),
	})
	return err
}

func toArchived(ownerID int64, m models.Message, at time.Time) archivedMessage {
	return archivedMessage{
		OwnerID:     ownerID,
		RoomID:      m.RoomID,
		MessageID:   m.ID,
		SenderID:    m.SenderID,
		SenderName:  m.SenderName,
		Type:        m.Type.String(),
		Text:        m.Text,
		CreatedAt:   m.CreatedAt,
		Attachments: m.Attachments,
		ClientMsgID: m.ClientMsgID,
		ArchivedAt:  at,
	}
}

func (d archivedMessage) toModel() models.Message {
	return models.Message{
		ID:          d.MessageID,
		RoomID:      d.RoomID,
		SenderID:    d.SenderID,
		SenderName:  d.SenderName,
		Type:        valueobjects.MessageType(d.Type),
		Text:        d.Text,
		CreatedAt:   d.CreatedAt,
		Attachments: d.Attachments,
		ClientMsgID: d.ClientMsgID,
	}
}

// Append 幂等写入
func (s *MessageArchive) Append(ctx context.Context, ownerID int64, m models.Message) error {
	doc := toArchived(ownerID, m, time.Now())
	filter := bson.D{
		{Key: "owner_id", Value: ownerID},
		{Key: "room_id", Value: m.RoomID},
		{Key: "message_id", Value: m.ID},
	}
	update := bson.D{{Key: "$setOnInsert", Value: doc}}
	_, err := s.collection().UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

// Before 按消息 ID 倒序列出 before 之前的归档消息；before<=0 表示最新
func (s *MessageArchive) Before(ctx context.Context, ownerID, roomID, before int64, limit int64) ([]models.Message, error) {
	filter := bson.D{{Key: "owner_id", Value: ownerID}, {Key: "room_id", Value: roomID}}
	if before > 0 {
		filter = append(filter, bson.E{Key: "message_id", Value: bson.D{{Key: "$lt", Value: before}}})
	}
	opts := options.Find().SetSort(bson.D{{Key: "message_id", Value: -1}}).SetLimit(limit)
	cur, err := s.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []models.Message
	for cur.Next(ctx) {
		var d archivedMessage
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, d.toModel())
	}
	return out, cur.Err()
}

func (s *MessageArchive) Name() string { return "mongo" }

func (s *MessageArchive) Handle(ctx context.Context, ev models.ProjectionEvent) error {
	if ev.Kind != models.EventMessageMerged || ev.Message == nil {
		return nil
	}
	return s.Append(ctx, ev.OwnerID, *ev.Message)
}
