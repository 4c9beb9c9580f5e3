package store

import (
	"context"
	"testing"
	"time"

	"go-imsync/internal/domain/valueobjects"
	"go-imsync/internal/models"

	"go.mongodb.org/mongo-driver/bson"
)

func TestChunkMarkers(t *testing.T) {
	markers := make([]models.ReadMarker, 5)
	chunks := chunkMarkers(markers, 2)
	if len(chunks) != 3 || len(chunks[2]) != 1 {
		t.Fatalf("chunks = %d, last = %d", len(chunks), len(chunks[len(chunks)-1]))
	}
	if chunkMarkers(nil, 2) != nil {
		t.Fatal("empty input must produce no chunks")
	}
}

func TestArchivedMessageRoundTripThroughBSON(t *testing.T) {
	m := models.Message{
		ID: 9, RoomID: 3, SenderID: 4, Type: valueobjects.MessageTypeFile, Text: "f",
		Attachments: []models.Attachment{{URL: "u", Name: "a.pdf"}}, ClientMsgID: "c1",
	}
	raw, err := bson.Marshal(toArchived(1, m, time.Unix(0, 0)))
	if err != nil {
		t.Fatal(err)
	}
	var fields bson.M
	if err := bson.Unmarshal(raw, &fields); err != nil {
		t.Fatal(err)
	}
	if fields["message_id"] != int64(9) || fields["owner_id"] != int64(1) || fields["type"] != "FILE" {
		t.Fatalf("fields = %v", fields)
	}
	if _, ok := fields["_id"]; ok {
		t.Fatal("_id must be left to the server")
	}
	var back archivedMessage
	if err := bson.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	got := back.toModel()
	if got.ID != 9 || got.RoomID != 3 || got.Type != valueobjects.MessageTypeFile || len(got.Attachments) != 1 {
		t.Fatalf("model = %+v", got)
	}
}

func TestSinksIgnoreOtherEvents(t *testing.T) {
	// nil 连接：不相关事件必须在访问连接前返回
	rs := &ReceiptStore{}
	if err := rs.Handle(context.Background(), models.ProjectionEvent{Kind: models.EventRoomsChanged}); err != nil {
		t.Fatal(err)
	}
	ma := &MessageArchive{}
	if err := ma.Handle(context.Background(), models.ProjectionEvent{Kind: models.EventReadMarker}); err != nil {
		t.Fatal(err)
	}
}
