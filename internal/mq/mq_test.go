package mq

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"go-imsync/internal/models"
)

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" a:9092, ,b:9092 ")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("SplitBrokers = %v", got)
	}
	if SplitBrokers("") != nil {
		t.Fatal("empty list")
	}
}

func TestSubject(t *testing.T) {
	if got := Subject("imsync.projection", 4, models.EventReadMarker); got != "imsync.projection.4.read_marker" {
		t.Fatalf("Subject = %q", got)
	}
}

func TestKafkaHandleKeysByOwner(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	mp := mocks.NewAsyncProducer(t, cfg)
	mp.ExpectInputAndSucceed()
	p := &KafkaProducer{Async: mp, Topic: "imsync-projection"}

	ev := models.ProjectionEvent{ID: "e1", Kind: models.EventMessageMerged, OwnerID: 42, Message: &models.Message{ID: 7}}
	if err := p.Handle(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	msg := <-mp.Successes()
	key, _ := msg.Key.Encode()
	val, _ := msg.Value.Encode()
	if string(key) != "42" || msg.Topic != "imsync-projection" {
		t.Fatalf("key = %q topic = %q", key, msg.Topic)
	}
	var back models.ProjectionEvent
	if err := json.Unmarshal(val, &back); err != nil || back.Message.ID != 7 {
		t.Fatalf("value = %s, %v", val, err)
	}
	if err := mp.Close(); err != nil {
		t.Fatal(err)
	}
}
