package mq

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"go-imsync/internal/models"

	"github.com/IBM/sarama"
)

// KafkaProducer 投影事件写入 Kafka，key 为 owner，同一账号的事件保持分区内有序
type KafkaProducer struct {
	Async sarama.AsyncProducer
	Topic string
}

func NewKafkaProducer(brokersCSV, topic string) (*KafkaProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = false
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	p, err := sarama.NewAsyncProducer(SplitBrokers(brokersCSV), cfg)
	if err != nil {
		return nil, err
	}
	return &KafkaProducer{Async: p, Topic: topic}, nil
}

func SplitBrokers(csv string) []string {
	var out []string
	for _, b := range strings.Split(csv, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (p *KafkaProducer) Publish(value []byte, key []byte) {
	if p == nil || p.Async == nil {
		return
	}
	p.Async.Input() <- &sarama.ProducerMessage{Topic: p.Topic, Key: sarama.ByteEncoder(key), Value: sarama.ByteEncoder(value)}
}

func (p *KafkaProducer) Name() string { return "kafka" }

func (p *KafkaProducer) Handle(_ context.Context, ev models.ProjectionEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	p.Publish(body, OwnerKey(ev.OwnerID))
	return nil
}

func OwnerKey(owner int64) []byte { return []byte(strconv.FormatInt(owner, 10)) }

func (p *KafkaProducer) Close() error {
	if p == nil || p.Async == nil {
		return nil
	}
	return p.Async.Close()
}
