// projection_consumer 消费 syncd 写入 Kafka 的投影事件：已读水位批量写入 MySQL，消息归档到 MongoDB。
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-imsync/internal/config"
	"go-imsync/internal/models"
	"go-imsync/internal/observ"
	"go-imsync/internal/store"
	"go-imsync/internal/store/mongostore"
	"go-imsync/internal/store/sqlstore"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type markerWriter interface {
	ApplyMarkersInChunks(ctx context.Context, ownerID int64, markers []models.ReadMarker, chunkSize, concurrency, retry int) error
}

type archiveWriter interface {
	Append(ctx context.Context, ownerID int64, m models.Message) error
}

type handler struct {
	markers   markerWriter
	archive   archiveWriter
	batchSize int
	flushWait time.Duration
	finalWait time.Duration
	log       *zap.Logger
}

func (h *handler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *handler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim 已读水位攒批写入，批次写入成功后才标记 offset。
// 写入失败时不标记并结束本次会话，重新加入消费组后从已提交的 offset 重新消费。
func (h *handler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	b := newBatch()
	var last *sarama.ConsumerMessage
	ticker := time.NewTicker(h.flushWait)
	defer ticker.Stop()

	flush := func(ctx context.Context) error {
		if err := h.flush(ctx, b); err != nil {
			return err
		}
		if last != nil {
			sess.MarkMessage(last, "")
			last = nil
		}
		return nil
	}
	// 会话 ctx 已取消，最后一批用独立的短超时 ctx 写入
	final := func() error {
		fctx, cancel := context.WithTimeout(context.Background(), h.finalFlushTimeout())
		defer cancel()
		return flush(fctx)
	}
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return final()
			}
			if err := h.route(ctx, msg.Value, b); err != nil {
				if !errors.Is(err, errBadEvent) {
					h.log.Error("projection event not persisted", zap.Int32("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
					return err
				}
				h.log.Warn("projection event skipped", zap.Int32("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
			}
			last = msg
			if b.size >= h.batchSize {
				if err := flush(ctx); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if err := flush(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			return final()
		}
	}
}

func (h *handler) finalFlushTimeout() time.Duration {
	if h.finalWait > 0 {
		return h.finalWait
	}
	return 5 * time.Second
}

type batch struct {
	markers map[int64][]models.ReadMarker
	size    int
}

func newBatch() *batch { return &batch{markers: make(map[int64][]models.ReadMarker)} }

var (
	// errBadEvent 无法解析或未知类型的事件，跳过后照常推进 offset
	errBadEvent    = errors.New("bad projection event")
	errUnknownKind = errors.New("unknown event kind")
)

func (h *handler) route(ctx context.Context, value []byte, b *batch) error {
	var ev models.ProjectionEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return fmt.Errorf("%w: %w", errBadEvent, err)
	}
	switch ev.Kind {
	case models.EventReadMarker:
		if ev.Marker != nil {
			b.markers[ev.OwnerID] = append(b.markers[ev.OwnerID], *ev.Marker)
			b.size++
		}
	case models.EventMessageMerged:
		if ev.Message != nil && h.archive != nil {
			return h.archive.Append(ctx, ev.OwnerID, *ev.Message)
		}
	case models.EventRoomsChanged:
	default:
		return fmt.Errorf("%w: %w: %q", errBadEvent, errUnknownKind, ev.Kind)
	}
	return nil
}

// flush 写入成功的 owner 从批次中移除，失败的保留并返回错误
func (h *handler) flush(ctx context.Context, b *batch) error {
	if b.size == 0 || h.markers == nil {
		b.markers = make(map[int64][]models.ReadMarker)
		b.size = 0
		return nil
	}
	var errs []error
	for owner, ms := range b.markers {
		if err := h.markers.ApplyMarkersInChunks(ctx, owner, ms, 200, 4, 2); err != nil {
			h.log.Error("read markers not persisted", zap.Int64("owner", owner), zap.Int("count", len(ms)), zap.Error(err))
			errs = append(errs, fmt.Errorf("owner %d: %w", owner, err))
			continue
		}
		delete(b.markers, owner)
		b.size -= len(ms)
	}
	return errors.Join(errs...)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg := config.Load()
	log, err := observ.NewLogger(cfg.LogEnv, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	brokers := cfg.KafkaBrokerList()
	if len(brokers) == 0 {
		return errors.New("IMSYNC_KAFKA_BROKERS is not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := &handler{batchSize: 500, flushWait: 500 * time.Millisecond, log: log}
	if cfg.MySQLDSN != "" {
		db, err := sqlstore.Open(ctx, cfg.MySQLDSN)
		if err != nil {
			return fmt.Errorf("mysql: %w", err)
		}
		defer db.Close()
		rs := store.NewReceiptStore(db)
		if err := rs.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("mysql schema: %w", err)
		}
		h.markers = rs
	}
	if cfg.MongoURI != "" {
		mdb, err := mongostore.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return fmt.Errorf("mongo: %w", err)
		}
		defer mongostore.Disconnect(context.Background(), mdb)
		arch := store.NewMessageArchive(mdb)
		if err := arch.EnsureIndexes(ctx); err != nil {
			log.Warn("mongo index creation failed", zap.Error(err))
		}
		h.archive = arch
	}

	scfg := sarama.NewConfig()
	scfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	client, err := sarama.NewConsumerGroup(brokers, cfg.KafkaGroupID, scfg)
	if err != nil {
		return err
	}
	defer client.Close()

	go func() {
		for {
			if err := client.Consume(ctx, []string{cfg.KafkaProjectionTopic}, h); err != nil {
				log.Error("consume error", zap.Error(err))
			}
			// 写入失败后重新加入消费组前稍作等待
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}()
	log.Info("projection consumer started", zap.Strings("brokers", brokers), zap.String("topic", cfg.KafkaProjectionTopic))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	return nil
}
