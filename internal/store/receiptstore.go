package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"go-imsync/internal/models"
)

// ReceiptStore 已读水位落库（MySQL）。写入单调：只在新值更大时覆盖。
type ReceiptStore struct{ DB *sql.DB }

func NewReceiptStore(db *sql.DB) *ReceiptStore { return &ReceiptStore{DB: db} }

const schemaReadMarkers = `CREATE TABLE IF NOT EXISTS read_markers (
	owner_id BIGINT NOT NULL,
	room_id BIGINT NOT NULL,
	member_id BIGINT NOT NULL,
	last_read_message_id BIGINT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
	PRIMARY KEY (owner_id, room_id, member_id)
)`

const upsertReadMarker = `INSERT INTO read_markers(owner_id, room_id, member_id, last_read_message_id) VALUES(?,?,?,?) ` +
	`ON DUPLICATE KEY UPDATE last_read_message_id=IF(VALUES(last_read_message_id) > last_read_message_id, VALUES(last_read_message_id), last_read_message_id)`

func (s *ReceiptStore) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, schemaReadMarkers)
	return err
}

func (s *ReceiptStore) UpsertReadSeq(ctx context.Context, ownerID int64, m models.ReadMarker) error {
	_, err := s.DB.ExecContext(ctx, upsertReadMarker, ownerID, m.RoomID, m.MemberID, m.LastReadMessageID)
	return err
}

// ReadSeq 持久化的已读水位，不存在返回 0
func (s *ReceiptStore) ReadSeq(ctx context.Context, ownerID, roomID, memberID int64) (int64, error) {
	var seq sql.NullInt64
	err := s.DB.QueryRowContext(ctx,
		`SELECT last_read_message_id FROM read_markers WHERE owner_id=? AND room_id=? AND member_id=?`,
		ownerID, roomID, memberID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

// ApplyMarkersTx 在一个事务内批量写入水位
func (s *ReceiptStore) ApplyMarkersTx(ctx context.Context, ownerID int64, markers []models.ReadMarker) (err error) {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	stmt, err := tx.PrepareContext(ctx, upsertReadMarker)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, m := range markers {
		if m.LastReadMessageID <= 0 {
			continue
		}
		if _, err = stmt.ExecContext(ctx, ownerID, m.RoomID, m.MemberID, m.LastReadMessageID); err != nil {
			return err
		}
	}
	return nil
}

// ApplyMarkersInChunks 分段并发执行 ApplyMarkersTx，失败按段重试，返回第一个错误
func (s *ReceiptStore) ApplyMarkersInChunks(ctx context.Context, ownerID int64, markers []models.ReadMarker, chunkSize, concurrency, retry int) error {
	if chunkSize <= 0 {
		chunkSize = 200
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	if retry < 0 {
		retry = 0
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var firstErr error
	var mu sync.Mutex
	for _, chunk := range chunkMarkers(markers, chunkSize) {
		chunk := chunk
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			var err error
			for attempt := 0; attempt <= retry; attempt++ {
				if err = s.ApplyMarkersTx(ctx, ownerID, chunk); err == nil {
					break
				}
				time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
			}
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return firstErr
}

func chunkMarkers(markers []models.ReadMarker, size int) [][]models.ReadMarker {
	var chunks [][]models.ReadMarker
	for i := 0; i < len(markers); i += size {
		end := i + size
		if end > len(markers) {
			end = len(markers)
		}
		chunks = append(chunks, markers[i:end])
	}
	return chunks
}

func (s *ReceiptStore) Name() string { return "mysql" }

// Handle 作为投影输出：只关心已读水位事件
func (s *ReceiptStore) Handle(ctx context.Context, ev models.ProjectionEvent) error {
	if ev.Kind != models.EventReadMarker || ev.Marker == nil {
		return nil
	}
	return s.UpsertReadSeq(ctx, ev.OwnerID, *ev.Marker)
}
