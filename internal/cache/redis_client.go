package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go-imsync/internal/models"

	"github.com/redis/go-redis/v9"
)

// 本包把同步核心的投影写入 Redis，供同机其他进程读取：
// - 已读水位：im:readseq:<owner>:<room>:<member>（只增不减，Lua 原子比较）
// - 房间列表快照：im:rooms:<owner>
// - 事件通道：im:events:<owner>（PUBLISH 原始投影事件）
var (
	redisClient *redis.Client
)

func InitRedis(addr, pass string, db int) {
	redisClient = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: pass,
		DB:       db,
	})
}

func Client() *redis.Client { return redisClient }

func ReadSeqKey(owner, roomID, memberID int64) string {
	return fmt.Sprintf("im:readseq:%d:%d:%d", owner, roomID, memberID)
}
func RoomsKey(owner int64) string      { return fmt.Sprintf("im:rooms:%d", owner) }
func EventsChannel(owner int64) string { return fmt.Sprintf("im:events:%d", owner) }

const snapshotTTL = 24 * time.Hour

// 只在新值更大时写入
var maxScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]))
local v = tonumber(ARGV[1])
if cur == nil or v > cur then
  redis.call('SET', KEYS[1], v, 'PX', ARGV[2])
  return v
end
return cur
`)

type Projection struct {
	rdb *redis.Client
}

func NewProjection(rdb *redis.Client) *Projection { return &Projection{rdb: rdb} }

func (p *Projection) Name() string { return "redis" }

func (p *Projection) Handle(ctx context.Context, ev models.ProjectionEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	switch ev.Kind {
	case models.EventReadMarker:
		if ev.Marker != nil {
			key := ReadSeqKey(ev.OwnerID, ev.Marker.RoomID, ev.Marker.MemberID)
			if err := maxScript.Run(ctx, p.rdb, []string{key}, ev.Marker.LastReadMessageID, snapshotTTL.Milliseconds()).Err(); err != nil {
				return err
			}
		}
	case models.EventRoomsChanged:
		rooms, err := json.Marshal(ev.Rooms)
		if err != nil {
			return err
		}
		if err := p.rdb.Set(ctx, RoomsKey(ev.OwnerID), rooms, snapshotTTL).Err(); err != nil {
			return err
		}
	}
	return p.rdb.Publish(ctx, EventsChannel(ev.OwnerID), body).Err()
}

// ReadSeq 读取投影中的已读水位，不存在返回 0
func (p *Projection) ReadSeq(ctx context.Context, owner, roomID, memberID int64) (int64, error) {
	v, err := p.rdb.Get(ctx, ReadSeqKey(owner, roomID, memberID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// Rooms 读取房间列表快照
func (p *Projection) Rooms(ctx context.Context, owner int64) ([]models.Room, error) {
	b, err := p.rdb.Get(ctx, RoomsKey(owner)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rooms []models.Room
	return rooms, json.Unmarshal(b, &rooms)
}
