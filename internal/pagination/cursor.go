package pagination

import "fmt"

// CursorKind 游标种类。组合游标一旦出现，同一列表不会再回到 pointer。
type CursorKind int

const (
	CursorStart     CursorKind = iota // 第一页，不带游标
	CursorID                          // 消息 ID / 评论 ID
	CursorPointer                     // feed 缓存层序号
	CursorComposite                   // feed 持久层 (lastId, lastRank)
)

type Cursor struct {
	Kind     CursorKind
	ID       int64
	Pointer  int
	LastID   int64
	LastRank int64
	HasRank  bool
}

func (c Cursor) String() string {
	switch c.Kind {
	case CursorStart:
		return "start"
	case CursorID:
		return fmt.Sprintf("id:%d", c.ID)
	case CursorPointer:
		return fmt.Sprintf("pointer:%d", c.Pointer)
	case CursorComposite:
		if c.HasRank {
			return fmt.Sprintf("composite:%d/%d", c.LastID, c.LastRank)
		}
		return fmt.Sprintf("composite:%d", c.LastID)
	}
	return "unknown"
}
