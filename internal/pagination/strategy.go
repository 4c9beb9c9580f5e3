package pagination

import (
	"context"

	"go-imsync/internal/api"
	"go-imsync/internal/models"
)

type Kind string

const (
	KindHistory  Kind = "history"
	KindFeed     Kind = "feed"
	KindComments Kind = "comments"
)

// Placement 新页放在已有内容之前（历史消息）还是之后（feed、评论）
type Placement int

const (
	PlaceTail Placement = iota
	PlaceHead
)

// Page 一次拉取的结果，Items 已是展示顺序。HasNext=false 表示没有可用游标。
type Page[T Item] struct {
	Items   []T
	Next    Cursor
	HasNext bool
}

// Strategy 每种列表的拉取方式，按列表选择
type Strategy[T Item] interface {
	Kind() Kind
	Placement() Placement
	Fetch(ctx context.Context, cur Cursor) (Page[T], error)
}

type HistoryFetcher interface {
	History(ctx context.Context, roomID, before int64) ([]models.Message, error)
}

// HistoryStrategy 房间历史：服务端新在前，翻转后放到列表头部，游标为最老一条的 ID
type HistoryStrategy struct {
	RoomID int64
	API    HistoryFetcher
}

func (s *HistoryStrategy) Kind() Kind           { return KindHistory }
func (s *HistoryStrategy) Placement() Placement { return PlaceHead }

func (s *HistoryStrategy) Fetch(ctx context.Context, cur Cursor) (Page[models.Message], error) {
	var before int64
	if cur.Kind == CursorID {
		before = cur.ID
	}
	msgs, err := s.API.History(ctx, s.RoomID, before)
	if err != nil {
		return Page[models.Message]{}, err
	}
	items := make([]models.Message, len(msgs))
	for i, m := range msgs {
		items[len(msgs)-1-i] = m
	}
	if len(items) == 0 {
		return Page[models.Message]{}, nil
	}
	return Page[models.Message]{
		Items:   items,
		Next:    Cursor{Kind: CursorID, ID: items[0].ID},
		HasNext: true,
	}, nil
}

type FeedFetcher interface {
	Feed(ctx context.Context, q api.FeedQuery) (api.FeedPage, error)
}

// FeedStrategy 双层 feed：响应带 pointer 则下一次用 pointer+1，
// 否则转入 (lastPostId, lastFavoriteCount) 组合游标且不再回头
type FeedStrategy struct {
	API FeedFetcher
}

func (s *FeedStrategy) Kind() Kind           { return KindFeed }
func (s *FeedStrategy) Placement() Placement { return PlaceTail }

func (s *FeedStrategy) Fetch(ctx context.Context, cur Cursor) (Page[models.Post], error) {
	page, err := s.API.Feed(ctx, feedQuery(cur))
	if err != nil {
		return Page[models.Post]{}, err
	}
	next, ok := nextFeedCursor(cur, page)
	return Page[models.Post]{Items: page.Feed, Next: next, HasNext: ok}, nil
}

func feedQuery(cur Cursor) api.FeedQuery {
	var q api.FeedQuery
	switch cur.Kind {
	case CursorPointer:
		p := cur.Pointer
		q.Pointer = &p
	case CursorComposite:
		id := cur.LastID
		q.PostID = &id
		if cur.HasRank {
			rank := cur.LastRank
			q.FavoriteCount = &rank
		}
	}
	return q
}

func nextFeedCursor(cur Cursor, page api.FeedPage) (Cursor, bool) {
	if len(page.Feed) == 0 {
		return Cursor{}, false
	}
	if page.Pointer != nil && cur.Kind != CursorComposite {
		return Cursor{Kind: CursorPointer, Pointer: *page.Pointer + 1}, true
	}
	if page.LastPostID != nil && *page.LastPostID > 0 {
		next := Cursor{Kind: CursorComposite, LastID: *page.LastPostID}
		if page.LastFavoriteCount != nil {
			next.LastRank = *page.LastFavoriteCount
			next.HasRank = true
		}
		return next, true
	}
	return Cursor{}, false
}

type CommentFetcher interface {
	Comments(ctx context.Context, postID, after int64) ([]models.Comment, error)
}

// CommentStrategy 评论分页段：游标为上一页最后一条评论 ID，置顶段另行加载
type CommentStrategy struct {
	PostID int64
	API    CommentFetcher
}

func (s *CommentStrategy) Kind() Kind           { return KindComments }
func (s *CommentStrategy) Placement() Placement { return PlaceTail }

func (s *CommentStrategy) Fetch(ctx context.Context, cur Cursor) (Page[models.Comment], error) {
	var after int64
	if cur.Kind == CursorID {
		after = cur.ID
	}
	list, err := s.API.Comments(ctx, s.PostID, after)
	if err != nil {
		return Page[models.Comment]{}, err
	}
	if len(list) == 0 {
		return Page[models.Comment]{}, nil
	}
	return Page[models.Comment]{
		Items:   list,
		Next:    Cursor{Kind: CursorID, ID: list[len(list)-1].ID},
		HasNext: true,
	}, nil
}
