package client

import (
	"context"
	"strings"
	"time"

	"go-imsync/internal/models"
	"go-imsync/internal/pagination"

	"go.uber.org/zap"
)

type FeedView struct {
	Items     []models.Post `json:"items"`
	Exhausted bool          `json:"exhausted"`
	Loading   bool          `json:"loading"`
}

type CommentsView struct {
	PostID    int64            `json:"postId"`
	Items     []models.Comment `json:"items"`
	Exhausted bool             `json:"exhausted"`
	Loading   bool             `json:"loading"`
}

// OpenFeed 以新代际打开 feed 并加载第一页；已打开则整体重置
func (c *Client) OpenFeed(ctx context.Context) (pagination.Result, error) {
	var ch <-chan pagination.Result
	if err := c.call(ctx, func() {
		c.posts.Registry().Open(feedListID, &pagination.FeedStrategy{API: c.backend})
		ch = c.posts.LoadMore(feedListID)
	}); err != nil {
		return pagination.Result{}, err
	}
	return await(ctx, ch)
}

func (c *Client) LoadMoreFeed(ctx context.Context) (pagination.Result, error) {
	return c.loadMore(ctx, func() (<-chan pagination.Result, bool) {
		if _, ok := c.posts.Registry().Get(feedListID); !ok {
			return nil, false
		}
		return c.posts.LoadMore(feedListID), true
	})
}

// loadMore fn 在循环内执行，返回 false 表示列表未打开
func (c *Client) loadMore(ctx context.Context, fn func() (<-chan pagination.Result, bool)) (pagination.Result, error) {
	var ch <-chan pagination.Result
	var ok bool
	if err := c.call(ctx, func() { ch, ok = fn() }); err != nil {
		return pagination.Result{}, err
	}
	if !ok {
		return pagination.Result{}, ErrUnknownList
	}
	return await(ctx, ch)
}

// CloseFeed 释放 feed 列表，之后到达的分页响应被丢弃
func (c *Client) CloseFeed(ctx context.Context) error {
	return c.call(ctx, func() {
		c.posts.Registry().Release(feedListID)
	})
}

func (c *Client) Feed(ctx context.Context) (FeedView, error) {
	var v FeedView
	var ok bool
	if err := c.call(ctx, func() {
		l, found := c.posts.Registry().Get(feedListID)
		if !found {
			return
		}
		ok = true
		v = FeedView{Items: l.Items(), Exhausted: l.Exhausted(), Loading: l.InFlight()}
	}); err != nil {
		return FeedView{}, err
	}
	if !ok {
		return FeedView{}, ErrUnknownList
	}
	return v, nil
}

// UpdatePost 本地乐观修改（点赞等），返回帖子是否在 feed 中
func (c *Client) UpdatePost(ctx context.Context, patch models.PostPatch) (bool, error) {
	var updated bool
	err := c.call(ctx, func() {
		if l, ok := c.posts.Registry().Get(feedListID); ok {
			updated = l.Update(patch.ID, patch.Apply)
		}
	})
	return updated, err
}

// RecordView 上报帖子浏览时长；停留不足 ViewMinDuration 时不上报，返回 false
func (c *Client) RecordView(ctx context.Context, postID int64, openedAt time.Time) (bool, error) {
	now := c.opts.Now()
	spent := now.Sub(openedAt)
	if spent < c.opts.ViewMinDuration {
		return false, nil
	}
	rec := models.ViewRecord{PostID: postID, ViewedAt: now, TimeSpentSeconds: int(spent.Seconds())}
	if err := c.backend.ViewHistory(ctx, rec); err != nil {
		c.log.Warn("view history not recorded", zap.Int64("post", postID), zap.Error(err))
		return false, err
	}
	return true, nil
}

// OpenComments 打开帖子评论：置顶段只加载一次，分页段加载第一页
func (c *Client) OpenComments(ctx context.Context, postID int64) (pagination.Result, error) {
	id := commentsListID(postID)
	var paged, pinned <-chan pagination.Result
	if err := c.call(ctx, func() {
		c.comments.Registry().Open(id, &pagination.CommentStrategy{PostID: postID, API: c.backend})
		pinned = c.comments.LoadPinned(id, func(ctx context.Context) ([]models.Comment, error) {
			return c.backend.TopComments(ctx, postID)
		})
		paged = c.comments.LoadMore(id)
	}); err != nil {
		return pagination.Result{}, err
	}
	if r, err := await(ctx, pinned); err != nil && ctx.Err() == nil {
		c.log.Warn("top comments unavailable", zap.Int64("post", postID), zap.Stringer("outcome", r.Outcome), zap.Error(err))
	}
	return await(ctx, paged)
}

func (c *Client) LoadMoreComments(ctx context.Context, postID int64) (pagination.Result, error) {
	id := commentsListID(postID)
	return c.loadMore(ctx, func() (<-chan pagination.Result, bool) {
		if _, ok := c.comments.Registry().Get(id); !ok {
			return nil, false
		}
		return c.comments.LoadMore(id), true
	})
}

func (c *Client) CloseComments(ctx context.Context, postID int64) error {
	return c.call(ctx, func() { c.comments.Registry().Release(commentsListID(postID)) })
}

func (c *Client) Comments(ctx context.Context, postID int64) (CommentsView, error) {
	v := CommentsView{PostID: postID}
	var ok bool
	if err := c.call(ctx, func() {
		l, found := c.comments.Registry().Get(commentsListID(postID))
		if !found {
			return
		}
		ok = true
		v.Items, v.Exhausted, v.Loading = l.Items(), l.Exhausted(), l.InFlight()
	}); err != nil {
		return CommentsView{}, err
	}
	if !ok {
		return CommentsView{}, ErrUnknownList
	}
	return v, nil
}

// AddComment 发表评论：成功后放到置顶段最前，并把 feed 中该帖评论数加一
func (c *Client) AddComment(ctx context.Context, postID int64, text string) (models.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Comment{}, ErrEmptyMessage
	}
	cm, err := c.backend.AddComment(ctx, postID, text)
	if err != nil {
		return models.Comment{}, err
	}
	err = c.call(ctx, func() {
		if l, ok := c.comments.Registry().Get(commentsListID(postID)); ok {
			l.PrependTop(cm)
		}
		if l, ok := c.posts.Registry().Get(feedListID); ok {
			l.Update(postID, func(p models.Post) models.Post {
				p.CommentCount++
				return p
			})
		}
	})
	return cm, err
}
