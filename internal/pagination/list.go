// Package pagination 实现按列表 ID 管理的向后分页：游标、终止标记、在途保护与代际令牌。
// List 与 Registry 只允许在事件循环 goroutine 中访问。
package pagination

// Item 列表元素，以 ID 去重
type Item interface {
	ItemID() int64
}

// List 单个列表的规范状态。展示顺序为 top ++ items，两段之间不存在重复 ID。
type List[T Item] struct {
	id       string
	strategy Strategy[T]
	gen      uint64

	top   []T
	items []T
	ids   map[int64]struct{}

	cursor      Cursor
	exhausted   bool
	inFlight    bool
	needsResync bool
}

func newList[T Item](id string, s Strategy[T], gen uint64) *List[T] {
	return &List[T]{id: id, strategy: s, gen: gen, ids: make(map[int64]struct{})}
}

func (l *List[T]) ID() string            { return l.id }
func (l *List[T]) Generation() uint64    { return l.gen }
func (l *List[T]) Strategy() Strategy[T] { return l.strategy }
func (l *List[T]) Cursor() Cursor        { return l.cursor }
func (l *List[T]) Exhausted() bool       { return l.exhausted }
func (l *List[T]) InFlight() bool        { return l.inFlight }
func (l *List[T]) NeedsResync() bool     { return l.needsResync }
func (l *List[T]) Len() int              { return len(l.top) + len(l.items) }

func (l *List[T]) Contains(id int64) bool {
	_, ok := l.ids[id]
	return ok
}

// FlagResync 标记检测到缺口，需要整体重载
func (l *List[T]) FlagResync() { l.needsResync = true }

// Items 返回展示顺序的副本
func (l *List[T]) Items() []T {
	out := make([]T, 0, l.Len())
	out = append(out, l.top...)
	return append(out, l.items...)
}

// Top 置顶段副本
func (l *List[T]) Top() []T { return append([]T(nil), l.top...) }

// Tail 分页段最后一个元素（最新）
func (l *List[T]) Tail() (T, bool) {
	var zero T
	if len(l.items) == 0 {
		return zero, false
	}
	return l.items[len(l.items)-1], true
}

// Head 分页段第一个元素
func (l *List[T]) Head() (T, bool) {
	var zero T
	if len(l.items) == 0 {
		return zero, false
	}
	return l.items[0], true
}

// AppendTail 把一条实时推送追加到末尾；已存在返回 false
func (l *List[T]) AppendTail(it T) bool {
	if l.Contains(it.ItemID()) {
		return false
	}
	l.ids[it.ItemID()] = struct{}{}
	l.items = append(l.items, it)
	return true
}

// SetTop 替换置顶段；分页段中已有的同 ID 元素被移除
func (l *List[T]) SetTop(items []T) {
	for _, it := range l.top {
		delete(l.ids, it.ItemID())
	}
	l.top = l.top[:0]
	seen := make(map[int64]struct{}, len(items))
	for _, it := range items {
		id := it.ItemID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if l.Contains(id) {
			l.removeFromItems(id)
		}
		l.ids[id] = struct{}{}
		l.top = append(l.top, it)
	}
}

// PrependTop 本地新建的元素放在置顶段最前
func (l *List[T]) PrependTop(it T) {
	if l.Contains(it.ItemID()) {
		l.removeFromItems(it.ItemID())
		l.removeFromTop(it.ItemID())
	}
	l.ids[it.ItemID()] = struct{}{}
	l.top = append([]T{it}, l.top...)
}

// Update 对指定 ID 的元素做本地乐观修改
func (l *List[T]) Update(id int64, fn func(T) T) bool {
	for i := range l.top {
		if l.top[i].ItemID() == id {
			l.top[i] = fn(l.top[i])
			return true
		}
	}
	for i := range l.items {
		if l.items[i].ItemID() == id {
			l.items[i] = fn(l.items[i])
			return true
		}
	}
	return false
}

// mergePage 按放置方向合并一页，跳过已存在的 ID，返回实际新增的元素
func (l *List[T]) mergePage(page []T, place Placement) []T {
	fresh := make([]T, 0, len(page))
	for _, it := range page {
		if l.Contains(it.ItemID()) {
			continue
		}
		l.ids[it.ItemID()] = struct{}{}
		fresh = append(fresh, it)
	}
	if len(fresh) == 0 {
		return fresh
	}
	if place == PlaceHead {
		merged := make([]T, 0, len(fresh)+len(l.items))
		merged = append(merged, fresh...)
		l.items = append(merged, l.items...)
	} else {
		l.items = append(l.items, fresh...)
	}
	return fresh
}

func (l *List[T]) removeFromItems(id int64) {
	for i := range l.items {
		if l.items[i].ItemID() == id {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return
		}
	}
}

func (l *List[T]) removeFromTop(id int64) {
	for i := range l.top {
		if l.top[i].ItemID() == id {
			l.top = append(l.top[:i], l.top[i+1:]...)
			return
		}
	}
}

// Registry 按列表 ID 持有列表状态；视图失活时 Release 释放内存
type Registry[T Item] struct {
	lists   map[string]*List[T]
	nextGen uint64
}

func NewRegistry[T Item]() *Registry[T] {
	return &Registry[T]{lists: make(map[string]*List[T])}
}

// Open 以新代际创建列表；已存在则整体重置（清空内容、游标与终止标记）
func (r *Registry[T]) Open(id string, s Strategy[T]) *List[T] {
	r.nextGen++
	l := newList(id, s, r.nextGen)
	r.lists[id] = l
	return l
}

// Reset 保留策略，换新代际重置列表
func (r *Registry[T]) Reset(id string) (*List[T], bool) {
	l, ok := r.lists[id]
	if !ok {
		return nil, false
	}
	return r.Open(id, l.strategy), true
}

func (r *Registry[T]) Get(id string) (*List[T], bool) {
	l, ok := r.lists[id]
	return l, ok
}

// Release 释放列表；在途响应会因找不到列表而被丢弃
func (r *Registry[T]) Release(id string) {
	delete(r.lists, id)
}

func (r *Registry[T]) Len() int { return len(r.lists) }

// current 判断 (list, gen) 是否仍是该 ID 的当前代际
func (r *Registry[T]) current(id string, l *List[T], gen uint64) bool {
	cur, ok := r.lists[id]
	return ok && cur == l && cur.gen == gen
}
