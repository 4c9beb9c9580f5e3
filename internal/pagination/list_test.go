package pagination

import (
	"context"
	"testing"
)

type item struct {
	id   int64
	text string
}

func (i item) ItemID() int64 { return i.id }

type nopStrategy struct{ place Placement }

func (nopStrategy) Kind() Kind             { return "test" }
func (s nopStrategy) Placement() Placement { return s.place }
func (nopStrategy) Fetch(context.Context, Cursor) (Page[item], error) {
	return Page[item]{}, nil
}

func ids(items []item) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMergePagePlacement(t *testing.T) {
	l := newList[item]("x", nopStrategy{}, 1)
	l.mergePage([]item{{id: 5}, {id: 6}}, PlaceHead)
	l.mergePage([]item{{id: 3}, {id: 4}, {id: 5}}, PlaceHead)
	if got := ids(l.Items()); !equalIDs(got, []int64{3, 4, 5, 6}) {
		t.Fatalf("head merge = %v", got)
	}

	t2 := newList[item]("y", nopStrategy{}, 1)
	t2.mergePage([]item{{id: 1}, {id: 2}}, PlaceTail)
	added := t2.mergePage([]item{{id: 2}, {id: 3}}, PlaceTail)
	if len(added) != 1 || added[0].id != 3 {
		t.Fatalf("added = %v", added)
	}
	if got := ids(t2.Items()); !equalIDs(got, []int64{1, 2, 3}) {
		t.Fatalf("tail merge = %v", got)
	}
}

func TestAppendTailDedup(t *testing.T) {
	l := newList[item]("x", nopStrategy{}, 1)
	if !l.AppendTail(item{id: 1}) || l.AppendTail(item{id: 1}) {
		t.Fatal("duplicate push was appended")
	}
	if tail, _ := l.Tail(); tail.id != 1 {
		t.Fatalf("tail = %v", tail)
	}
}

func TestTopAndPagedAreDisjoint(t *testing.T) {
	l := newList[item]("c", nopStrategy{}, 1)
	l.mergePage([]item{{id: 10}, {id: 11}, {id: 12}}, PlaceTail)
	l.SetTop([]item{{id: 11}, {id: 20}, {id: 20}})

	if got := ids(l.Items()); !equalIDs(got, []int64{11, 20, 10, 12}) {
		t.Fatalf("items = %v", got)
	}
	// 后续分页中再次出现的置顶 ID 被跳过
	l.mergePage([]item{{id: 20}, {id: 13}}, PlaceTail)
	if got := ids(l.Items()); !equalIDs(got, []int64{11, 20, 10, 12, 13}) {
		t.Fatalf("items after page = %v", got)
	}

	l.PrependTop(item{id: 12})
	if got := ids(l.Items()); !equalIDs(got, []int64{12, 11, 20, 10, 13}) {
		t.Fatalf("items after prepend = %v", got)
	}
	if l.Len() != 5 {
		t.Fatalf("Len = %d", l.Len())
	}
}

func TestUpdate(t *testing.T) {
	l := newList[item]("p", nopStrategy{}, 1)
	l.mergePage([]item{{id: 1, text: "a"}}, PlaceTail)
	ok := l.Update(1, func(it item) item { it.text = "b"; return it })
	if !ok || l.Items()[0].text != "b" {
		t.Fatalf("Update = %v, %v", ok, l.Items())
	}
	if l.Update(9, func(it item) item { return it }) {
		t.Fatal("Update of missing id reported true")
	}
}

func TestRegistryGenerations(t *testing.T) {
	r := NewRegistry[item]()
	a := r.Open("room:1", nopStrategy{})
	b := r.Open("room:2", nopStrategy{})
	if a.Generation() == b.Generation() {
		t.Fatal("generations must be unique across lists")
	}
	a.exhausted = true
	a2, ok := r.Reset("room:1")
	if !ok || a2.Exhausted() || a2.Generation() <= b.Generation() {
		t.Fatalf("reset list = %+v", a2)
	}
	if r.current("room:1", a, a.Generation()) {
		t.Fatal("old list still current after reset")
	}
	r.Release("room:2")
	if _, ok := r.Get("room:2"); ok || r.Len() != 1 {
		t.Fatal("released list still registered")
	}
	if r.current("room:2", b, b.Generation()) {
		t.Fatal("released list still current")
	}
}
