package server

import (
	"errors"
	"testing"
	"time"

	"github.com/tile-hub/tile-hub/internal/tile"
)

func dispatcherTestID() tile.ID {
	return tile.ID{Zoom: 5, X: 10, Y: 11, Provider: "tile.example.com"}
}

func TestDispatcherDeliversToSingleWaiter(t *testing.T) {
	d := NewDispatcher()
	id := dispatcherTestID()

	outcomes, leave := d.Await(id)
	d.HandleTile(tile.Result{ID: id, Data: []byte("png"), Source: tile.SourceNetwork})

	select {
	case out := <-outcomes:
		if out.Err != nil {
			t.Fatalf("unexpected error: %v", out.Err)
		}
		if string(out.Result.Data) != "png" {
			t.Fatalf("unexpected data: %q", out.Result.Data)
		}
	case <-time.After(time.Second):
		t.Fatalf("等待者未收到投递")
	}

	if leave() {
		t.Fatalf("投递后 leave 不应再报告 last，避免误发取消")
	}
}

func TestDispatcherFansOutToAllWaiters(t *testing.T) {
	d := NewDispatcher()
	id := dispatcherTestID()

	first, _ := d.Await(id)
	second, _ := d.Await(id)
	third, _ := d.Await(id)

	if got := d.waiting(id); got != 3 {
		t.Fatalf("expected 3 waiters, got %d", got)
	}

	d.HandleTile(tile.Result{ID: id, Data: []byte("x"), Source: tile.SourceCache})

	for i, ch := range []<-chan Outcome{first, second, third} {
		select {
		case out := <-ch:
			if out.Result.Source != tile.SourceCache {
				t.Fatalf("waiter %d: unexpected source %v", i, out.Result.Source)
			}
		case <-time.After(time.Second):
			t.Fatalf("waiter %d 未收到投递", i)
		}
	}

	if got := d.waiting(id); got != 0 {
		t.Fatalf("投递后等待者应清空, got %d", got)
	}
}

func TestDispatcherFansOutErrors(t *testing.T) {
	d := NewDispatcher()
	id := dispatcherTestID()
	fetchErr := errors.New("upstream down")

	first, _ := d.Await(id)
	second, _ := d.Await(id)

	d.HandleError(id, fetchErr)

	for _, ch := range []<-chan Outcome{first, second} {
		select {
		case out := <-ch:
			if !errors.Is(out.Err, fetchErr) {
				t.Fatalf("expected fetch error, got %v", out.Err)
			}
		case <-time.After(time.Second):
			t.Fatalf("等待者未收到错误")
		}
	}
}

func TestDispatcherLeaveReportsLastWaiter(t *testing.T) {
	d := NewDispatcher()
	id := dispatcherTestID()

	_, leaveFirst := d.Await(id)
	_, leaveSecond := d.Await(id)

	if leaveFirst() {
		t.Fatalf("还有其他等待者时不应报告 last")
	}
	if !leaveSecond() {
		t.Fatalf("最后一个等待者离开时应报告 last")
	}
	if leaveSecond() {
		t.Fatalf("leave 必须幂等")
	}
	if got := d.waiting(id); got != 0 {
		t.Fatalf("全部离开后应清空, got %d", got)
	}
}

func TestDispatcherKeysAreIndependent(t *testing.T) {
	d := NewDispatcher()
	a := dispatcherTestID()
	b := a
	b.X++

	chA, _ := d.Await(a)
	chB, _ := d.Await(b)

	d.HandleTile(tile.Result{ID: a, Data: []byte("a"), Source: tile.SourceNetwork})

	select {
	case <-chA:
	case <-time.After(time.Second):
		t.Fatalf("a 的等待者未收到投递")
	}

	select {
	case <-chB:
		t.Fatalf("b 的等待者不应收到 a 的投递")
	default:
	}

	if got := d.waiting(b); got != 1 {
		t.Fatalf("b 的等待者应仍在登记, got %d", got)
	}
}
