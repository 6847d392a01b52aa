package stream

import (
	"testing"
)

func TestNewBroadcaster(t *testing.T) {
	b := NewBroadcaster[[]int16](MonitorBuffer)
	if b.ListenerCount() != 0 {
		t.Errorf("Initial ListenerCount = %d, want 0", b.ListenerCount())
	}
	if b.buffer != MonitorBuffer {
		t.Errorf("buffer = %d, want %d", b.buffer, MonitorBuffer)
	}
	if got := NewBroadcaster[int](0).buffer; got != 1 {
		t.Errorf("zero buffer clamped to %d, want 1", got)
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster[[]int16](4)

	l1 := b.Subscribe()
	l2 := b.Subscribe()
	if b.ListenerCount() != 2 {
		t.Errorf("After 2 subscribes: ListenerCount = %d, want 2", b.ListenerCount())
	}

	b.Unsubscribe(l1)
	if b.ListenerCount() != 1 {
		t.Errorf("After 1 unsubscribe: ListenerCount = %d, want 1", b.ListenerCount())
	}
	select {
	case <-l1.Done():
	default:
		t.Error("Done not closed after Unsubscribe")
	}

	b.Unsubscribe(l2)
	b.Unsubscribe(l2)
	if b.ListenerCount() != 0 {
		t.Errorf("After all unsubscribed: ListenerCount = %d, want 0", b.ListenerCount())
	}
}

func TestPublishDelivers(t *testing.T) {
	b := NewBroadcaster[[]int16](4)
	listeners := []*Listener[[]int16]{b.Subscribe(), b.Subscribe(), b.Subscribe()}

	b.Publish([]int16{42, -42})

	for i, l := range listeners {
		select {
		case got := <-l.C:
			if len(got) != 2 || got[0] != 42 || got[1] != -42 {
				t.Errorf("Listener %d got %v, want [42 -42]", i, got)
			}
		default:
			t.Errorf("Listener %d got nothing", i)
		}
	}
}

func TestPublishDropsForFullListener(t *testing.T) {
	b := NewBroadcaster[int](3)
	slow := b.Subscribe()
	fast := b.Subscribe()

	fastCount := 0
	for i := 0; i < 10; i++ {
		b.Publish(i)
		select {
		case <-fast.C:
			fastCount++
		default:
		}
	}

	if fastCount != 10 {
		t.Errorf("fast listener got %d values, want 10", fastCount)
	}
	if len(slow.C) != 3 {
		t.Errorf("slow listener queued %d, want 3", len(slow.C))
	}
	if got := <-slow.C; got != 0 {
		t.Errorf("slow listener first value = %d, want 0 (oldest kept)", got)
	}
	if b.Dropped() != 7 {
		t.Errorf("Dropped = %d, want 7", b.Dropped())
	}
}
