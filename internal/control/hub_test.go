package control

import (
	"testing"
	"time"
)

func TestHubPublishReachesSubscriber(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Close()

	sub := h.Subscribe("test")
	h.Publish(Event{Kind: EventTrackEnded, Data: 1})

	select {
	case ev := <-sub.Events:
		if ev.Kind != EventTrackEnded {
			t.Fatalf("got kind %v, want %v", ev.Kind, EventTrackEnded)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for published event")
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Close()

	sub := h.Subscribe("test")
	h.Unsubscribe(sub)

	select {
	case _, ok := <-sub.Events:
		if ok {
			t.Fatalf("expected the channel to be closed after Unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for channel close")
	}
}

func TestHubDoesNotFanOutToUnsubscribedSubscriber(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Close()

	sub1 := h.Subscribe("one")
	sub2 := h.Subscribe("two")
	h.Unsubscribe(sub1)

	h.Publish(Event{Kind: EventTrackEnded})

	select {
	case _, ok := <-sub2.Events:
		if !ok {
			t.Fatalf("expected sub2 to still receive events")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for sub2's event")
	}

	select {
	case ev, ok := <-sub1.Events:
		if ok {
			t.Fatalf("unsubscribed sub1 received %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for sub1's channel to close")
	}
}

func TestHubCloseUnblocksAllSubscribers(t *testing.T) {
	h := NewHub()
	go h.Run()

	sub := h.Subscribe("test")
	h.Close()

	select {
	case _, ok := <-sub.Events:
		if ok {
			t.Fatalf("expected the channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for close to propagate")
	}
}
