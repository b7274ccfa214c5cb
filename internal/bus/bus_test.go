package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindStatusChanged, Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindStatusChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, KindStatusChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Emit(KindPresenceChanged, []string{"u1"})
	b.Emit(KindMessageAppended, nil)

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageAppended {
			t.Errorf("got kind %q, want %s", evt.Kind, KindMessageAppended)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Presence event must not have been delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()
	unsub()

	b.Emit(KindStatusChanged, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("notice.", 1)
	defer unsub()

	b.Emit(KindNoticeSuccess, "one")
	// Dropped: buffer is full.
	b.Emit(KindNoticeError, "two")

	evt := <-ch
	if evt.Payload != "one" {
		t.Errorf("got %v, want one", evt.Payload)
	}
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var b *Bus
	b.Emit(KindStatusChanged, nil)
}

func TestNamespaceOf(t *testing.T) {
	tests := map[string]string{
		"message.appended": "message",
		"presence.changed": "presence",
		"bare":             "bare",
	}
	for in, want := range tests {
		if got := namespaceOf(in); got != want {
			t.Errorf("namespaceOf(%q) = %q, want %q", in, got, want)
		}
	}
}
