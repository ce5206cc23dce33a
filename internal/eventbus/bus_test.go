package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()

	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Kind: PreSleep})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Kind != PreSleep {
				t.Fatalf("subscriber %d: Kind = %v, want %v", i, ev.Kind, PreSleep)
			}
			if ev.Time.IsZero() {
				t.Fatalf("subscriber %d: Time not stamped", i)
			}
		default:
			t.Fatalf("subscriber %d: no event delivered", i)
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Kind: PreSleep})
	b.Publish(Event{Kind: PostSleep}) // buffer full; must not block

	ev := <-ch
	if ev.Kind != PreSleep {
		t.Fatalf("Kind = %v, want the first event", ev.Kind)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event: %v", ev.Kind)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)

	unsub()
	unsub() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Kind: PreShutdown, Time: time.Now()})
}

func TestKindString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		k    Kind
		want string
	}{
		{PreSleep, "pre-sleep"},
		{PostSleep, "post-sleep"},
		{PreShutdown, "pre-shutdown"},
		{Kind(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.k.String(); got != tt.want {
			t.Fatalf("Kind(%d).String() = %q, want %q", int(tt.k), got, tt.want)
		}
	}
}
