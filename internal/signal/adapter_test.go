package signal

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/ringcall/internal/bus/memory"
)

func TestAdapterFiltersSelfAndStampsSender(t *testing.T) {
	bus := memory.New()
	defer bus.Close()

	alice := NewAdapter(bus, "a1")
	bob := NewAdapter(bus, "b2")
	channel := string(DeriveSessionChannel("a1", "b2"))

	fromAlice := make(chan Message, 4)
	unsubA, err := alice.Subscribe(channel, func(m Message) { fromAlice <- m })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubA()
	fromBob := make(chan Message, 4)
	unsubB, _ := bob.Subscribe(channel, func(m Message) { fromBob <- m })
	defer unsubB()

	msg := Message{Kind: KindHangup, Session: DeriveSessionChannel("a1", "b2"), Attempt: "att"}
	if err := alice.Publish(context.Background(), channel, msg); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case m := <-fromBob:
		if m.From != "a1" || m.Kind != KindHangup {
			t.Fatalf("unexpected message %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("bob did not receive hangup")
	}
	select {
	case m := <-fromAlice:
		t.Fatalf("alice received her own message %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAdapterDropsForeignSession(t *testing.T) {
	bus := memory.New()
	defer bus.Close()

	bob := NewAdapter(bus, "b2")
	mallory := NewAdapter(bus, "m9")
	addr := DeriveUserSignalAddress("b2")

	got := make(chan Message, 1)
	unsub, _ := bob.Subscribe(addr, func(m Message) { got <- m })
	defer unsub()

	// Session key of a different pair than sender+receiver.
	bad := Message{Kind: KindHangup, Session: DeriveSessionChannel("a1", "b2"), Attempt: "att"}
	if err := mallory.Publish(context.Background(), addr, bad); err != nil {
		t.Fatalf("publish: %v", err)
	}
	good := Message{Kind: KindHangup, Session: DeriveSessionChannel("m9", "b2"), Attempt: "att"}
	_ = mallory.Publish(context.Background(), addr, good)

	select {
	case m := <-got:
		if m.Session != good.Session {
			t.Fatalf("delivered foreign session %s", m.Session)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestPublishRejectsInvalid(t *testing.T) {
	bus := memory.New()
	defer bus.Close()
	a := NewAdapter(bus, "a1")
	err := a.Publish(context.Background(), "x", Message{Kind: KindAnswer, Session: "call:a1:b2", Attempt: "att"})
	if !IsViolation(err) {
		t.Fatalf("expected violation, got %v", err)
	}
}
