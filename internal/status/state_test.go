package status

import (
	"testing"
	"time"

	"github.com/matheus3301/relay/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		path []State
	}{
		{[]State{Anonymous}},
		{[]State{Authenticating, Authenticated}},
		{[]State{Anonymous, Authenticated}},
		{[]State{Anonymous, Authenticating, Failed, Anonymous}},
		{[]State{Authenticating, Authenticating}},
		{[]State{Authenticating, Anonymous}},
		{[]State{Anonymous, Authenticated, Anonymous}},
		{[]State{Anonymous, Authenticated, Authenticating}},
		{[]State{Anonymous, Authenticated, Authenticated}},
	}
	for _, tt := range tests {
		name := ""
		for _, s := range tt.path {
			name += "->" + string(s)
		}
		t.Run(name, func(t *testing.T) {
			m := NewMachine(nil)
			for _, s := range tt.path {
				if err := m.Transition(s); err != nil {
					t.Fatalf("Transition(%s) error = %v (current %s)", s, err, m.Current())
				}
			}
			if m.Current() != tt.path[len(tt.path)-1] {
				t.Errorf("state = %s, want %s", m.Current(), tt.path[len(tt.path)-1])
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		setup []State
		to    State
	}{
		{nil, Authenticated},
		{nil, Failed},
		{[]State{Anonymous}, Failed},
		{[]State{Anonymous, Authenticated}, Failed},
		{[]State{Authenticating, Failed}, Authenticated},
		{[]State{Authenticating, Failed}, Authenticating},
	}
	for _, tt := range tests {
		m := NewMachine(nil)
		for _, s := range tt.setup {
			if err := m.Transition(s); err != nil {
				t.Fatal(err)
			}
		}
		before := m.Current()
		if err := m.Transition(tt.to); err == nil {
			t.Errorf("Transition(%s -> %s) should fail", before, tt.to)
		}
		if m.Current() != before {
			t.Errorf("state = %s after rejected transition, want %s", m.Current(), before)
		}
	}
}

// A failed verification must pass through FAILED before landing in ANONYMOUS,
// so subscribers can tell a forced logout from a voluntary one.
func TestFailedVerificationPath(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	for _, s := range []State{Authenticating, Failed, Anonymous} {
		if err := m.Transition(s); err != nil {
			t.Fatal(err)
		}
	}

	want := []StatusChange{
		{From: Booting, To: Authenticating},
		{From: Authenticating, To: Failed},
		{From: Failed, To: Anonymous},
	}
	for i, w := range want {
		select {
		case evt := <-ch:
			if evt.Kind != bus.KindStatusChanged {
				t.Fatalf("event %d kind = %q, want %s", i, evt.Kind, bus.KindStatusChanged)
			}
			change, ok := evt.Payload.(StatusChange)
			if !ok {
				t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
			}
			if change != w {
				t.Errorf("event %d = %v, want %v", i, change, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}
