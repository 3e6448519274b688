package blivedm

import (
	"errors"
	"testing"
)

func TestCommandMux_Routes(t *testing.T) {
	m := NewCommandMux()
	var got []string
	if err := m.HandleFunc("DANMU_MSG", func(c *Client, cmd Command) { got = append(got, "danmu") }); err != nil {
		t.Fatalf("HandleFunc() error: %v", err)
	}
	m.Default = func(c *Client, cmd Command) { got = append(got, "default:"+cmd.Tag) }

	m.Handle(nil, Command{Tag: "DANMU_MSG"})
	m.Handle(nil, Command{Tag: "SEND_GIFT"})

	if len(got) != 2 || got[0] != "danmu" || got[1] != "default:SEND_GIFT" {
		t.Errorf("got %v, want [danmu default:SEND_GIFT]", got)
	}
}

func TestCommandMux_UnknownWithoutDefault(t *testing.T) {
	m := NewCommandMux()
	// Must not panic.
	m.Handle(nil, Command{Tag: "WHATEVER"})
}

func TestCommandMux_DuplicateRegistration(t *testing.T) {
	m := NewCommandMux()
	fn := func(c *Client, cmd Command) {}

	if err := m.HandleFunc("SEND_GIFT", fn); err != nil {
		t.Fatalf("first HandleFunc() error: %v", err)
	}
	if err := m.HandleFunc("SEND_GIFT", fn); err == nil {
		t.Fatal("second HandleFunc() for the same tag should fail")
	}
}

func TestCommandMux_NilFunc(t *testing.T) {
	if err := NewCommandMux().HandleFunc("X", nil); err == nil {
		t.Fatal("HandleFunc() should reject a nil function")
	}
}

func TestCommandMux_Stopped(t *testing.T) {
	m := NewCommandMux()
	var got error
	m.Stopped = func(c *Client, err error) { got = err }

	want := errors.New("boom")
	m.OnStoppedByException(nil, want)
	if got != want {
		t.Errorf("Stopped got %v, want %v", got, want)
	}
}

func TestHandlerList_SetReplacesAddAppends(t *testing.T) {
	var l handlerList
	a, b, c := HandlerFuncs{}, HandlerFuncs{}, HandlerFuncs{}

	l.add(a)
	l.add(b)
	if n := len(l.snapshot()); n != 2 {
		t.Fatalf("after two adds got %d handlers, want 2", n)
	}

	l.set(c)
	if n := len(l.snapshot()); n != 1 {
		t.Fatalf("set should replace all handlers, got %d", n)
	}

	l.add(nil)
	if n := len(l.snapshot()); n != 1 {
		t.Errorf("adding nil should be ignored, got %d handlers", n)
	}

	l.set(nil)
	if n := len(l.snapshot()); n != 0 {
		t.Errorf("set(nil) should clear handlers, got %d", n)
	}
}
