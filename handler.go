package blivedm

import (
	"fmt"
	"sync"
)

// Handler receives the commands of a client.
//
// Handle is called on the client's receive goroutine in wire order, so a slow
// handler delays further frames of that client only.
type Handler interface {
	Handle(c *Client, cmd Command)

	// OnStoppedByException is called once when the client stops because of an
	// unrecoverable error. Calling c.Start() from here resumes the client.
	OnStoppedByException(c *Client, err error)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are ignored.
type HandlerFuncs struct {
	OnCommand func(c *Client, cmd Command)
	OnStopped func(c *Client, err error)
}

func (h HandlerFuncs) Handle(c *Client, cmd Command) {
	if h.OnCommand != nil {
		h.OnCommand(c, cmd)
	}
}

func (h HandlerFuncs) OnStoppedByException(c *Client, err error) {
	if h.OnStopped != nil {
		h.OnStopped(c, err)
	}
}

// handlerList is the ordered set of handlers registered on a client.
type handlerList struct {
	mu       sync.RWMutex
	handlers []Handler
}

func (l *handlerList) set(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h == nil {
		l.handlers = nil
		return
	}
	l.handlers = []Handler{h}
}

func (l *handlerList) add(h Handler) {
	if h == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

func (l *handlerList) snapshot() []Handler {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.handlers
}

// CommandFunc handles one command.
type CommandFunc func(c *Client, cmd Command)

// CommandMux is a Handler that routes commands by tag. Commands whose tag has
// no registered function go to Default, if set.
type CommandMux struct {
	// Default receives commands with an unregistered tag.
	Default CommandFunc

	// Stopped is called from OnStoppedByException.
	Stopped func(c *Client, err error)

	mu       sync.RWMutex
	handlers map[string]CommandFunc // tag → handler
}

// NewCommandMux creates an empty CommandMux.
func NewCommandMux() *CommandMux {
	return &CommandMux{
		handlers: make(map[string]CommandFunc),
	}
}

// HandleFunc registers fn for the given tag.
func (m *CommandMux) HandleFunc(tag string, fn CommandFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fn == nil {
		return fmt.Errorf("nil handler for command %q", tag)
	}
	if _, exists := m.handlers[tag]; exists {
		return fmt.Errorf("handler already registered for command %q", tag)
	}
	m.handlers[tag] = fn
	return nil
}

func (m *CommandMux) lookup(tag string) (CommandFunc, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.handlers[tag]
	return fn, ok
}

// Handle implements Handler.
func (m *CommandMux) Handle(c *Client, cmd Command) {
	if fn, ok := m.lookup(cmd.Tag); ok {
		fn(c, cmd)
		return
	}
	if m.Default != nil {
		m.Default(c, cmd)
	}
}

// OnStoppedByException implements Handler.
func (m *CommandMux) OnStoppedByException(c *Client, err error) {
	if m.Stopped != nil {
		m.Stopped(c, err)
	}
}
