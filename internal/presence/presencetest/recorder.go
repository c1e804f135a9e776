// Package presencetest provides a recording Pusher/Broadcaster for tests
// of the components that sit on top of the presence registry.
package presencetest

import (
	"context"
	"errors"
	"sync"

	"github.com/lalith-99/echolink/internal/events"
)

// ErrDead is returned by Push for connections marked with Kill.
var ErrDead = errors.New("connection dead")

// Pushed is one recorded push.
type Pushed struct {
	ConnID string
	Event  events.Event
}

// Recorder captures every push and broadcast in order.
type Recorder struct {
	mu         sync.Mutex
	pushes     []Pushed
	broadcasts []events.Event
	dead       map[string]bool
}

func NewRecorder() *Recorder {
	return &Recorder{dead: make(map[string]bool)}
}

func (r *Recorder) Push(_ context.Context, connID string, evt events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead[connID] {
		return ErrDead
	}
	r.pushes = append(r.pushes, Pushed{ConnID: connID, Event: evt})
	return nil
}

func (r *Recorder) Broadcast(_ context.Context, evt events.Event) {
	r.mu.Lock()
	r.broadcasts = append(r.broadcasts, evt)
	r.mu.Unlock()
}

// Kill makes every later push to connID fail, simulating a socket that
// died after the presence lookup.
func (r *Recorder) Kill(connID string) {
	r.mu.Lock()
	r.dead[connID] = true
	r.mu.Unlock()
}

// Pushes returns a copy of all recorded pushes.
func (r *Recorder) Pushes() []Pushed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Pushed(nil), r.pushes...)
}

// PushesTo returns the events pushed to one connection.
func (r *Recorder) PushesTo(connID string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, p := range r.pushes {
		if p.ConnID == connID {
			out = append(out, p.Event)
		}
	}
	return out
}

// PushesOfType returns pushes of one event type, any connection.
func (r *Recorder) PushesOfType(eventType string) []Pushed {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Pushed
	for _, p := range r.pushes {
		if p.Event.Type == eventType {
			out = append(out, p)
		}
	}
	return out
}

func (r *Recorder) Broadcasts() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.broadcasts...)
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.pushes = nil
	r.broadcasts = nil
	r.mu.Unlock()
}
